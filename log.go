package tasklet

import "go.uber.org/zap"

// logger is the package-wide structured logger. It defaults to a no-op
// logger; embedders call SetLogger to route runtime diagnostics (poller
// backend errors, re-arm failures) into their own sinks.
var logger = zap.NewNop()

// SetLogger replaces the logger used for poller and watched-fd diagnostics.
// Pass nil to silence logging entirely.
func SetLogger(l *zap.Logger) {
	if l == nil {
		l = zap.NewNop()
	}
	logger = l
}

func logField(key string, value int) zap.Field {
	return zap.Int(key, value)
}

func logErr(err error) zap.Field {
	return zap.Error(err)
}
