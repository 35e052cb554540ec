// Package gls provides goroutine-local storage, used by the tasklet runtime
// to implement the "current thread's run queue target" binding described by
// the run queue API: each worker goroutine calls tasklet.SetTarget once and
// every later/enqueue call from that same goroutine resolves it implicitly.
//
// This is the same kind of lookup the ecosystem's goroutineid-style helpers
// provide; we keep our own tiny copy rather than taking on a dependency for
// a handful of lines, since none of the retrieved goroutine-id packages
// shipped a stable exported API to import here.
package gls

import (
	"bytes"
	"runtime"
	"strconv"
	"sync"
)

func goroutineID() int64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	b := buf[:n]
	b = bytes.TrimPrefix(b, []byte("goroutine "))
	if i := bytes.IndexByte(b, ' '); i >= 0 {
		b = b[:i]
	}
	id, err := strconv.ParseInt(string(b), 10, 64)
	if err != nil {
		panic("gls: could not parse goroutine id: " + err.Error())
	}
	return id
}

// Slot holds at most one value of T per goroutine.
type Slot[T any] struct {
	mu sync.RWMutex
	m  map[int64]T
}

// NewSlot returns an empty goroutine-local slot.
func NewSlot[T any]() *Slot[T] {
	return &Slot[T]{m: make(map[int64]T)}
}

// Set binds v to the calling goroutine.
func (s *Slot[T]) Set(v T) {
	id := goroutineID()
	s.mu.Lock()
	s.m[id] = v
	s.mu.Unlock()
}

// Clear removes any binding for the calling goroutine.
func (s *Slot[T]) Clear() {
	id := goroutineID()
	s.mu.Lock()
	delete(s.m, id)
	s.mu.Unlock()
}

// Get returns the value bound to the calling goroutine, if any.
func (s *Slot[T]) Get() (T, bool) {
	id := goroutineID()
	s.mu.RLock()
	v, ok := s.m[id]
	s.mu.RUnlock()
	return v, ok
}
