package gls

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSlotPerGoroutine(t *testing.T) {
	s := NewSlot[int]()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Set(i)
			v, ok := s.Get()
			require.True(t, ok)
			require.Equal(t, i, v)
		}()
	}
	wg.Wait()
}

func TestSlotGetMissing(t *testing.T) {
	s := NewSlot[string]()
	_, ok := s.Get()
	require.False(t, ok)
}

func TestSlotClear(t *testing.T) {
	s := NewSlot[int]()
	s.Set(42)
	v, ok := s.Get()
	require.True(t, ok)
	require.Equal(t, 42, v)

	s.Clear()
	_, ok = s.Get()
	require.False(t, ok)
}
