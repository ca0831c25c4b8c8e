package threadring

import (
	"context"
	"sync"
	"sync/atomic"

	"golang.org/x/exp/slices"
)

// futex is a 32-bit word that goroutines can block on until another goroutine changes it and
// calls wake.
//
// The word itself is only ever accessed atomically. The mutex protects the list of parked
// waiters, and the comparison in wait is made while holding it, so a store followed by a wake
// can't slip between a waiter's check and its parking.
type futex struct {
	word atomic.Uint32

	mu      sync.Mutex
	waiters []chan struct{}
}

func (f *futex) load() uint32 {
	return f.word.Load()
}

func (f *futex) store(v uint32) {
	f.word.Store(v)
}

// cas sets the word to new if it currently holds old, returning the value it held before the
// call. The swap happened iff the returned value equals old.
func (f *futex) cas(old, new uint32) (prev uint32) {
	for {
		cur := f.word.Load()
		if cur != old {
			return cur
		}
		if f.word.CompareAndSwap(old, new) {
			return old
		}
	}
}

// wait blocks while the word equals cmp, until woken by wake or until ctx is done.
//
// Returning nil doesn't mean the value changed: callers must re-check the word. The error is only
// ever ctx.Err().
func (f *futex) wait(ctx context.Context, cmp uint32) error {
	f.mu.Lock()
	if f.word.Load() != cmp {
		f.mu.Unlock()
		return nil
	}

	ch := make(chan struct{})
	f.waiters = append(f.waiters, ch)
	f.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		f.mu.Lock()
		defer f.mu.Unlock()

		idx := slices.Index(f.waiters, ch)
		if idx == -1 {
			// a concurrent wake already picked us; take the wakeup so it isn't lost
			return nil
		}
		f.waiters = slices.Delete(f.waiters, idx, idx+1)
		return ctx.Err()
	}
}

// wake unparks up to n waiters, returning the number woken. n < 0 wakes all of them.
func (f *futex) wake(n int) int {
	f.mu.Lock()
	defer f.mu.Unlock()

	if n < 0 || n > len(f.waiters) {
		n = len(f.waiters)
	}

	for _, ch := range f.waiters[:n] {
		close(ch)
	}
	f.waiters = slices.Delete(f.waiters, 0, n)
	return n
}
