package threadring

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestListLockReentrant(t *testing.T) {
	t.Parallel()

	var l ListLock
	g1 := l.Acquire(1)
	g2 := l.Acquire(1)
	require.Equal(t, ThreadID(1), l.Owner())
	require.True(t, g1.Held())
	require.True(t, g2.Held())

	_, ok := l.TryAcquire(2)
	require.False(t, ok)

	g2.Release()
	require.True(t, l.HeldBy(1))
	require.False(t, g2.Held())

	g1.Release()
	require.Equal(t, noThread, l.Owner())
	require.False(t, l.HeldBy(1))

	g3, ok := l.TryAcquire(2)
	require.True(t, ok)
	require.True(t, l.HeldBy(2))
	g3.Release()
}

func TestListLockMisuse(t *testing.T) {
	t.Parallel()

	var l ListLock
	require.Panics(t, func() { l.Acquire(noThread) })
	require.Panics(t, func() { l.TryAcquire(noThread) })

	g := l.Acquire(4)
	g.Release()
	require.Panics(t, func() { g.Release() })
	require.Equal(t, noThread, l.Owner())
}

func TestListLockWakesWaiter(t *testing.T) {
	t.Parallel()

	var l ListLock
	g := l.Acquire(1)

	acquired := make(chan struct{})
	go func() {
		g2 := l.Acquire(2)
		close(acquired)
		g2.Release()
	}()

	require.Eventually(t, func() bool { return l.waiters.Load() == 1 }, 5*time.Second, time.Millisecond)
	select {
	case <-acquired:
		t.Fatal("second thread acquired a held lock")
	default:
	}

	g.Release()
	<-acquired
	require.Eventually(t, func() bool { return l.Owner() == noThread }, 5*time.Second, time.Millisecond)
	require.Zero(t, l.waiters.Load())
}

func TestListLockMutualExclusion(t *testing.T) {
	t.Parallel()

	const (
		threads = 16
		rounds  = 500
	)

	var l ListLock
	var inside atomic.Int32
	var total int // only touched while holding l

	var wg sync.WaitGroup
	for i := 1; i <= threads; i += 1 {
		id := ThreadID(i)
		wg.Add(1)
		go func() {
			defer wg.Done()
			for r := 0; r < rounds; r += 1 {
				g := l.Acquire(id)
				if n := inside.Add(1); n != 1 {
					panic("two threads inside the list lock")
				}
				nested := l.Acquire(id)
				total += 1
				nested.Release()
				if !l.HeldBy(id) {
					panic("lock lost after nested release")
				}
				inside.Add(-1)
				g.Release()
			}
		}()
	}
	wg.Wait()

	require.Equal(t, threads*rounds, total)
	require.Equal(t, noThread, l.Owner())
}

func TestListLockReleaseAll(t *testing.T) {
	t.Parallel()

	var l ListLock
	require.Zero(t, l.releaseAll(1))

	outer := l.Acquire(1)
	inner := l.Acquire(1)
	innermost := l.Acquire(1)

	require.Equal(t, 3, l.releaseAll(1))
	require.Equal(t, noThread, l.Owner())
	require.False(t, outer.Held())

	// another thread takes the lock; the dropped guards must not disturb it
	other := l.Acquire(2)
	innermost.Release()
	inner.Release()
	outer.Release()
	require.True(t, other.Held())
	require.Equal(t, ThreadID(2), l.Owner())

	other.Release()
	require.Equal(t, noThread, l.Owner())
}
