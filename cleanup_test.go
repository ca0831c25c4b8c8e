package threadring_test

import (
	"context"
	"runtime"
	"sync"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"

	"github.com/sharnoff/threadring"
)

// history records cleanup invocations. Cleanups run on thread goroutines, so it's locked.
type history struct {
	mu  sync.Mutex
	got []string
}

func (h *history) record(arg any) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.got = append(h.got, arg.(string))
}

func (h *history) get() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.got...)
}

// runChild runs body on a single child thread of a fresh runtime and returns the child after the
// runtime's goroutines have all finished.
func runChild(
	t *testing.T,
	body threadring.StartRoutine,
	opts ...threadring.Option,
) (*threadring.Runtime, *threadring.Thread) {
	t.Helper()

	var child *threadring.Thread
	rt, _ := inMainThread(t, func(rt *threadring.Runtime, main *threadring.Thread) {
		var err error
		child, err = main.Create(body, nil, threadring.Attr{Name: "child"})
		if err != nil {
			panic(err)
		}
		_, _ = child.Join(context.Background())
	}, opts...)
	return rt, child
}

// countingRegistrar counts registrations, optionally failing the first few, and forwards the rest
// to ExitHooks.
type countingRegistrar struct {
	mu       sync.Mutex
	attempts int
	failures int
}

func (r *countingRegistrar) RegisterOnExit(t *threadring.Thread, fn func(any), arg any) error {
	r.mu.Lock()
	r.attempts += 1
	fail := r.attempts <= r.failures
	r.mu.Unlock()

	if fail {
		return errors.New("no exit hook slots")
	}
	return threadring.ExitHooks{}.RegisterOnExit(t, fn, arg)
}

func (r *countingRegistrar) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.attempts
}

func TestCleanupOrdering(t *testing.T) {
	t.Parallel()

	var h history
	var pending int
	_, child := runChild(t, func(self *threadring.Thread, _ any) any {
		self.PushCleanup(h.record, "A")
		self.PushCleanup(h.record, "B")
		self.PushCleanup(h.record, "C")
		pending = self.PendingCleanups()
		return "done"
	})

	require.Equal(t, 3, pending)
	require.Equal(t, []string{"C", "B", "A"}, h.get())

	result, err := child.Join(context.Background())
	require.NoError(t, err)
	require.Equal(t, "done", result)
}

func TestCleanupPoppedNeverFires(t *testing.T) {
	t.Parallel()

	var h history
	var pendingAfterPop, pendingInScope, pendingAfterScope int
	runChild(t, func(self *threadring.Thread, _ any) any {
		self.PushCleanup(h.record, "A")
		b := self.PushCleanup(h.record, "B")
		self.PopCleanup(b)
		pendingAfterPop = self.PendingCleanups()

		self.WithCleanup(h.record, "scoped", func() {
			self.PopCleanup(self.PushCleanup(h.record, "C"))
			pendingInScope = self.PendingCleanups()
		})
		pendingAfterScope = self.PendingCleanups()
		return nil
	})

	require.Equal(t, 1, pendingAfterPop)
	require.Equal(t, 2, pendingInScope)
	require.Equal(t, 1, pendingAfterScope)
	require.Equal(t, []string{"A"}, h.get())
}

func TestCleanupScopeExitRunsIt(t *testing.T) {
	t.Parallel()

	var h history
	_, child := runChild(t, func(self *threadring.Thread, _ any) any {
		self.PushCleanup(h.record, "outer")
		self.WithCleanup(h.record, "scoped", func() {
			self.Exit("from scope")
		})
		panic("unreachable")
	})

	require.Equal(t, []string{"scoped", "outer"}, h.get())
	result, err := child.Join(context.Background())
	require.NoError(t, err)
	require.Equal(t, "from scope", result)
}

func TestCleanupPopNotTop(t *testing.T) {
	t.Parallel()

	var h history
	var popErr error
	runChild(t, func(self *threadring.Thread, _ any) any {
		a := self.PushCleanup(h.record, "A")
		self.PushCleanup(h.record, "B")

		func() {
			defer func() {
				popErr, _ = recover().(error)
			}()
			self.PopCleanup(a)
		}()
		return nil
	})

	require.True(t, errors.HasAssertionFailure(popErr), "%v", popErr)
	// the failed pop changed nothing
	require.Equal(t, []string{"B", "A"}, h.get())
}

func TestCleanupPushedDuringDrain(t *testing.T) {
	t.Parallel()

	var h history
	runChild(t, func(self *threadring.Thread, _ any) any {
		self.PushCleanup(h.record, "A")
		self.PushCleanup(func(arg any) {
			h.record(arg)
			self.PushCleanup(h.record, "late")
		}, "B")
		return nil
	})

	require.Equal(t, []string{"B", "late", "A"}, h.get())
}

func TestCleanupHookRegisteredOnce(t *testing.T) {
	t.Parallel()

	registrar := &countingRegistrar{}
	var h history
	runChild(t, func(self *threadring.Thread, _ any) any {
		for _, name := range []string{"A", "B", "C", "D"} {
			self.PushCleanup(h.record, name)
		}
		self.PopCleanup(self.PushCleanup(h.record, "E"))
		return nil
	}, threadring.WithExitRegistrar(registrar))

	require.Equal(t, 1, registrar.count())
	require.Equal(t, []string{"D", "C", "B", "A"}, h.get())
}

func TestCleanupHookRegistrationRetried(t *testing.T) {
	t.Parallel()

	registrar := &countingRegistrar{failures: 2}
	var counts []int
	var h history
	runChild(t, func(self *threadring.Thread, _ any) any {
		for _, name := range []string{"A", "B", "C", "D"} {
			self.PushCleanup(h.record, name)
			counts = append(counts, registrar.count())
		}
		// leave without Exit, so the drain depends on the registered hook
		runtime.Goexit()
		return nil
	}, threadring.WithExitRegistrar(registrar))

	require.Equal(t, []int{1, 2, 3, 3}, counts)
	require.Equal(t, []string{"D", "C", "B", "A"}, h.get())
}

func TestCleanupDrainedWithoutExit(t *testing.T) {
	t.Parallel()

	var h history
	rt, child := runChild(t, func(self *threadring.Thread, _ any) any {
		self.PushCleanup(h.record, "A")
		self.PushCleanup(h.record, "B")
		runtime.Goexit()
		return "unreachable"
	})

	require.Equal(t, []string{"B", "A"}, h.get())
	require.Equal(t, threadring.StateReaped, child.State())
	require.Equal(t, 1, rt.Len())

	result, err := child.Join(context.Background())
	require.NoError(t, err)
	require.Nil(t, result)
}

func TestCleanupPanicAbortsDrain(t *testing.T) {
	t.Parallel()

	var h history
	var child *threadring.Thread
	var rt *threadring.Runtime
	pool := &threadring.Goroutines{}

	// the panic is re-raised by the pool once every goroutine has finished
	require.Panics(t, func() {
		inMainThreadWith(t, pool, func(r *threadring.Runtime, main *threadring.Thread) {
			rt = r

			var err error
			child, err = main.Create(func(self *threadring.Thread, _ any) any {
				self.PushCleanup(h.record, "A")
				self.PushCleanup(func(any) { panic("cleanup failed") }, nil)
				self.PushCleanup(h.record, "C")
				return "unreachable result"
			}, nil, threadring.Attr{})
			if err != nil {
				panic(err)
			}
			_, _ = child.Join(context.Background())
		})
	})

	// A is never run, not even by the exit hook
	require.Equal(t, []string{"C"}, h.get())
	require.Equal(t, 1, rt.Len())
	require.NoError(t, rt.Check())

	result, err := child.Join(context.Background())
	require.NoError(t, err)
	require.Nil(t, result)
}

func TestCleanupSelfOnly(t *testing.T) {
	t.Parallel()

	_, child := runChild(t, func(*threadring.Thread, any) any { return nil })

	require.Panics(t, func() { child.PushCleanup(func(any) {}, nil) })
	require.Panics(t, func() { child.PendingCleanups() })
}
