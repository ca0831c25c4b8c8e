package threadring

import (
	"runtime"
	"sync/atomic"

	"github.com/cockroachdb/errors"
	"github.com/sourcegraph/conc"
)

// Spawner starts the execution context for a new thread.
//
// Spawn must arrange for run to be called on a new goroutine, and must not return nil unless it
// has done so. run may be called before Spawn returns.
type Spawner interface {
	Spawn(attr Attr, run func()) error
}

// Terminator ends the execution context of an exiting thread. Terminate is called from the
// thread's own goroutine at the end of [Thread.Exit], and must not return.
type Terminator interface {
	Terminate(result any)
}

// ExitRegistrar arranges for fn(arg) to be called once t's goroutine ends, whichever way it ends.
//
// RegisterOnExit is only called by t itself.
type ExitRegistrar interface {
	RegisterOnExit(t *Thread, fn func(arg any), arg any) error
}

// ExitHooks is the default [ExitRegistrar]. Hooks are kept on the thread and called, oldest
// first, as the last thing its goroutine does.
type ExitHooks struct{}

func (ExitHooks) RegisterOnExit(t *Thread, fn func(arg any), arg any) error {
	t.assertSelf("RegisterOnExit")
	t.exitHooks = append(t.exitHooks, exitHook{fn: fn, arg: arg})
	return nil
}

// Goroutines is the default [Spawner] and [Terminator]: each thread gets its own goroutine, and
// terminating a thread is [runtime.Goexit].
//
// The zero value is ready to use.
type Goroutines struct {
	// MaxLive, if non-zero, limits the number of goroutines running at once. Spawning beyond it
	// fails with [ErrResourceExhausted].
	MaxLive int

	wg   conc.WaitGroup
	live atomic.Int64
}

func (p *Goroutines) Spawn(_ Attr, run func()) error {
	for {
		n := p.live.Load()
		if p.MaxLive > 0 && n >= int64(p.MaxLive) {
			return errors.Wrapf(ErrResourceExhausted, "%d of %d goroutines running", n, p.MaxLive)
		}
		if p.live.CompareAndSwap(n, n+1) {
			break
		}
	}

	p.wg.Go(func() {
		defer p.live.Add(-1)
		run()
	})
	return nil
}

func (p *Goroutines) Terminate(any) {
	runtime.Goexit()
}

// Live returns the number of goroutines started by p that haven't finished.
func (p *Goroutines) Live() int {
	return int(p.live.Load())
}

// Wait blocks until every goroutine started by p has finished. If any of them panicked, Wait
// panics with the first of those panics.
func (p *Goroutines) Wait() {
	p.wg.Wait()
}
