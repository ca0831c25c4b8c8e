package threadring

import (
	"context"

	"github.com/cockroachdb/errors"
)

// Canceled is the result of a thread that exited because it was canceled. See [Thread.TestCancel].
var Canceled = errors.New("thread canceled")

// Cancel requests that t exit. Cancellation is cooperative: t's [Thread.Context] is canceled,
// and t exits the next time it calls [Thread.TestCancel].
//
// Cancel may be called from any goroutine, any number of times.
func (t *Thread) Cancel() {
	if t.cancelRequested.Swap(true) {
		return
	}
	t.logger.Debug("thread cancel requested")
	t.cancel()
}

// Context returns a context that's canceled when t is canceled or leaves the ring.
func (t *Thread) Context() context.Context {
	return t.ctx
}

// CancelRequested returns whether [Thread.Cancel] has been called on t.
func (t *Thread) CancelRequested() bool {
	return t.cancelRequested.Load()
}

// TestCancel exits the thread with result [Canceled] if cancellation has been requested.
// Otherwise it does nothing.
//
// Self only.
func (t *Thread) TestCancel() {
	t.assertSelf("TestCancel")
	if t.cancelRequested.Load() {
		t.logger.Debug("thread honoring cancel request")
		t.Exit(Canceled)
	}
}
