package threadring

import (
	"context"

	"github.com/cockroachdb/errors"
)

// Done returns a channel that's closed once t has left the ring.
func (t *Thread) Done() <-chan struct{} {
	return t.done
}

// Join waits for t to exit, returning its result, or returns early with ctx.Err() if the context
// is canceled.
//
// If the context is already canceled when Join is called, this method will always return the
// context's error. A thread that panics or calls [runtime.Goexit] without exiting has a nil
// result; a thread that exits through [Thread.TestCancel] has the result [Canceled].
//
// Join returns [ErrDeadlock] if t is the calling thread.
func (t *Thread) Join(ctx context.Context) (any, error) {
	if t.rt.Self() == t {
		return nil, errors.Wrapf(ErrDeadlock, "%s joining itself", t)
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-t.done:
			return t.result, nil
		}
	}
}

// Exited returns whether t has left the ring, i.e. if joining will immediately complete.
func (t *Thread) Exited() bool {
	return isClosed(t.done)
}
