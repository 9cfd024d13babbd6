// Package cancel implements a hierarchical cooperative cancellation
// primitive. It is a thin wrapper over context.Context that adds
// an explicit child() hierarchy and a non-blocking check() for the
// check-before-work style the cycle loop uses.
package cancel

import "context"

// Token is a cancellable node in a cancellation hierarchy. Cancelling a
// parent Token cancels every descendant created via Child.
type Token struct {
	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a root Token derived from ctx.
func New(ctx context.Context) *Token {
	c, cancel := context.WithCancel(ctx)
	return &Token{ctx: c, cancel: cancel}
}

// Cancel cancels this token and all of its children. Calling Cancel more
// than once is a no-op after the first call.
func (t *Token) Cancel() {
	t.cancel()
}

// Check reports whether the token has been cancelled, without blocking.
func (t *Token) Check() bool {
	select {
	case <-t.ctx.Done():
		return true
	default:
		return false
	}
}

// Done returns a channel closed when the token is cancelled, for use in
// select statements alongside other blocking operations.
func (t *Token) Done() <-chan struct{} {
	return t.ctx.Done()
}

// Err returns the reason the token was cancelled, or nil if still active.
func (t *Token) Err() error {
	return t.ctx.Err()
}

// Context returns the underlying context, for passing to operations that
// accept a context.Context directly (chat client calls, tool handlers).
func (t *Token) Context() context.Context {
	return t.ctx
}

// Child creates a descendant Token. The child is cancelled whenever the
// parent cancels, but cancelling the child never affects the parent.
func (t *Token) Child() *Token {
	return New(t.ctx)
}
