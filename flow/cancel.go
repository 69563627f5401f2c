package flow

import (
	"context"
	"sync"
	"sync/atomic"
)

// CancelToken is the cancellation handle of one run. The caller owns it; the
// transport aborts its request through Context and the Store checks
// Cancelled before applying each event.
//
// Cancel is idempotent and safe to call from any goroutine, including from
// inside an observer callback.
type CancelToken struct {
	parent    context.Context
	ctx       context.Context
	cancel    context.CancelFunc
	once      sync.Once
	cancelled atomic.Bool
}

// NewCancelToken derives a token from parent. A parent that ends (cancel or
// deadline) counts as a cancellation of the run.
func NewCancelToken(parent context.Context) *CancelToken {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)
	return &CancelToken{parent: parent, ctx: ctx, cancel: cancel}
}

// Cancel requests cancellation. Only the first call has an effect.
func (t *CancelToken) Cancel() {
	t.once.Do(func() {
		t.cancelled.Store(true)
		t.cancel()
	})
}

// Cancelled reports whether cancellation was requested, either through
// Cancel or by the parent context ending.
func (t *CancelToken) Cancelled() bool {
	if t.cancelled.Load() {
		return true
	}
	if t.parent.Err() != nil {
		t.cancelled.Store(true)
		return true
	}
	return false
}

// Context is cancelled when the token is.
func (t *CancelToken) Context() context.Context {
	return t.ctx
}

// release frees the context resources once the run is over. It does not
// mark the token cancelled.
func (t *CancelToken) release() {
	t.cancel()
}
