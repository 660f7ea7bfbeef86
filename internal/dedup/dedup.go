// Package dedup coalesces concurrent identical fetches onto one execution.
package dedup

import (
	"context"
	"sync"
	"time"

	platformerrors "github.com/jmgilman/go/errors"
	"golang.org/x/sync/singleflight"
)

// DefaultWindow is how long a finished result keeps answering callers.
const DefaultWindow = 100 * time.Millisecond

type outcome struct {
	val any
	err error
}

// Deduplicator runs at most one fn per key at a time. Callers that arrive
// while it runs, or within the grace window after it finished, get the
// same value or error.
type Deduplicator struct {
	window time.Duration

	mu     sync.Mutex
	group  singleflight.Group
	recent map[string]*outcome
}

// New returns a Deduplicator. window <= 0 disables the grace window.
func New(window time.Duration) *Deduplicator {
	return &Deduplicator{window: window, recent: make(map[string]*outcome)}
}

// Do executes fn once for all concurrent callers of key. The shared
// execution is detached from any single caller's cancellation; a caller
// whose ctx ends stops waiting and gets ctx.Err().
func (d *Deduplicator) Do(ctx context.Context, key string, fn func(context.Context) (any, error)) (v any, err error, shared bool) {
	d.mu.Lock()
	if o, ok := d.recent[key]; ok {
		d.mu.Unlock()
		return o.val, o.err, true
	}
	runCtx := context.WithoutCancel(ctx)
	ch := d.group.DoChan(key, func() (any, error) {
		v, err := safely(runCtx, key, fn)
		d.remember(key, v, err)
		return v, err
	})
	d.mu.Unlock()

	select {
	case res := <-ch:
		return res.Val, res.Err, res.Shared
	case <-ctx.Done():
		return nil, ctx.Err(), false
	}
}

// safely runs fn, turning a panic into an error. singleflight re-panics
// on a fresh goroutine, which no caller could recover.
func safely(ctx context.Context, key string, fn func(context.Context) (any, error)) (v any, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			v, err = nil, platformerrors.Newf(platformerrors.CodeInternal, "%s: panic: %v", key, rec)
		}
	}()
	return fn(ctx)
}

// remember keeps the outcome for the grace window. It runs before the
// singleflight key is released, so no caller can slip in between.
func (d *Deduplicator) remember(key string, v any, err error) {
	if d.window <= 0 {
		return
	}
	o := &outcome{val: v, err: err}
	d.mu.Lock()
	d.recent[key] = o
	d.mu.Unlock()
	time.AfterFunc(d.window, func() {
		d.mu.Lock()
		if d.recent[key] == o {
			delete(d.recent, key)
		}
		d.mu.Unlock()
	})
}

// Forget drops key from the grace window and from in-flight tracking;
// the next caller starts a fresh execution.
func (d *Deduplicator) Forget(key string) {
	d.mu.Lock()
	delete(d.recent, key)
	d.group.Forget(key)
	d.mu.Unlock()
}

// Do is the typed form of Deduplicator.Do. A nil Deduplicator just calls
// fn.
func Do[T any](ctx context.Context, d *Deduplicator, key string, fn func(context.Context) (T, error)) (T, error) {
	if d == nil {
		return fn(ctx)
	}
	v, err, _ := d.Do(ctx, key, func(ctx context.Context) (any, error) {
		return fn(ctx)
	})
	out, _ := v.(T)
	return out, err
}
