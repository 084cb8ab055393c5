package session

import (
	"context"
	"sync"

	"github.com/fyrsmithlabs/voiced/internal/audio"
)

// coalesce keeps a single pending value between reads. A burst of values
// while the consumer is busy collapses to the newest one.
func coalesce[T any](ctx context.Context, in <-chan T) <-chan T {
	out := make(chan T)
	go func() {
		defer close(out)
		var pending *T
		for {
			var send chan T
			if pending != nil {
				send = out
			}
			select {
			case <-ctx.Done():
				return
			case v, ok := <-in:
				if !ok {
					return
				}
				pending = &v
			case send <- deref(pending):
				pending = nil
			}
		}
	}()
	return out
}

func deref[T any](p *T) T {
	if p == nil {
		var zero T
		return zero
	}
	return *p
}

// frameRouter forwards the live frame stream to whichever consumer the
// session is in: wake scoring while listening, window collection while
// capturing. Sends never block; a slow consumer loses frames, not time.
type frameRouter struct {
	defaultSink chan<- audio.Frame
	done        chan struct{}

	mu   sync.Mutex
	sink chan<- audio.Frame
}

func newFrameRouter(defaultSink chan<- audio.Frame) *frameRouter {
	return &frameRouter{
		defaultSink: defaultSink,
		done:        make(chan struct{}),
		sink:        defaultSink,
	}
}

// setSink redirects frames. A nil sink restores the default.
func (r *frameRouter) setSink(sink chan<- audio.Frame) {
	r.mu.Lock()
	if sink == nil {
		r.sink = r.defaultSink
	} else {
		r.sink = sink
	}
	r.mu.Unlock()
}

// run forwards frames until the source closes or ctx is cancelled. done is
// closed on exit so the session can tell a dead stream from a quiet one.
func (r *frameRouter) run(ctx context.Context, frames <-chan audio.Frame) {
	defer close(r.done)
	defer func() {
		if r.defaultSink != nil {
			close(r.defaultSink)
		}
	}()
	for {
		select {
		case <-ctx.Done():
			return
		case f, ok := <-frames:
			if !ok {
				return
			}
			r.mu.Lock()
			sink := r.sink
			r.mu.Unlock()
			if sink == nil {
				continue
			}
			select {
			case sink <- f:
			default:
			}
		}
	}
}
