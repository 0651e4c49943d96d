package notify

import (
	"context"
	"sync"
	"time"
)

// UnfloodDisabled turns flood control off.
const UnfloodDisabled time.Duration = -1

// floodController spaces out Notify calls.
//
// With unflood disabled every push goes straight through. Otherwise a push
// goes through immediately only when nothing is in flight and nothing is
// queued; the others queue up. Each queued push waits for the next "ready"
// broadcast, then for unflood times its queue position, and tries again.
type floodController struct {
	clock   Clock
	metrics *Metrics

	mu       sync.Mutex
	unflood  time.Duration
	inflight int
	queued   int
	ready    chan struct{} // closed and replaced on every ready broadcast
	purged   chan struct{} // closed and replaced on every purge
	done     chan struct{} // closed on shutdown
	shutOnce sync.Once
}

func newFloodController(clock Clock, metrics *Metrics) *floodController {
	return &floodController{
		clock:   clock,
		metrics: metrics,
		unflood: UnfloodDisabled,
		ready:   make(chan struct{}),
		purged:  make(chan struct{}),
		done:    make(chan struct{}),
	}
}

func (f *floodController) setUnflood(d time.Duration) {
	if d < 0 {
		d = UnfloodDisabled
	}
	f.mu.Lock()
	f.unflood = d
	f.mu.Unlock()
}

func (f *floodController) getUnflood() time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.unflood
}

// admit blocks until the caller may issue its Notify call.
// The returned release func must be called once the call has completed,
// whatever its outcome.
func (f *floodController) admit(ctx context.Context) (release func(), err error) {
	for {
		f.mu.Lock()
		select {
		case <-f.done:
			f.mu.Unlock()
			return nil, ErrSessionDestroyed
		default:
		}

		if f.unflood < 0 {
			f.inflight++
			f.mu.Unlock()
			return f.releaser(false), nil
		}
		if f.inflight == 0 && f.queued == 0 {
			f.inflight++
			f.mu.Unlock()
			return f.releaser(true), nil
		}

		f.queued++
		delay := f.unflood * time.Duration(f.queued)
		ready, purged, done := f.ready, f.purged, f.done
		f.metrics.setQueued(f.queued)
		f.mu.Unlock()

		if err := f.wait(ctx, delay, ready, purged, done); err != nil {
			return nil, err
		}
	}
}

// wait parks a queued push until it should retry admission.
// A purge releases it at any point and stops its pending timer.
func (f *floodController) wait(ctx context.Context, delay time.Duration, ready, purged, done <-chan struct{}) error {
	select {
	case <-ready:
		f.dequeue()
	case <-purged:
		f.dequeue()
		return nil
	case <-done:
		f.dequeue()
		return ErrSessionDestroyed
	case <-ctx.Done():
		f.dequeue()
		return ctx.Err()
	}

	fired := make(chan struct{})
	t := f.clock.AfterFunc(delay, func() { close(fired) })
	select {
	case <-fired:
		return nil
	case <-purged:
		t.Stop()
		return nil
	case <-done:
		t.Stop()
		return ErrSessionDestroyed
	case <-ctx.Done():
		t.Stop()
		return ctx.Err()
	}
}

func (f *floodController) dequeue() {
	f.mu.Lock()
	f.queued--
	f.metrics.setQueued(f.queued)
	f.mu.Unlock()
}

func (f *floodController) releaser(emitReady bool) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			f.mu.Lock()
			defer f.mu.Unlock()
			f.inflight--
			if emitReady {
				close(f.ready)
				f.ready = make(chan struct{})
			}
		})
	}
}

// purge disables flood control and lets every queued push through now.
func (f *floodController) purge() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unflood = UnfloodDisabled
	close(f.purged)
	f.purged = make(chan struct{})
}

func (f *floodController) queueLen() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.queued
}

// shutdown releases every waiter with ErrSessionDestroyed.
func (f *floodController) shutdown() {
	f.shutOnce.Do(func() { close(f.done) })
}
