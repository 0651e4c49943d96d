package notify

import "sync"

type listener[T any] struct {
	id uint64
	fn func(T)
}

// emitter is a typed fan-out of events to subscribed handlers.
// Handlers run on the emitting goroutine, in subscription order, without
// any emitter lock held, so they are free to subscribe or unsubscribe.
//
// onFirst and onLast, when set, run on the 0->1 and 1->0 transitions of the
// listener count. They run under the emitter lock and must not call back
// into the same emitter.
type emitter[T any] struct {
	mu        sync.Mutex
	next      uint64
	listeners []listener[T]

	onFirst func()
	onLast  func()
}

func (e *emitter[T]) subscribe(fn func(T)) (unsubscribe func()) {
	e.mu.Lock()
	e.next++
	id := e.next
	e.listeners = append(e.listeners, listener[T]{id: id, fn: fn})
	if len(e.listeners) == 1 && e.onFirst != nil {
		e.onFirst()
	}
	e.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { e.remove(id) })
	}
}

func (e *emitter[T]) remove(id uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i, l := range e.listeners {
		if l.id != id {
			continue
		}
		e.listeners = append(e.listeners[:i:i], e.listeners[i+1:]...)
		if len(e.listeners) == 0 && e.onLast != nil {
			e.onLast()
		}
		return
	}
}

func (e *emitter[T]) emit(v T) {
	e.mu.Lock()
	snapshot := make([]listener[T], len(e.listeners))
	copy(snapshot, e.listeners)
	e.mu.Unlock()

	for _, l := range snapshot {
		l.fn(v)
	}
}

func (e *emitter[T]) count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.listeners)
}

// clear drops every listener.
func (e *emitter[T]) clear() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.listeners) == 0 {
		return
	}
	e.listeners = nil
	if e.onLast != nil {
		e.onLast()
	}
}
