// Package events provides a small synchronous observer registry.
//
// Handlers run on the emitting goroutine, in subscription order, after the
// emitter has finished mutating its own state. The registry lock is never
// held while a handler runs, so handlers may subscribe, unsubscribe or call
// back into the emitter.
package events

import "sync"

// Event is a multicast notification carrying a value of type T.
// The zero value is ready to use.
type Event[T any] struct {
	mu       sync.Mutex
	nextID   uint64
	handlers []handler[T]
}

type handler[T any] struct {
	id uint64
	fn func(T)
}

// Subscribe registers fn and returns a function that removes it again.
func (e *Event[T]) Subscribe(fn func(T)) (unsubscribe func()) {
	e.mu.Lock()
	e.nextID++
	id := e.nextID
	e.handlers = append(e.handlers, handler[T]{id: id, fn: fn})
	e.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { e.remove(id) })
	}
}

func (e *Event[T]) remove(id uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i, h := range e.handlers {
		if h.id == id {
			e.handlers = append(e.handlers[:i:i], e.handlers[i+1:]...)
			return
		}
	}
}

// Emit calls every registered handler with v.
func (e *Event[T]) Emit(v T) {
	e.mu.Lock()
	snapshot := make([]handler[T], len(e.handlers))
	copy(snapshot, e.handlers)
	e.mu.Unlock()

	for _, h := range snapshot {
		h.fn(v)
	}
}

// Len reports the number of registered handlers.
func (e *Event[T]) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.handlers)
}

// Signal is an Event that carries no payload.
type Signal struct {
	Event[struct{}]
}

// Subscribe registers fn.
func (s *Signal) Subscribe(fn func()) (unsubscribe func()) {
	return s.Event.Subscribe(func(struct{}) { fn() })
}

// Notify calls every registered handler.
func (s *Signal) Notify() {
	s.Event.Emit(struct{}{})
}
