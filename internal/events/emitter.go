// Package events provides a small typed publish/subscribe emitter used by
// the actor workers and the agent run loop. Delivery is synchronous and
// in-order by default; channel subscriptions get a bounded buffer and drop
// on overflow, with drops surfaced through a metrics counter.
package events

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var droppedEvents = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "ema_events_dropped_total",
	Help: "Events dropped because a channel subscriber's buffer was full.",
}, []string{"stream"})

// Handler receives published events for one subscription.
type Handler[T any] func(event T)

// Subscription identifies a registered handler for later removal.
type Subscription uint64

// Emitter fans events out to subscribers. The zero value is not usable;
// construct with NewEmitter. Safe for concurrent use.
type Emitter[T any] struct {
	stream string

	mu       sync.RWMutex
	next     Subscription
	handlers map[Subscription]Handler[T]
	order    []Subscription
}

// NewEmitter creates an emitter. The stream name labels the drop counter.
func NewEmitter[T any](stream string) *Emitter[T] {
	return &Emitter[T]{
		stream:   stream,
		handlers: make(map[Subscription]Handler[T]),
	}
}

// On registers a handler and returns its subscription token. Handlers are
// invoked synchronously in registration order on the publisher's goroutine.
func (e *Emitter[T]) On(handler Handler[T]) Subscription {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.next++
	id := e.next
	e.handlers[id] = handler
	e.order = append(e.order, id)
	return id
}

// Off removes a subscription. Unknown tokens are ignored.
func (e *Emitter[T]) Off(id Subscription) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.handlers[id]; !ok {
		return
	}
	delete(e.handlers, id)
	for i, existing := range e.order {
		if existing == id {
			e.order = append(e.order[:i], e.order[i+1:]...)
			break
		}
	}
}

// Chan registers a buffered channel subscription. Events that arrive while
// the buffer is full are dropped and counted; the emitter never blocks on a
// slow consumer. The returned cancel func unsubscribes and closes the
// channel, and is safe to call once.
func (e *Emitter[T]) Chan(size int) (<-chan T, func()) {
	if size <= 0 {
		size = 16
	}
	ch := make(chan T, size)
	var mu sync.Mutex
	closed := false
	id := e.On(func(event T) {
		mu.Lock()
		defer mu.Unlock()
		if closed {
			return
		}
		select {
		case ch <- event:
		default:
			droppedEvents.WithLabelValues(e.stream).Inc()
		}
	})
	cancel := func() {
		e.Off(id)
		mu.Lock()
		defer mu.Unlock()
		if !closed {
			closed = true
			close(ch)
		}
	}
	return ch, cancel
}

// Emit delivers the event to every subscriber in registration order.
func (e *Emitter[T]) Emit(event T) {
	e.mu.RLock()
	ids := make([]Subscription, len(e.order))
	copy(ids, e.order)
	handlers := make([]Handler[T], 0, len(ids))
	for _, id := range ids {
		if h, ok := e.handlers[id]; ok {
			handlers = append(handlers, h)
		}
	}
	e.mu.RUnlock()

	for _, h := range handlers {
		h(event)
	}
}

// Len returns the number of active subscriptions.
func (e *Emitter[T]) Len() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.handlers)
}
