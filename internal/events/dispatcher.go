package events

import (
	"context"
	"errors"
	"sync"
)

// ErrBusClosed is returned by Dispatcher.Run and WaitFor when the bus shuts down.
var ErrBusClosed = errors.New("event bus closed")

// Handler processes one event on the dispatcher's goroutine.
type Handler func(Event)

// Dispatcher drains a bus subscription on the goroutine that calls Run, Drain
// or WaitFor. Presentation code registers handlers here so that every view
// mutation happens on its own loop, never on a worker.
type Dispatcher struct {
	bus *EventBus
	ch  <-chan Event

	mu       sync.Mutex
	handlers map[EventType][]Handler
	any      []Handler
}

// NewDispatcher subscribes to every event on bus.
func NewDispatcher(bus *EventBus) *Dispatcher {
	return &Dispatcher{
		bus:      bus,
		ch:       bus.SubscribeAll(),
		handlers: make(map[EventType][]Handler),
	}
}

// On registers h for one event type.
func (d *Dispatcher) On(eventType EventType, h Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[eventType] = append(d.handlers[eventType], h)
}

// OnAny registers h for every event.
func (d *Dispatcher) OnAny(h Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.any = append(d.any, h)
}

func (d *Dispatcher) dispatch(ev Event) {
	d.mu.Lock()
	hs := make([]Handler, 0, len(d.handlers[ev.Type()])+len(d.any))
	hs = append(hs, d.handlers[ev.Type()]...)
	hs = append(hs, d.any...)
	d.mu.Unlock()

	for _, h := range hs {
		h(ev)
	}
}

// Drain dispatches every event already queued and returns how many were handled.
// It never blocks.
func (d *Dispatcher) Drain() int {
	n := 0
	for {
		select {
		case ev, ok := <-d.ch:
			if !ok {
				return n
			}
			d.dispatch(ev)
			n++
		default:
			return n
		}
	}
}

// Run dispatches events until ctx is done or the bus is closed.
func (d *Dispatcher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-d.ch:
			if !ok {
				return ErrBusClosed
			}
			d.dispatch(ev)
		}
	}
}

// WaitFor dispatches events until match returns true for one of them, and returns it.
// The matching event is dispatched to handlers before being returned.
func (d *Dispatcher) WaitFor(ctx context.Context, match func(Event) bool) (Event, error) {
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case ev, ok := <-d.ch:
			if !ok {
				return nil, ErrBusClosed
			}
			d.dispatch(ev)
			if match(ev) {
				return ev, nil
			}
		}
	}
}

// Close detaches the dispatcher from the bus.
func (d *Dispatcher) Close() {
	d.bus.UnsubscribeAll(d.ch)
}
