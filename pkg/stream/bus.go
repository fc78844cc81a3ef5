package stream

import (
	"log"
	"sync"

	"github.com/crossknight/examples/pkg/callback"
)

// Handler receives every event published after it subscribes.
type Handler func(callback.Event)

const busBuffer = 256

// Bus fans callback events out to subscribers. Publishes enqueue onto a
// channel drained by a single dispatch goroutine, so events reach subscribers
// in publish order and the publisher never waits on a consumer. Within one
// event, handlers run in subscription order and a panicking handler does not
// stop the handlers after it. There is no replay. The bus lives for the
// process; it is never torn down.
type Bus struct {
	mu       sync.RWMutex
	handlers []Handler
	events   chan delivery
}

// delivery pins the subscriber set observed at publish time, so a handler
// registered later never sees earlier events.
type delivery struct {
	evt      callback.Event
	handlers []Handler
}

func NewBus() *Bus {
	b := &Bus{events: make(chan delivery, busBuffer)}
	go b.dispatch()
	return b
}

func (b *Bus) Subscribe(h Handler) {
	if h == nil {
		return
	}
	b.mu.Lock()
	b.handlers = append(b.handlers, h)
	b.mu.Unlock()
}

func (b *Bus) Publish(evt callback.Event) {
	b.mu.RLock()
	handlers := make([]Handler, len(b.handlers))
	copy(handlers, b.handlers)
	b.mu.RUnlock()
	if len(handlers) == 0 {
		return
	}
	b.events <- delivery{evt: evt, handlers: handlers}
}

func (b *Bus) dispatch() {
	for d := range b.events {
		for _, h := range d.handlers {
			invoke(h, d.evt)
		}
	}
}

func invoke(h Handler, evt callback.Event) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("stream: subscriber panic on %s event: %v", evt.Kind, r)
		}
	}()
	h(evt)
}
