package events

import (
	"sync"

	"robotcell/internal/logging"
)

// Handler 事件处理函数
type Handler func(Event)

// Publisher is what producers depend on.
type Publisher interface {
	Publish(e Event)
}

type subscription struct {
	filter map[Type]struct{}
	fn     Handler
}

func (s subscription) wants(t Type) bool {
	if len(s.filter) == 0 {
		return true
	}
	_, ok := s.filter[t]
	return ok
}

// Bus delivers events synchronously on the publisher's goroutine, in subscription order.
// Handlers must not block; consumers doing I/O hand the event to their own queue.
type Bus struct {
	mu     sync.RWMutex
	subs   map[uint64]subscription
	order  []uint64
	next   uint64
	logger *logging.Logger
}

// NewBus 创建事件总线
func NewBus() *Bus {
	return &Bus{
		subs:   make(map[uint64]subscription),
		logger: logging.GetLogger("events"),
	}
}

// Subscribe registers fn for the listed types, or for every type when none are given.
// The returned function removes the subscription.
func (b *Bus) Subscribe(fn Handler, types ...Type) func() {
	filter := make(map[Type]struct{}, len(types))
	for _, t := range types {
		filter[t] = struct{}{}
	}

	b.mu.Lock()
	b.next++
	id := b.next
	b.subs[id] = subscription{filter: filter, fn: fn}
	b.order = append(b.order, id)
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			delete(b.subs, id)
			for i, v := range b.order {
				if v == id {
					b.order = append(b.order[:i], b.order[i+1:]...)
					break
				}
			}
		})
	}
}

// Publish 分发事件, 处理器panic被恢复并记录
func (b *Bus) Publish(e Event) {
	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.order))
	for _, id := range b.order {
		if s := b.subs[id]; s.wants(e.Type()) {
			handlers = append(handlers, s.fn)
		}
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					b.logger.Error("Event handler panic", "event", e.Type(), "panic", r)
				}
			}()
			h(e)
		}()
	}
}

// Subscribers returns the number of live subscriptions.
func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Recorder collects published events; used by tests and by the status snapshot.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Handle(e Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

// Events returns a copy of everything recorded so far.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Count returns how many events of type t were recorded.
func (r *Recorder) Count(t Type) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.Type() == t {
			n++
		}
	}
	return n
}
