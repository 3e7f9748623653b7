package bus

import (
	"sync"
	"sync/atomic"

	"github.com/oklog/ulid/v2"
)

const subscriptionBuffer = 64

// MemoryBus is the in-process Bus used inside a single runtime context.
// Fan-out is non-blocking: a subscriber whose buffer is full loses the
// message rather than stalling the publisher, mirroring the best-effort
// delivery contract of the cross-context primitive.
type MemoryBus struct {
	mu     sync.RWMutex
	subs   map[string]*memorySubscription // keyed by subscription ID
	closed atomic.Bool
}

var _ Bus = (*MemoryBus)(nil)

// NewMemoryBus creates an empty in-process bus.
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{subs: make(map[string]*memorySubscription)}
}

func (b *MemoryBus) Publish(topic string, data []byte) error {
	if b.closed.Load() {
		return ErrClosed
	}
	msg := Message{Topic: topic, Data: data}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs {
		if sub.topic != topic && sub.topic != TopicAll {
			continue
		}
		select {
		case sub.messages <- msg:
		default:
			// Buffer full; the subscriber recovers via an on-demand pull.
		}
	}
	return nil
}

func (b *MemoryBus) Subscribe(topic string, handler Handler) (Subscription, error) {
	if b.closed.Load() {
		return nil, ErrClosed
	}
	sub := &memorySubscription{
		id:       ulid.Make().String(),
		topic:    topic,
		messages: make(chan Message, subscriptionBuffer),
		done:     make(chan struct{}),
		bus:      b,
	}
	b.mu.Lock()
	b.subs[sub.id] = sub
	b.mu.Unlock()

	go sub.run(handler)
	return sub, nil
}

func (b *MemoryBus) Close() error {
	if b.closed.Swap(true) {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, sub := range b.subs {
		sub.stop()
		delete(b.subs, id)
	}
	return nil
}

func (b *MemoryBus) remove(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if sub, ok := b.subs[id]; ok {
		sub.stop()
		delete(b.subs, id)
	}
}

type memorySubscription struct {
	id       string
	topic    string
	messages chan Message
	done     chan struct{}
	stopOnce sync.Once
	bus      *MemoryBus
}

func (s *memorySubscription) run(handler Handler) {
	for {
		select {
		case msg := <-s.messages:
			handler(msg)
		case <-s.done:
			return
		}
	}
}

func (s *memorySubscription) stop() {
	s.stopOnce.Do(func() { close(s.done) })
}

func (s *memorySubscription) Unsubscribe() { s.bus.remove(s.id) }

func (s *memorySubscription) Topic() string { return s.topic }
