package bus

import (
	"context"
	"sync"

	"github.com/CodeMonkeyCybersecurity/ambit/internal/core"
	"github.com/CodeMonkeyCybersecurity/ambit/pkg/types"
)

// MemoryBus is an in-process Bus used by tests and single-node runs without a
// redis backend. Delivery is synchronous: Publish invokes matching handlers
// inline.
type MemoryBus struct {
	mu          sync.RWMutex
	subscribers map[string][]subscription
	published   []PublishedEvent
	failTopics  map[string]error
}

type subscription struct {
	topics  []string
	handler core.Handler
}

// PublishedEvent records one Publish call for assertions.
type PublishedEvent struct {
	Exchange string
	Queue    string
	Topic    string
	Event    *types.Event
}

func NewMemoryBus() *MemoryBus {
	return &MemoryBus{
		subscribers: make(map[string][]subscription),
		failTopics:  make(map[string]error),
	}
}

// FailTopic makes subsequent publishes of topic return err.
func (b *MemoryBus) FailTopic(topic string, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failTopics[topic] = err
}

func (b *MemoryBus) Publish(ctx context.Context, exchange, queue, topic string, event *types.Event) error {
	b.mu.Lock()
	if err, ok := b.failTopics[topic]; ok {
		b.mu.Unlock()
		return types.NewTransportError("publish failed", err)
	}
	if event.Type == "" {
		event.Type = topic
	}
	b.published = append(b.published, PublishedEvent{
		Exchange: exchange,
		Queue:    queue,
		Topic:    topic,
		Event:    event,
	})
	subs := append([]subscription(nil), b.subscribers[queue]...)
	b.mu.Unlock()

	for _, sub := range subs {
		if MatchTopic(sub.topics, event.Type) {
			if err := sub.handler(ctx, event); err != nil {
				return err
			}
		}
	}
	return nil
}

func (b *MemoryBus) Subscribe(ctx context.Context, queue string, topics []string, handler core.Handler) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[queue] = append(b.subscribers[queue], subscription{topics: topics, handler: handler})
	return nil
}

// Published returns a copy of all recorded publishes.
func (b *MemoryBus) Published() []PublishedEvent {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]PublishedEvent(nil), b.published...)
}

func (b *MemoryBus) Close() error {
	return nil
}
