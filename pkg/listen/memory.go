package listen

import (
	"context"
	"encoding/json"
	"sync"
)

type PublishedMessage struct {
	RoutingKey string
	Body       []byte
}

// MemoryPublisher records published messages instead of sending them. Fail makes every following
// publish to that routing key return the error.
type MemoryPublisher struct {
	mu       sync.Mutex
	messages []PublishedMessage
	failures map[string]error
}

var _ Publisher = (*MemoryPublisher)(nil)

func NewMemoryPublisher() *MemoryPublisher {
	return &MemoryPublisher{failures: map[string]error{}}
}

func (m *MemoryPublisher) Publish(ctx context.Context, routingKey string, message interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.failures[routingKey]; err != nil {
		return err
	}
	body, err := json.Marshal(message)
	if err != nil {
		return err
	}
	m.messages = append(m.messages, PublishedMessage{RoutingKey: routingKey, Body: body})
	return nil
}

func (m *MemoryPublisher) Fail(routingKey string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[routingKey] = err
}

func (m *MemoryPublisher) Messages() []PublishedMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]PublishedMessage(nil), m.messages...)
}

// RoutingKeys lists the routing keys of the recorded messages in publish order.
func (m *MemoryPublisher) RoutingKeys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := make([]string, 0, len(m.messages))
	for _, msg := range m.messages {
		keys = append(keys, msg.RoutingKey)
	}
	return keys
}
