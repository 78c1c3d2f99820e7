package messaging

import (
	"context"
	"sync"
)

// Capture is an in-memory Client that records published messages. It is
// intended for tests, mirroring how the in-memory auction store stands in
// for the database.
type Capture struct {
	mu       sync.Mutex
	messages []Message
}

// NewCapture returns an empty capturing client.
func NewCapture() *Capture {
	return &Capture{}
}

func (c *Capture) Publish(_ context.Context, topic string, key []byte, value []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = append(c.messages, Message{
		Topic: topic,
		Key:   append([]byte(nil), key...),
		Value: append([]byte(nil), value...),
	})
	return nil
}

func (c *Capture) Consume(ctx context.Context, _ Handler) error {
	<-ctx.Done()
	return ctx.Err()
}

func (c *Capture) Topics() []string { return nil }

// Published returns a copy of everything published so far.
func (c *Capture) Published() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Message(nil), c.messages...)
}

// PublishedTo returns the messages published to one topic.
func (c *Capture) PublishedTo(topic string) []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []Message
	for _, m := range c.messages {
		if m.Topic == topic {
			out = append(out, m)
		}
	}
	return out
}
