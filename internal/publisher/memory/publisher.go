// Package memory contains an in-process event publisher that records what it
// is given. The pipeline and API tests use it to observe lifecycle events; the
// server publishes nothing when no Pub/Sub topic is configured.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/JakeFAU/pixelpage/internal/artifact"
)

// Publisher stores published payloads for inspection.
type Publisher struct {
	mu       sync.RWMutex
	messages []PublishedMessage
	err      error
}

// PublishedMessage captures one publish call.
type PublishedMessage struct {
	Topic   string
	Payload any
}

// New returns a memory Publisher.
func New() *Publisher {
	return &Publisher{}
}

// FailWith makes subsequent publishes return err; nil restores success.
func (p *Publisher) FailWith(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.err = err
}

// Publish records the message and returns a pseudo ID.
func (p *Publisher) Publish(_ context.Context, topic string, payload any) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return "", p.err
	}
	p.messages = append(p.messages, PublishedMessage{Topic: topic, Payload: payload})
	return fmt.Sprintf("memory-%d", len(p.messages)), nil
}

// Messages returns the recorded publishes.
func (p *Publisher) Messages() []PublishedMessage {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]PublishedMessage, len(p.messages))
	copy(out, p.messages)
	return out
}

// Events returns the recorded payloads that are artifact events, in order.
func (p *Publisher) Events() []artifact.Event {
	p.mu.RLock()
	defer p.mu.RUnlock()
	var out []artifact.Event
	for _, m := range p.messages {
		if ev, ok := m.Payload.(artifact.Event); ok {
			out = append(out, ev)
		}
	}
	return out
}
