// Package publish is the downstream boundary of the pipeline. Delivery is
// fire-and-forget: a publish that reaches no subscriber is still a success.
package publish

import (
	"context"
	"sync"

	"fx-feed-lab/internal/domain"
)

// Message is the JSON payload published once per poll cycle per symbol.
type Message struct {
	Symbol string        `json:"symbol"`
	TF     string        `json:"tf"`
	Bars   []*domain.Bar `json:"bars"`
}

// Publisher delivers an encoded message on a named channel.
type Publisher interface {
	Publish(ctx context.Context, channel string, payload []byte) error
}

// MemoryPublisher is an in-process Publisher that records payloads per
// channel. Used in tests and dry runs.
type MemoryPublisher struct {
	mu       sync.Mutex
	messages map[string][][]byte
}

// NewMemoryPublisher creates a new MemoryPublisher.
func NewMemoryPublisher() *MemoryPublisher {
	return &MemoryPublisher{messages: make(map[string][][]byte)}
}

// Compile-time interface check.
var _ Publisher = (*MemoryPublisher)(nil)

// Publish records payload under channel.
func (p *MemoryPublisher) Publish(_ context.Context, channel string, payload []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	buf := make([]byte, len(payload))
	copy(buf, payload)
	p.messages[channel] = append(p.messages[channel], buf)
	return nil
}

// Messages returns all payloads recorded for channel, in publish order.
func (p *MemoryPublisher) Messages(channel string) [][]byte {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([][]byte, len(p.messages[channel]))
	copy(out, p.messages[channel])
	return out
}
