package audit

import (
	"context"
	"encoding/json"
	"io"
	"sync"

	"github.com/MrEthical07/goGuard/store"
)

// Publisher delivers a recorded security event to an external consumer.
// Implementations must be safe for concurrent use; a returned error makes
// the dispatcher retry.
type Publisher interface {
	Publish(ctx context.Context, event store.SecurityEvent) error
}

// NoOpPublisher drops events.
type NoOpPublisher struct{}

func (NoOpPublisher) Publish(context.Context, store.SecurityEvent) error { return nil }

// ChannelPublisher writes events into a buffered channel.
type ChannelPublisher struct {
	events chan store.SecurityEvent
}

func NewChannelPublisher(buffer int) *ChannelPublisher {
	if buffer <= 0 {
		buffer = 1
	}
	return &ChannelPublisher{
		events: make(chan store.SecurityEvent, buffer),
	}
}

func (p *ChannelPublisher) Publish(ctx context.Context, event store.SecurityEvent) error {
	select {
	case p.events <- event:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *ChannelPublisher) Events() <-chan store.SecurityEvent {
	return p.events
}

// JSONWriterPublisher writes one JSON object per line.
type JSONWriterPublisher struct {
	writer io.Writer
	mu     sync.Mutex
}

func NewJSONWriterPublisher(w io.Writer) *JSONWriterPublisher {
	return &JSONWriterPublisher{
		writer: w,
	}
}

func (p *JSONWriterPublisher) Publish(ctx context.Context, event store.SecurityEvent) error {
	if p == nil || p.writer == nil {
		return nil
	}
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	data = append(data, '\n')

	p.mu.Lock()
	defer p.mu.Unlock()

	_, err = p.writer.Write(data)
	return err
}
