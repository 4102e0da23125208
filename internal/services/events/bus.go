// Package events delivers core events to sinks such as the log and Telegram.
package events

import (
	"context"
	"sync"

	"github.com/fgeck/savekeeper/internal/models"
	"github.com/rs/zerolog"
)

// Publisher accepts events. Publish never blocks.
type Publisher interface {
	Publish(ev models.Event)
}

// Sink consumes events.
type Sink interface {
	Name() string
	Handle(ctx context.Context, ev models.Event) error
}

// Nop discards every event.
type Nop struct{}

// Publish implements Publisher.
func (Nop) Publish(models.Event) {}

// Bus queues events and hands them to every sink from a single goroutine.
type Bus struct {
	logger zerolog.Logger
	queue  chan models.Event

	mu     sync.RWMutex
	sinks  []Sink
	closed bool
}

// NewBus creates a bus holding up to size undelivered events.
func NewBus(logger zerolog.Logger, size int) *Bus {
	if size <= 0 {
		size = 64
	}
	return &Bus{logger: logger, queue: make(chan models.Event, size)}
}

// AddSink registers s for all future events.
func (b *Bus) AddSink(s Sink) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sinks = append(b.sinks, s)
}

// Publish queues ev. When the queue is full the event is dropped.
func (b *Bus) Publish(ev models.Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	select {
	case b.queue <- ev:
	default:
		b.logger.Warn().Str("code", ev.Code).Msg("event queue full, dropping event")
	}
}

// Close stops accepting events. Run returns once the queue is drained.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.closed {
		b.closed = true
		close(b.queue)
	}
}

// Run delivers queued events until Close is called and the queue is empty.
// Sinks receive ctx; a cancelled ctx makes slow sinks give up early.
func (b *Bus) Run(ctx context.Context) {
	for ev := range b.queue {
		b.mu.RLock()
		sinks := append([]Sink(nil), b.sinks...)
		b.mu.RUnlock()

		for _, s := range sinks {
			if err := s.Handle(ctx, ev); err != nil {
				b.logger.Warn().
					Err(err).
					Str("sink", s.Name()).
					Str("code", ev.Code).
					Msg("event sink failed")
			}
		}
	}
}
