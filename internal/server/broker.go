package server

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// NotificationSource is a cross-process notification feed, such as Postgres
// LISTEN/NOTIFY.
type NotificationSource interface {
	Listen(ctx context.Context, channel string) error
	WaitForNotification(ctx context.Context) (channel, payload string, err error)
}

// TickEvent is the SSE event type for completed update cycles.
const TickEvent = "tick"

// Broker fans out tick summaries to SSE subscribers. With a source it relays
// notifications from every process sharing the store; without one it relays
// only what Publish is given.
type Broker struct {
	source   NotificationSource
	channels []string
	logger   *slog.Logger

	mu          sync.RWMutex
	subscribers map[chan []byte]struct{}
}

// NewBroker creates a broker. source may be nil. Call Start to begin
// relaying from source.
func NewBroker(source NotificationSource, logger *slog.Logger, channels ...string) *Broker {
	return &Broker{
		source:      source,
		channels:    channels,
		logger:      logger,
		subscribers: make(map[chan []byte]struct{}),
	}
}

// HasSource reports whether the broker relays cross-process notifications.
func (b *Broker) HasSource() bool {
	return b.source != nil
}

// Start relays notifications until ctx is cancelled. It blocks, so call it
// in a goroutine. Without a source it returns immediately.
func (b *Broker) Start(ctx context.Context) {
	if b.source == nil {
		return
	}
	for _, ch := range b.channels {
		if err := b.source.Listen(ctx, ch); err != nil {
			b.logger.Error("broker: listen", "channel", ch, "error", err)
			return
		}
	}
	b.logger.Info("broker: listening for notifications", "channels", b.channels)

	for {
		_, payload, err := b.source.WaitForNotification(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			b.logger.Warn("broker: notification error, retrying", "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}
		b.broadcast(formatSSE(TickEvent, payload))
	}
}

// Publish sends payload to every subscriber as an event of type eventType.
func (b *Broker) Publish(eventType, payload string) {
	b.broadcast(formatSSE(eventType, payload))
}

// Subscribe returns a channel that receives SSE-formatted events.
// The caller must call Unsubscribe when done.
func (b *Broker) Subscribe() chan []byte {
	ch := make(chan []byte, 64)
	b.mu.Lock()
	b.subscribers[ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes a subscriber channel and closes it.
func (b *Broker) Unsubscribe(ch chan []byte) {
	b.mu.Lock()
	delete(b.subscribers, ch)
	b.mu.Unlock()
	close(ch)
}

// broadcast never blocks: a subscriber with a full buffer misses the event.
func (b *Broker) broadcast(event []byte) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subscribers {
		select {
		case ch <- event:
		default:
		}
	}
}

func formatSSE(eventType, data string) []byte {
	return []byte("event: " + eventType + "\ndata: " + data + "\n\n")
}
