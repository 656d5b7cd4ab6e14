package notify

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	json "github.com/goccy/go-json"

	"github.com/poiesic/chunkvault/core"
)

// Bus delivers change events between consumers in the same process.
type Bus struct {
	pubsub *gochannel.GoChannel
	logger *slog.Logger
	closed atomic.Bool
}

var _ Notifier = (*Bus)(nil)

// NewBus creates an in-process bus.
func NewBus(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		pubsub: gochannel.NewGoChannel(gochannel.Config{}, watermill.NewSlogLogger(logger)),
		logger: logger,
	}
}

// Publish broadcasts ev on the shared topic.
func (b *Bus) Publish(ctx context.Context, ev core.ChangeEvent) error {
	if b.closed.Load() {
		return ErrNotifierClosed
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal change event: %w", err)
	}
	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.SetContext(ctx)
	return b.pubsub.Publish(Topic, msg)
}

// Subscribe delivers events whose key matches collection to h.
func (b *Bus) Subscribe(ctx context.Context, collection string, h Handler) (CancelFunc, error) {
	if b.closed.Load() {
		return nil, ErrNotifierClosed
	}
	subCtx, cancel := context.WithCancel(ctx)
	msgs, err := b.pubsub.Subscribe(subCtx, Topic)
	if err != nil {
		cancel()
		return nil, err
	}

	go func() {
		for msg := range msgs {
			var ev core.ChangeEvent
			if err := json.Unmarshal(msg.Payload, &ev); err != nil {
				b.logger.Warn("dropping malformed change event", "err", err)
				msg.Ack()
				continue
			}
			msg.Ack()
			if ev.Key == collection {
				h(ev)
			}
		}
	}()

	return CancelFunc(cancel), nil
}

// Close shuts down the bus and all its subscriptions.
func (b *Bus) Close() error {
	if b.closed.Swap(true) {
		return nil
	}
	return b.pubsub.Close()
}
