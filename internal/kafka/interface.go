package kafka

import (
	"context"

	"github.com/NizariMohamed/chatting/internal/domain"
)

type EventProducer interface {
	Publish(ctx context.Context, event *domain.LifecycleEvent) error
	Close() error
}

// NoopProducer discards events. Used when kafka is disabled.
type NoopProducer struct{}

func (NoopProducer) Publish(context.Context, *domain.LifecycleEvent) error { return nil }
func (NoopProducer) Close() error                                         { return nil }
