package messaging

import (
	"context"
)

// Broker defines the interface for message brokers
type Broker interface {
	Publish(ctx context.Context, channel string, message interface{}) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	Close() error
}

// Publisher is the publishing half of a Broker.
type Publisher interface {
	Publish(ctx context.Context, channel string, message interface{}) error
}

// Handler processes one message payload.
type Handler func(ctx context.Context, payload []byte) error
