// Package mqtt wraps the autopaho connection manager behind a small client
// interface with automatic re-subscription.
package mqtt

import (
	"context"
)

// MessageHandler processes one received MQTT message.
type MessageHandler func(ctx context.Context, topic string, payload []byte)

// Client is a reconnecting MQTT client.
type Client interface {
	// Start initiates the connection to the broker. It does not wait for the
	// connection; use AwaitConnection.
	Start(ctx context.Context) error

	Disconnect(ctx context.Context)

	Publish(ctx context.Context, topic string, qos int, retain bool, payload []byte) error

	// Subscribe registers handler for a topic filter. The subscription is
	// restored after every reconnect.
	Subscribe(ctx context.Context, topic string, qos int, handler MessageHandler) error

	Unsubscribe(ctx context.Context, topic string) error

	// AwaitConnection blocks until the client is connected to the broker.
	AwaitConnection(ctx context.Context) error

	IsConnected() bool
}
