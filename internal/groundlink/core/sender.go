package core

import (
	"context"
)

// Sender publishes uplink events.
type Sender interface {
	Send(ctx context.Context, event EventType, payload []byte) error
	SendJSON(ctx context.Context, event EventType, v any) error
}
