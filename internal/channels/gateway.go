// Package channels defines the outbound messaging capability and the
// rate-limit gate every send passes through.
package channels

import (
	"context"

	"github.com/simsarhq/simsar/internal/bus"
)

// Gateway delivers outbound messages to WhatsApp. Implementations must be
// idempotent per messageId where the provider supports it.
type Gateway interface {
	Send(ctx context.Context, msg bus.OutboundMessage) error
}

// InboundHandler receives normalized inbound messages from a gateway that
// also listens (the bridge). Typically it enqueues them.
type InboundHandler func(ctx context.Context, msg bus.ParsedMessage)

// Listener is a gateway that maintains its own inbound connection.
type Listener interface {
	Gateway
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}
