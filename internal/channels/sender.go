package channels

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/simsarhq/simsar/internal/bus"
	"github.com/simsarhq/simsar/internal/ratelimit"
)

// ErrRateLimited marks a send rejected by the outbound rate limiter. It is
// retryable: the queue backs the job off and tries again.
var ErrRateLimited = errors.New("channels: rate limited")

// Sender is the rate-gated front of a gateway. Every outbound message checks
// the per-recipient sliding windows first; the limiter is incremented only
// after a successful delivery so failed sends do not consume quota.
type Sender struct {
	gateway Gateway
	limiter *ratelimit.Limiter
}

func NewSender(gateway Gateway, limiter *ratelimit.Limiter) *Sender {
	return &Sender{gateway: gateway, limiter: limiter}
}

// Send delivers one outbound message through the rate gate.
func (s *Sender) Send(ctx context.Context, msg bus.OutboundMessage) error {
	res := s.limiter.CheckLimit(ctx, msg.To)
	if !res.Allowed {
		slog.Warn("outbound send rate limited", "to", msg.To, "resetIn", res.ResetIn)
		return fmt.Errorf("%w: retry in %s", ErrRateLimited, res.ResetIn)
	}

	if err := s.gateway.Send(ctx, msg); err != nil {
		return fmt.Errorf("gateway send to %s: %w", msg.To, err)
	}
	s.limiter.Increment(ctx, msg.To)
	return nil
}

// SendText sends a plain text message. Satisfies the escalation and lead
// notification messenger capability.
func (s *Sender) SendText(ctx context.Context, to, text string) error {
	return s.Send(ctx, bus.OutboundMessage{To: to, Type: bus.TypeText, Text: text})
}
