package messaging

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"
)

// RateLimitedSender paces deliveries to a provider's throughput limit.
type RateLimitedSender struct {
	next    Sender
	limiter *rate.Limiter
}

// NewRateLimitedSender allows perSecond deliveries with the given burst. A
// non-positive rate disables pacing.
func NewRateLimitedSender(next Sender, perSecond float64, burst int) *RateLimitedSender {
	limit := rate.Inf
	if perSecond > 0 {
		limit = rate.Limit(perSecond)
	}
	if burst < 1 {
		burst = 1
	}
	return &RateLimitedSender{next: next, limiter: rate.NewLimiter(limit, burst)}
}

// Send waits for a token, then sends.
func (s *RateLimitedSender) Send(ctx context.Context, d Delivery) (Receipt, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return Receipt{}, fmt.Errorf("messaging: rate limit wait: %w", err)
	}
	return s.next.Send(ctx, d)
}
