package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/wolfman30/lead-reengage/pkg/logging"
)

const pendingMarker = "pending"

// DedupingSender makes a Sender idempotent per Delivery.IdempotencyKey. The
// first caller claims the key in Redis, sends, and stores the receipt; later
// callers with the same key get the stored receipt marked Duplicate.
type DedupingSender struct {
	next       Sender
	redis      *redis.Client
	ttl        time.Duration
	pendingTTL time.Duration
	prefix     string
	logger     *logging.Logger
}

// NewDedupingSender wraps next. Receipts are remembered for ttl; a claim whose
// owner died is released after pendingTTL.
func NewDedupingSender(next Sender, client *redis.Client, ttl, pendingTTL time.Duration, logger *logging.Logger) *DedupingSender {
	if next == nil {
		panic("messaging: next sender required")
	}
	if client == nil {
		panic("messaging: redis client required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}
	if pendingTTL <= 0 {
		pendingTTL = 2 * time.Minute
	}
	return &DedupingSender{
		next:       next,
		redis:      client,
		ttl:        ttl,
		pendingTTL: pendingTTL,
		prefix:     "reengage:delivery:",
		logger:     logger,
	}
}

var _ Sender = (*DedupingSender)(nil)

// Send implements Sender. Deliveries without a key pass straight through, as
// do all deliveries while Redis is unreachable.
func (s *DedupingSender) Send(ctx context.Context, d Delivery) (Receipt, error) {
	if d.IdempotencyKey == "" {
		return s.next.Send(ctx, d)
	}
	key := s.prefix + d.IdempotencyKey

	claimed, err := s.redis.SetNX(ctx, key, pendingMarker, s.pendingTTL).Result()
	if err != nil {
		s.logger.Warn("delivery dedupe unavailable, sending without it", "error", err, "idempotency_key", d.IdempotencyKey)
		return s.next.Send(ctx, d)
	}
	if !claimed {
		return s.previous(ctx, key, d)
	}

	receipt, err := s.next.Send(ctx, d)
	if err != nil {
		if delErr := s.redis.Del(context.WithoutCancel(ctx), key).Err(); delErr != nil {
			s.logger.Warn("failed to release delivery claim", "error", delErr, "idempotency_key", d.IdempotencyKey)
		}
		return Receipt{}, err
	}

	data, mErr := json.Marshal(receipt)
	if mErr == nil {
		mErr = s.redis.Set(context.WithoutCancel(ctx), key, data, s.ttl).Err()
	}
	if mErr != nil {
		s.logger.Warn("failed to store delivery receipt", "error", mErr, "idempotency_key", d.IdempotencyKey)
	}
	return receipt, nil
}

func (s *DedupingSender) previous(ctx context.Context, key string, d Delivery) (Receipt, error) {
	raw, err := s.redis.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		// Claim released between SETNX and GET: the earlier attempt failed.
		return s.Send(ctx, d)
	}
	if err != nil {
		return Receipt{}, fmt.Errorf("messaging: dedupe lookup: %w", err)
	}
	if raw == pendingMarker {
		return Receipt{}, fmt.Errorf("%w: %s", ErrDeliveryInFlight, d.IdempotencyKey)
	}
	var receipt Receipt
	if err := json.Unmarshal([]byte(raw), &receipt); err != nil {
		return Receipt{}, fmt.Errorf("messaging: dedupe decode: %w", err)
	}
	receipt.Duplicate = true
	s.logger.Info("duplicate delivery suppressed", "lead_id", d.LeadID, "idempotency_key", d.IdempotencyKey)
	return receipt, nil
}
