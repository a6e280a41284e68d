package compliance

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/lead-reengage/pkg/logging"
)

// SendCounter tracks automated sends per lead for rate limiting. Record is
// keyed so a resent delivery is counted once.
type SendCounter interface {
	CountSince(ctx context.Context, leadID string, since time.Time) (int, error)
	Record(ctx context.Context, leadID, key string, at time.Time) error
}

// MemorySendCounter is an in-process SendCounter.
type MemorySendCounter struct {
	mu    sync.Mutex
	sends map[string]map[string]time.Time
}

// NewMemorySendCounter returns an empty counter.
func NewMemorySendCounter() *MemorySendCounter {
	return &MemorySendCounter{sends: make(map[string]map[string]time.Time)}
}

// CountSince counts sends at or after since.
func (c *MemorySendCounter) CountSince(_ context.Context, leadID string, since time.Time) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, at := range c.sends[leadID] {
		if !at.Before(since) {
			n++
		}
	}
	return n, nil
}

// Record stores a send under key.
func (c *MemorySendCounter) Record(_ context.Context, leadID, key string, at time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sends[leadID] == nil {
		c.sends[leadID] = make(map[string]time.Time)
	}
	c.sends[leadID][key] = at
	return nil
}

// RedisSendCounter keeps a sliding window of sends in a sorted set per lead,
// scored by send time in milliseconds.
type RedisSendCounter struct {
	redis  *redis.Client
	retain time.Duration
	prefix string
	logger *logging.Logger
}

// NewRedisSendCounter creates a counter that retains entries for retain (the
// rate-limit lookback).
func NewRedisSendCounter(client *redis.Client, retain time.Duration, logger *logging.Logger) *RedisSendCounter {
	if client == nil {
		panic("compliance: redis client required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	if retain <= 0 {
		retain = 24 * time.Hour
	}
	return &RedisSendCounter{redis: client, retain: retain, prefix: "reengage:sends:", logger: logger}
}

func (c *RedisSendCounter) key(leadID string) string {
	return c.prefix + leadID
}

// CountSince counts sends at or after since.
func (c *RedisSendCounter) CountSince(ctx context.Context, leadID string, since time.Time) (int, error) {
	ctx, span := gateTracer.Start(ctx, "sends.count")
	defer span.End()
	span.SetAttributes(attribute.String("reengage.lead_id", leadID))

	n, err := c.redis.ZCount(ctx, c.key(leadID), strconv.FormatInt(since.UnixMilli(), 10), "+inf").Result()
	if err != nil {
		return 0, fmt.Errorf("compliance: count sends: %w", err)
	}
	return int(n), nil
}

// Record adds a send and trims entries older than the retention window.
func (c *RedisSendCounter) Record(ctx context.Context, leadID, key string, at time.Time) error {
	ctx, span := gateTracer.Start(ctx, "sends.record")
	defer span.End()
	span.SetAttributes(attribute.String("reengage.lead_id", leadID))

	k := c.key(leadID)
	cutoff := at.Add(-c.retain).UnixMilli()
	_, err := c.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZAdd(ctx, k, redis.Z{Score: float64(at.UnixMilli()), Member: key})
		pipe.ZRemRangeByScore(ctx, k, "-inf", "("+strconv.FormatInt(cutoff, 10))
		pipe.Expire(ctx, k, c.retain)
		return nil
	})
	if err != nil {
		c.logger.Error("send counter record failed", "error", err, "lead_id", leadID)
		return fmt.Errorf("compliance: record send: %w", err)
	}
	return nil
}
