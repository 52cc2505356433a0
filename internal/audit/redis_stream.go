package audit

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/MrEthical07/goGuard/store"
)

// DefaultStream is the stream key used when none is configured.
const DefaultStream = "guard:security-events"

// RedisStreamPublisher appends events to a Redis stream with XADD. The
// stream is trimmed approximately to MaxLen entries.
type RedisStreamPublisher struct {
	redis  redis.UniversalClient
	stream string
	maxLen int64
}

func NewRedisStreamPublisher(redisClient redis.UniversalClient, stream string, maxLen int64) *RedisStreamPublisher {
	if stream == "" {
		stream = DefaultStream
	}
	if maxLen <= 0 {
		maxLen = 100000
	}
	return &RedisStreamPublisher{
		redis:  redisClient,
		stream: stream,
		maxLen: maxLen,
	}
}

func (p *RedisStreamPublisher) Publish(ctx context.Context, event store.SecurityEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}

	err = p.redis.XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream,
		MaxLen: p.maxLen,
		Approx: true,
		Values: map[string]any{
			"id":       event.ID,
			"type":     event.Type,
			"severity": event.Severity.String(),
			"payload":  string(payload),
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("xadd %s: %w", p.stream, err)
	}
	return nil
}
