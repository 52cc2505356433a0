package goGuard

import (
	"io"

	"github.com/redis/go-redis/v9"

	"github.com/MrEthical07/goGuard/internal/audit"
)

// EventPublisher delivers recorded security events to an external consumer.
// The engine calls it from a background dispatcher with retries, so a
// publisher may block briefly and may see an event more than once.
type EventPublisher = audit.Publisher

type (
	NoOpPublisher        = audit.NoOpPublisher
	ChannelPublisher     = audit.ChannelPublisher
	JSONWriterPublisher  = audit.JSONWriterPublisher
	RedisStreamPublisher = audit.RedisStreamPublisher
)

// DefaultEventStream is the Redis stream used by NewRedisStreamPublisher
// when stream is empty.
const DefaultEventStream = audit.DefaultStream

func NewChannelPublisher(buffer int) *ChannelPublisher {
	return audit.NewChannelPublisher(buffer)
}

func NewJSONWriterPublisher(w io.Writer) *JSONWriterPublisher {
	return audit.NewJSONWriterPublisher(w)
}

// NewRedisStreamPublisher appends events to stream with XADD, trimming it
// approximately to maxLen entries.
func NewRedisStreamPublisher(client redis.UniversalClient, stream string, maxLen int64) *RedisStreamPublisher {
	return audit.NewRedisStreamPublisher(client, stream, maxLen)
}
