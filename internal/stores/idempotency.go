package stores

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	ErrIdempotencyRedisUnavailable = errors.New("idempotency redis unavailable")
	ErrIdempotencyRecordCorrupt    = errors.New("idempotency record corrupt")
)

// releaseLockLua deletes the lock only while it is still held by the caller.
// KEYS[1] = lock key
// ARGV[1] = owner token
var releaseLockLua = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('DEL', KEYS[1])
end
return 0
`)

// IdempotencyRecord is the cached outcome of the first successful execution
// for a key. It is written once and never mutated.
type IdempotencyRecord struct {
	Fingerprint string              `json:"fingerprint"`
	Status      int                 `json:"status"`
	Headers     map[string][]string `json:"headers,omitempty"`
	Body        []byte              `json:"body,omitempty"`
	CreatedAt   time.Time           `json:"created_at"`
}

// IdempotencyStore keeps response records and their execution locks in
// Redis under <prefix>:rec:<key> and <prefix>:lock:<key>.
type IdempotencyStore struct {
	redis  redis.UniversalClient
	prefix string
}

func NewIdempotencyStore(redisClient redis.UniversalClient, prefix string) *IdempotencyStore {
	if prefix == "" {
		prefix = "gidem"
	}
	return &IdempotencyStore{
		redis:  redisClient,
		prefix: prefix,
	}
}

func (s *IdempotencyStore) recordKey(key string) string {
	return s.prefix + ":rec:" + key
}

func (s *IdempotencyStore) lockKey(key string) string {
	return s.prefix + ":lock:" + key
}

// Get returns the stored record or nil when none exists.
func (s *IdempotencyStore) Get(ctx context.Context, key string) (*IdempotencyRecord, error) {
	data, err := s.redis.Get(ctx, s.recordKey(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrIdempotencyRedisUnavailable, err)
	}

	var rec IdempotencyRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIdempotencyRecordCorrupt, err)
	}
	return &rec, nil
}

// Save writes rec if no record exists yet. It reports whether this call
// stored it.
func (s *IdempotencyStore) Save(ctx context.Context, key string, rec *IdempotencyRecord, ttl time.Duration) (bool, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return false, err
	}

	ok, err := s.redis.SetNX(ctx, s.recordKey(key), data, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrIdempotencyRedisUnavailable, err)
	}
	return ok, nil
}

// Acquire takes the execution lock for key with the given owner token.
// It reports false without error when another owner holds it.
func (s *IdempotencyStore) Acquire(ctx context.Context, key, owner string, ttl time.Duration) (bool, error) {
	ok, err := s.redis.SetNX(ctx, s.lockKey(key), owner, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrIdempotencyRedisUnavailable, err)
	}
	return ok, nil
}

// Release drops the lock if owner still holds it. Releasing a lock that
// expired or changed hands is a no-op.
func (s *IdempotencyStore) Release(ctx context.Context, key, owner string) error {
	if err := releaseLockLua.Run(ctx, s.redis, []string{s.lockKey(key)}, owner).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrIdempotencyRedisUnavailable, err)
	}
	return nil
}
