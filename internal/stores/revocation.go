package stores

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var ErrRevocationRedisUnavailable = errors.New("revocation redis unavailable")

// revokeMaxLua keeps the larger of the stored and the new revocation stamp.
// KEYS[1] = user mark key
// ARGV[1] = unix milliseconds
// ARGV[2] = ttl in milliseconds
var revokeMaxLua = redis.NewScript(`
local cur = tonumber(redis.call('GET', KEYS[1]) or '0')
local v = tonumber(ARGV[1])
if cur > v then
  v = cur
end
redis.call('SET', KEYS[1], tostring(v), 'PX', ARGV[2])
return v
`)

// RevocationList records, per user, the instant after which previously
// issued access tokens are void. Entries live as long as the longest access
// token that could still be presented.
type RevocationList struct {
	redis  redis.UniversalClient
	prefix string
}

func NewRevocationList(redisClient redis.UniversalClient, prefix string) *RevocationList {
	if prefix == "" {
		prefix = "grev"
	}
	return &RevocationList{
		redis:  redisClient,
		prefix: prefix,
	}
}

func (r *RevocationList) key(userID string) string {
	return r.prefix + ":u:" + userID
}

// RevokeBefore voids every access token for userID issued at or before at,
// to the millisecond. A later mark already in place is kept.
func (r *RevocationList) RevokeBefore(ctx context.Context, userID string, at time.Time, ttl time.Duration) error {
	if err := revokeMaxLua.Run(ctx, r.redis, []string{r.key(userID)}, at.UnixMilli(), ttl.Milliseconds()).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRevocationRedisUnavailable, err)
	}
	return nil
}

// IsRevoked reports whether a token for userID issued at issuedAt has been
// voided.
func (r *RevocationList) IsRevoked(ctx context.Context, userID string, issuedAt time.Time) (bool, error) {
	stamp, err := r.redis.Get(ctx, r.key(userID)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, fmt.Errorf("%w: %v", ErrRevocationRedisUnavailable, err)
	}
	return issuedAt.UnixMilli() <= stamp, nil
}
