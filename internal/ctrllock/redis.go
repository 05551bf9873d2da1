package ctrllock

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// acquireScript sets the key if absent, or refreshes it if the caller
// already holds it. Returns 1 for a new grant, 2 for a refresh, 0 when
// another holder owns the key.
var acquireScript = redis.NewScript(`
local cur = redis.call("GET", KEYS[1])
if cur == false then
  redis.call("SET", KEYS[1], ARGV[1], "PX", ARGV[2])
  return 1
end
if cur == ARGV[1] then
  redis.call("PEXPIRE", KEYS[1], ARGV[2])
  return 2
end
return 0
`)

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

// Redis is a Locker shared by every relay instance pointed at one redis.
type Redis struct {
	client *redis.Client
	prefix string
}

// NewRedis creates a redis-backed locker.
func NewRedis(client *redis.Client) *Redis {
	return &Redis{client: client, prefix: "control_lock:"}
}

func (r *Redis) Acquire(ctx context.Context, deviceID, holder string, ttl time.Duration) (Grant, error) {
	n, err := acquireScript.Run(ctx, r.client, []string{r.prefix + deviceID}, holder, ttl.Milliseconds()).Int()
	if err != nil {
		return Refused, err
	}
	switch n {
	case 1:
		return Granted, nil
	case 2:
		return Refreshed, nil
	}
	return Refused, nil
}

func (r *Redis) Release(ctx context.Context, deviceID, holder string) error {
	return releaseScript.Run(ctx, r.client, []string{r.prefix + deviceID}, holder).Err()
}

func (r *Redis) Holder(ctx context.Context, deviceID string) (string, error) {
	val, err := r.client.Get(ctx, r.prefix+deviceID).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	return val, err
}
