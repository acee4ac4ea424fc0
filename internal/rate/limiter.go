package rate

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Config holds limiter tuning parameters.
type Config struct {
	EnableIPThrottle bool
	MaxAttempts      int
	Cooldown         time.Duration
	// Prefix namespaces Redis keys; ignored by the memory limiter.
	Prefix string
}

func (c Config) withDefaults() Config {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}
	if c.Cooldown <= 0 {
		c.Cooldown = 15 * time.Minute
	}
	if c.Prefix == "" {
		c.Prefix = "pubble"
	}
	return c
}

// canonicalUsername folds case and surrounding whitespace so that every
// spelling the user store resolves to one account shares one budget.
func canonicalUsername(username string) string {
	return strings.ToLower(strings.TrimSpace(username))
}

// acquireScript reserves one attempt unless the budget is spent.
// KEYS[1] counter, ARGV[1] max attempts, ARGV[2] window in ms.
// Returns the new count, or -1 when limited.
const acquireScript = `
local n = tonumber(redis.call("GET", KEYS[1]) or "0")
if n >= tonumber(ARGV[1]) then
  return -1
end
n = redis.call("INCR", KEYS[1])
if n == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return n
`

var acquireLua = redis.NewScript(acquireScript)

const releaseScript = `
local n = tonumber(redis.call("GET", KEYS[1]) or "0")
if n <= 0 then
  return 0
end
return redis.call("DECR", KEYS[1])
`

var releaseLua = redis.NewScript(releaseScript)

// RedisLimiter keeps fixed-window attempt counters in Redis so every server
// instance shares the same budget.
type RedisLimiter struct {
	redis  redis.UniversalClient
	config Config
}

// NewRedis creates a [RedisLimiter] backed by the given client.
func NewRedis(redisClient redis.UniversalClient, cfg Config) *RedisLimiter {
	return &RedisLimiter{
		redis:  redisClient,
		config: cfg.withDefaults(),
	}
}

// Acquire reserves one sign-in attempt for username, and for ip when IP
// throttling is enabled. It returns ErrRateLimited once MaxAttempts
// reservations were made in the current window. Reservation and budget
// check are a single script call, so concurrent callers cannot overspend.
func (l *RedisLimiter) Acquire(ctx context.Context, username, ip string) error {
	userKey := l.userKey(username)
	if err := l.acquire(ctx, userKey); err != nil {
		return err
	}

	if l.config.EnableIPThrottle && ip != "" {
		if err := l.acquire(ctx, l.ipKey(ip)); err != nil {
			if rerr := l.release(ctx, userKey); rerr != nil {
				return errors.Join(err, rerr)
			}
			return err
		}
	}

	return nil
}

// Release gives back an attempt reserved by Acquire that must not count,
// e.g. when the user store could not be reached.
func (l *RedisLimiter) Release(ctx context.Context, username, ip string) error {
	if err := l.release(ctx, l.userKey(username)); err != nil {
		return err
	}
	if l.config.EnableIPThrottle && ip != "" {
		return l.release(ctx, l.ipKey(ip))
	}
	return nil
}

// Reset clears the counters after a successful sign-in.
func (l *RedisLimiter) Reset(ctx context.Context, username, ip string) error {
	keys := []string{l.userKey(username)}
	if l.config.EnableIPThrottle && ip != "" {
		keys = append(keys, l.ipKey(ip))
	}

	if err := l.redis.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	return nil
}

// Attempts returns the current attempt counter for username.
// Missing keys return zero.
func (l *RedisLimiter) Attempts(ctx context.Context, username string) (int, error) {
	count, err := l.redis.Get(ctx, l.userKey(username)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if count < 0 {
		return 0, nil
	}
	return int(count), nil
}

func (l *RedisLimiter) userKey(username string) string {
	return l.config.Prefix + ":lu:" + canonicalUsername(username)
}

func (l *RedisLimiter) ipKey(ip string) string {
	return l.config.Prefix + ":li:" + ip
}

func (l *RedisLimiter) acquire(ctx context.Context, key string) error {
	n, err := acquireLua.Run(ctx, l.redis, []string{key},
		l.config.MaxAttempts, l.config.Cooldown.Milliseconds()).Int64()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if n < 0 {
		return ErrRateLimited
	}
	return nil
}

func (l *RedisLimiter) release(ctx context.Context, key string) error {
	if err := releaseLua.Run(ctx, l.redis, []string{key}).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}
