package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	red "github.com/redis/go-redis/v9"

	"github.com/kgtech-org/process-manager-sub004/internal/core/port"
)

const defaultRateLimitPrefix = "ratelimit"

// KEYS[1] = window key
// ARGV[1] = now (unix micros)
// ARGV[2] = window floor (unix micros)
// ARGV[3] = limit
// ARGV[4] = member id
// ARGV[5] = key ttl (millis)
//
// Returns {allowed, count, oldest score}.
var slidingWindowLua = red.NewScript(`
redis.call('ZREMRANGEBYSCORE', KEYS[1], '-inf', '(' .. ARGV[2])
local count = redis.call('ZCARD', KEYS[1])
local allowed = 0
if count < tonumber(ARGV[3]) then
  redis.call('ZADD', KEYS[1], ARGV[1], ARGV[4])
  count = count + 1
  allowed = 1
end
if tonumber(ARGV[5]) > 0 then
  redis.call('PEXPIRE', KEYS[1], ARGV[5])
end
local first = redis.call('ZRANGE', KEYS[1], 0, 0, 'WITHSCORES')
local oldest = ''
if first[2] then
  oldest = first[2]
end
return {allowed, count, oldest}
`)

// SlidingWindowConfig configures the sorted-set limiter store.
type SlidingWindowConfig struct {
	KeyPrefix string
	TTL       time.Duration
}

// RateLimitRepository keeps per-key attempt timestamps in Redis sorted sets.
type RateLimitRepository struct {
	client *red.Client
	cfg    SlidingWindowConfig
}

// NewRateLimitRepository constructs a sliding-window store.
func NewRateLimitRepository(client *red.Client, cfg SlidingWindowConfig) *RateLimitRepository {
	if strings.TrimSpace(cfg.KeyPrefix) == "" {
		cfg.KeyPrefix = defaultRateLimitPrefix
	}
	return &RateLimitRepository{client: client, cfg: cfg}
}

// Hit trims the window, then records the attempt when the limit allows it.
// The key TTL is never shorter than the window.
func (r *RateLimitRepository) Hit(ctx context.Context, key string, limit int, window time.Duration, now time.Time) (port.RateWindow, error) {
	if window <= 0 || limit <= 0 {
		return port.RateWindow{}, errors.New("window and limit must be positive")
	}

	ttl := r.cfg.TTL
	if ttl < window {
		ttl = window
	}

	values, err := slidingWindowLua.Run(ctx, r.client,
		[]string{r.key(key)},
		now.UnixMicro(),
		now.Add(-window).UnixMicro(),
		limit,
		uuid.NewString(),
		ttl.Milliseconds(),
	).Slice()
	if err != nil {
		return port.RateWindow{}, fmt.Errorf("redis sliding window: %w", err)
	}
	if len(values) != 3 {
		return port.RateWindow{}, fmt.Errorf("redis sliding window: unexpected reply %v", values)
	}

	allowed, _ := values[0].(int64)
	count, _ := values[1].(int64)
	result := port.RateWindow{Allowed: allowed == 1, Count: int(count)}

	if raw, ok := values[2].(string); ok && raw != "" {
		micros, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return port.RateWindow{}, fmt.Errorf("redis sliding window: parse score %q: %w", raw, err)
		}
		result.Oldest = time.UnixMicro(int64(micros))
	}
	return result, nil
}

func (r *RateLimitRepository) key(identifier string) string {
	return fmt.Sprintf("%s:%s", r.cfg.KeyPrefix, identifier)
}

var _ port.RateLimitStore = (*RateLimitRepository)(nil)
