// Package ratelimit enforces per-provider throughput caps with fixed
// windows (second/minute/hour/day) backed by Redis.
//
// Reservations are all-or-nothing across every active window: a single Lua
// script checks all caps and only increments when every window has headroom.
// This prevents the partial-reservation skew that a GET → check → INCR
// sequence would allow under concurrency. Reservations are never released —
// the limiter models transport throughput, not business success.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/titledesk/mailroom/internal/domain"
	"github.com/titledesk/mailroom/internal/pkg/logger"
)

// ErrUnknownProvider is returned for provider ids with no configured caps.
var ErrUnknownProvider = errors.New("no rate caps configured for provider")

// RateLimitExceededError reports a denied reservation. RetryAfter is the
// time remaining in the tightest exhausted window.
type RateLimitExceededError struct {
	ProviderID string
	Window     string
	RetryAfter time.Duration
}

func (e *RateLimitExceededError) Error() string {
	return fmt.Sprintf("rate limit exceeded for %s (%s window, retry in %s)", e.ProviderID, e.Window, e.RetryAfter)
}

// Limiter reserves send capacity against per-provider window counters.
type Limiter struct {
	redis *redis.Client
	caps  map[string]domain.RateCaps

	reserveScript *redis.Script

	now func() time.Time
}

// Lua script for the atomic multi-window reservation. Checks every capped
// window before incrementing any of them. A cap of 0 means unlimited.
const reserveLuaScript = `
local cost = tonumber(ARGV[1])
local caps = {tonumber(ARGV[2]), tonumber(ARGV[3]), tonumber(ARGV[4]), tonumber(ARGV[5])}
local ttls = {tonumber(ARGV[6]), tonumber(ARGV[7]), tonumber(ARGV[8]), tonumber(ARGV[9])}

for i = 1, 4 do
    if caps[i] > 0 then
        local current = tonumber(redis.call("GET", KEYS[i]) or "0")
        if current + cost > caps[i] then
            return {0, i}
        end
    end
end

for i = 1, 4 do
    if caps[i] > 0 then
        local newVal = redis.call("INCRBY", KEYS[i], cost)
        if newVal == cost then
            redis.call("EXPIRE", KEYS[i], ttls[i])
        end
    end
end

return {1, 0}
`

// New creates a limiter over the given Redis client with per-provider caps.
func New(redisClient *redis.Client, providers []domain.ProviderConfig) *Limiter {
	caps := make(map[string]domain.RateCaps, len(providers))
	for _, p := range providers {
		caps[p.ID] = p.RateCaps
	}
	return &Limiter{
		redis:         redisClient,
		caps:          caps,
		reserveScript: redis.NewScript(reserveLuaScript),
		now:           time.Now,
	}
}

// NewFromURL creates a limiter by connecting to Redis.
func NewFromURL(redisURL string, providers []domain.ProviderConfig) (*Limiter, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	logger.Info("rate limiter connected to redis")
	return New(client, providers), nil
}

var windowNames = [4]string{"second", "minute", "hour", "day"}

// Reserve atomically claims cost units of capacity across every active
// window for the provider. On denial it returns a *RateLimitExceededError
// whose RetryAfter reflects the tightest exhausted window.
func (l *Limiter) Reserve(ctx context.Context, providerID string, cost int) error {
	caps, ok := l.caps[providerID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownProvider, providerID)
	}
	if cost <= 0 {
		cost = 1
	}

	now := l.now()
	keys := l.windowKeys(providerID, now)

	result, err := l.reserveScript.Run(ctx, l.redis, keys[:],
		cost,
		caps.PerSecond, caps.PerMinute, caps.PerHour, caps.PerDay,
		2,     // second TTL
		120,   // minute TTL
		7200,  // hour TTL
		90000, // daily TTL (25 hours)
	).Slice()
	if err != nil {
		return fmt.Errorf("rate limit reservation failed: %w", err)
	}

	allowed := result[0].(int64) == 1
	if allowed {
		return nil
	}

	window := int(result[1].(int64)) - 1 // 0-based window index
	return &RateLimitExceededError{
		ProviderID: providerID,
		Window:     windowNames[window],
		RetryAfter: timeToWindowEnd(now, window),
	}
}

// Usage returns a read-only snapshot of the provider's window counters.
// Used by the selector for headroom checks without consuming capacity.
func (l *Limiter) Usage(ctx context.Context, providerID string) (domain.RateLimitInfo, error) {
	caps, ok := l.caps[providerID]
	if !ok {
		return domain.RateLimitInfo{}, fmt.Errorf("%w: %s", ErrUnknownProvider, providerID)
	}

	keys := l.windowKeys(providerID, l.now())
	pipe := l.redis.Pipeline()
	cmds := make([]*redis.StringCmd, 4)
	for i, key := range keys {
		cmds[i] = pipe.Get(ctx, key)
	}
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return domain.RateLimitInfo{}, err
	}

	info := domain.RateLimitInfo{ProviderID: providerID, Caps: caps}
	info.UsedSecond, _ = cmds[0].Int64()
	info.UsedMinute, _ = cmds[1].Int64()
	info.UsedHour, _ = cmds[2].Int64()
	info.UsedDay, _ = cmds[3].Int64()
	if caps.PerDay > 0 {
		info.RemainingToday = int64(caps.PerDay) - info.UsedDay
		if info.RemainingToday < 0 {
			info.RemainingToday = 0
		}
	}
	return info, nil
}

// Close closes the Redis connection.
func (l *Limiter) Close() error {
	return l.redis.Close()
}

func (l *Limiter) windowKeys(providerID string, now time.Time) [4]string {
	return [4]string{
		fmt.Sprintf("ratelimit:%s:sec:%d", providerID, now.Unix()),
		fmt.Sprintf("ratelimit:%s:min:%d", providerID, now.Unix()/60),
		fmt.Sprintf("ratelimit:%s:hour:%d", providerID, now.Unix()/3600),
		fmt.Sprintf("ratelimit:%s:day:%s", providerID, now.UTC().Format("2006-01-02")),
	}
}

// timeToWindowEnd computes how long until the window containing now rolls
// over. Windows are aligned to wall-clock boundaries (UTC for the day).
func timeToWindowEnd(now time.Time, window int) time.Duration {
	switch window {
	case 0:
		return now.Truncate(time.Second).Add(time.Second).Sub(now)
	case 1:
		return now.Truncate(time.Minute).Add(time.Minute).Sub(now)
	case 2:
		return now.Truncate(time.Hour).Add(time.Hour).Sub(now)
	default:
		u := now.UTC()
		midnight := time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC).Add(24 * time.Hour)
		return midnight.Sub(u)
	}
}
