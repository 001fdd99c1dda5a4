// Package ratelimit provides per-key request limiters for the HTTP API: an
// in-process token bucket and a Redis fixed window shared across replicas.
package ratelimit

import (
	"context"
	"errors"
	"math"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"
)

// Decision is the outcome of one Allow call.
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// Limiter admits or rejects a request for key.
type Limiter interface {
	Allow(ctx context.Context, key string) (Decision, error)
}

// ErrCapacity is returned when the memory limiter tracks too many keys.
var ErrCapacity = errors.New("rate limiter capacity exceeded")

// MemoryConfig configures NewMemoryLimiter.
type MemoryConfig struct {
	Limit   int
	Window  time.Duration
	Burst   int
	MaxKeys int
	Now     func() time.Time
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

type memoryLimiter struct {
	mu       sync.Mutex
	visitors map[string]*visitor
	every    rate.Limit
	limit    int
	burst    int
	window   time.Duration
	maxKeys  int
	now      func() time.Time
}

// NewMemoryLimiter refills Limit tokens per Window for each key, allowing
// bursts of Burst (Limit when unset).
func NewMemoryLimiter(cfg MemoryConfig) Limiter {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Window <= 0 {
		cfg.Window = time.Minute
	}
	if cfg.Burst <= 0 {
		cfg.Burst = cfg.Limit
	}
	if cfg.MaxKeys <= 0 {
		cfg.MaxKeys = 10000
	}
	m := &memoryLimiter{
		visitors: make(map[string]*visitor),
		limit:    cfg.Limit,
		burst:    cfg.Burst,
		window:   cfg.Window,
		maxKeys:  cfg.MaxKeys,
		now:      cfg.Now,
	}
	if cfg.Limit > 0 {
		m.every = rate.Every(cfg.Window / time.Duration(cfg.Limit))
	}
	return m
}

func (m *memoryLimiter) Allow(_ context.Context, key string) (Decision, error) {
	if m.limit <= 0 {
		return Decision{Allowed: true, Limit: m.limit, Remaining: m.limit}, nil
	}
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.visitors[key]
	if !ok {
		if len(m.visitors) >= m.maxKeys {
			m.gc(now)
		}
		if len(m.visitors) >= m.maxKeys {
			return Decision{}, ErrCapacity
		}
		v = &visitor{limiter: rate.NewLimiter(m.every, m.burst)}
		m.visitors[key] = v
	}
	v.lastSeen = now
	allowed := v.limiter.AllowN(now, 1)
	tokens := v.limiter.TokensAt(now)
	d := Decision{
		Allowed:   allowed,
		Limit:     m.burst,
		Remaining: int(math.Max(0, math.Floor(tokens))),
	}
	if missing := 1 - tokens; missing > 0 {
		d.ResetAt = now.Add(time.Duration(missing / float64(m.every) * float64(time.Second)))
	} else {
		d.ResetAt = now
	}
	return d, nil
}

// gc drops visitors idle for longer than a window; their buckets are full again.
func (m *memoryLimiter) gc(now time.Time) {
	for key, v := range m.visitors {
		if now.Sub(v.lastSeen) > m.window {
			delete(m.visitors, key)
		}
	}
}

var redisAllowScript = redis.NewScript(`
local current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
local ttl = redis.call("PTTL", KEYS[1])
return {current, ttl}
`)

type redisLimiter struct {
	client redis.Scripter
	prefix string
	limit  int
	window time.Duration
	now    func() time.Time
}

// RedisConfig configures NewRedisLimiter.
type RedisConfig struct {
	Limit  int
	Window time.Duration
	Prefix string
	Now    func() time.Time
}

// NewRedisLimiter counts requests per key in fixed windows stored in Redis.
func NewRedisLimiter(client redis.Scripter, cfg RedisConfig) (Limiter, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Window <= 0 {
		cfg.Window = time.Minute
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "tracecore:ratelimit:"
	}
	return &redisLimiter{client: client, prefix: cfg.Prefix, limit: cfg.Limit, window: cfg.Window, now: cfg.Now}, nil
}

func (r *redisLimiter) Allow(ctx context.Context, key string) (Decision, error) {
	if r.limit <= 0 {
		return Decision{Allowed: true, Limit: r.limit, Remaining: r.limit}, nil
	}
	windowMillis := r.window.Milliseconds()
	if windowMillis <= 0 {
		windowMillis = 1000
	}
	result, err := redisAllowScript.Run(ctx, r.client, []string{r.prefix + key}, windowMillis).Result()
	if err != nil {
		return Decision{}, err
	}
	values, ok := result.([]any)
	if !ok || len(values) < 2 {
		return Decision{}, errors.New("unexpected redis rate limit response")
	}
	current, ok := values[0].(int64)
	if !ok {
		return Decision{}, errors.New("invalid redis counter response")
	}
	ttlMillis, _ := values[1].(int64)
	resetAt := r.now()
	if ttlMillis > 0 {
		resetAt = resetAt.Add(time.Duration(ttlMillis) * time.Millisecond)
	}
	return Decision{
		Allowed:   current <= int64(r.limit),
		Limit:     r.limit,
		Remaining: max(r.limit-int(current), 0),
		ResetAt:   resetAt,
	}, nil
}
