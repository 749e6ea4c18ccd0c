// Package redisstore backs the rate limiter with Redis so several bot
// instances share suppression records.
//
// Each policy owns three keys sharing one hash tag: an order set scored by
// a per-policy INCR sequence, an expiry set scored by expiry time in ms, and
// the sequence counter. One Lua script trims expired members, checks the
// subject, admits it and evicts the lowest sequence numbers past capacity.
// Timestamps come from the caller, so instances should run with synced
// clocks.
package redisstore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"

	"github.com/AlexKimmel/tgbot/internal/ratelimit"
)

const keyPrefix = "throttle"

// KEYS: order set, expiry set, sequence. ARGV: window ms, now ms, capacity,
// subject. Returns {admitted, expires_at_ms}.
var admitScript = redis.NewScript(`
local window = tonumber(ARGV[1])
local now = tonumber(ARGV[2])
local capacity = tonumber(ARGV[3])
local subject = ARGV[4]

local expired = redis.call('ZRANGEBYSCORE', KEYS[2], '-inf', now)
for _, member in ipairs(expired) do
	redis.call('ZREM', KEYS[1], member)
end
redis.call('ZREMRANGEBYSCORE', KEYS[2], '-inf', now)

local live = redis.call('ZSCORE', KEYS[2], subject)
if live then
	return {0, tonumber(live)}
end

local seq = redis.call('INCR', KEYS[3])
redis.call('ZADD', KEYS[1], seq, subject)
redis.call('ZADD', KEYS[2], now + window, subject)

local over = redis.call('ZCARD', KEYS[1]) - capacity
if over > 0 then
	local evicted = redis.call('ZRANGE', KEYS[1], 0, over - 1)
	for _, member in ipairs(evicted) do
		redis.call('ZREM', KEYS[2], member)
	end
	redis.call('ZREMRANGEBYRANK', KEYS[1], 0, over - 1)
end

for i = 1, 3 do
	redis.call('PEXPIRE', KEYS[i], window)
end
return {1, now + window}
`)

type Config struct {
	URL string // redis://[:password@]host:port/db
}

type Limiter struct {
	client *redis.Client
	owned  bool

	mu       sync.RWMutex
	policies map[string]ratelimit.Policy
}

var _ ratelimit.Limiter = (*Limiter)(nil)

// New connects to Redis and fails if the server does not answer a ping.
func New(cfg Config, logger zerolog.Logger) (*Limiter, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		logger.Error().Err(err).Str("addr", opts.Addr).Msg("failed to connect to redis")
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	logger.Info().Str("addr", opts.Addr).Int("db", opts.DB).Msg("redis connected")

	l := NewWithClient(client)
	l.owned = true
	return l, nil
}

// NewWithClient wraps an existing client; Close leaves it open.
func NewWithClient(client *redis.Client) *Limiter {
	return &Limiter{
		client:   client,
		policies: make(map[string]ratelimit.Policy),
	}
}

func (l *Limiter) Close() error {
	if !l.owned {
		return nil
	}
	return l.client.Close()
}

// Register behaves like the in-memory limiter: a repeated name is a no-op.
func (l *Limiter) Register(p ratelimit.Policy) error {
	if err := p.Validate(); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.policies[p.Name]; !ok {
		l.policies[p.Name] = p
	}
	return nil
}

func (l *Limiter) Allow(ctx context.Context, policy, subject string, now time.Time) (ratelimit.Decision, error) {
	p, err := l.lookup(policy)
	if err != nil {
		return ratelimit.Decision{}, err
	}

	res, err := admitScript.Run(ctx, l.client, policyKeys(p.Name),
		p.Window.Milliseconds(),
		now.UnixMilli(),
		int64(p.Capacity),
		subject,
	).Slice()
	if err != nil {
		return ratelimit.Decision{}, fmt.Errorf("redis admit %s/%s: %w", p.Name, subject, err)
	}
	if len(res) != 2 {
		return ratelimit.Decision{}, fmt.Errorf("redis admit %s/%s: unexpected reply %v", p.Name, subject, res)
	}
	allowed, _ := res[0].(int64)
	expiresAt, _ := res[1].(int64)

	return ratelimit.Decision{
		Allowed:   allowed == 1,
		Policy:    p.Name,
		ExpiresAt: time.UnixMilli(expiresAt),
	}, nil
}

func (l *Limiter) lookup(name string) (ratelimit.Policy, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if p, ok := l.policies[name]; ok {
		return p, nil
	}
	if p, ok := l.policies[ratelimit.DefaultPolicy]; ok {
		return p, nil
	}
	return ratelimit.Policy{}, fmt.Errorf("%w: %q (no %q fallback registered)", ratelimit.ErrUnknownPolicy, name, ratelimit.DefaultPolicy)
}

// policyKeys returns the order set, expiry set and sequence keys. The
// braces keep all three in one cluster slot.
func policyKeys(policy string) []string {
	tag := keyPrefix + ":{" + policy + "}:"
	return []string{tag + "order", tag + "expiry", tag + "seq"}
}
