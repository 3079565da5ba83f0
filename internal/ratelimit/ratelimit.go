// Package ratelimit implements a Redis-backed sliding window limiter used to
// throttle message ingestion.
package ratelimit

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultWindow = time.Second

// Limiter admits at most limit requests per key inside a sliding window.
type Limiter struct {
	client *redis.Client
	prefix string
	window time.Duration
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithKeyPrefix namespaces limiter keys. Defaults to "medrelay".
func WithKeyPrefix(prefix string) Option {
	return func(l *Limiter) {
		if prefix != "" {
			l.prefix = prefix
		}
	}
}

// WithWindow sets the window length. Defaults to one second.
func WithWindow(d time.Duration) Option {
	return func(l *Limiter) {
		if d >= time.Millisecond {
			l.window = d
		}
	}
}

// New creates a limiter on top of client.
func New(client *redis.Client, opts ...Option) *Limiter {
	l := &Limiter{client: client, prefix: "medrelay", window: defaultWindow}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Allow reports whether one more request under key fits the limit.
// A limit of zero or less means unlimited. Redis errors fail open.
func (l *Limiter) Allow(ctx context.Context, key string, limit int) bool {
	if limit <= 0 {
		return true
	}
	allowed, err := l.allow(ctx, key, limit)
	if err != nil {
		return true
	}
	return allowed
}

var slidingWindowScript = redis.NewScript(`
	local key = KEYS[1]
	local now = tonumber(ARGV[1])
	local window = tonumber(ARGV[2])
	local limit = tonumber(ARGV[3])
	local member = ARGV[4]

	redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)

	if redis.call('ZCARD', key) < limit then
		redis.call('ZADD', key, now, member)
		redis.call('PEXPIRE', key, window + 1000)
		return 1
	end

	return 0
`)

func (l *Limiter) allow(ctx context.Context, key string, limit int) (bool, error) {
	now := time.Now()
	member := strconv.FormatInt(now.UnixNano(), 10)

	res, err := slidingWindowScript.Run(ctx, l.client,
		[]string{l.key(key)},
		now.UnixMilli(),
		l.window.Milliseconds(),
		limit,
		member,
	).Int()
	if err != nil {
		return false, err
	}
	return res == 1, nil
}

// Current returns the number of requests recorded for key inside the window.
func (l *Limiter) Current(ctx context.Context, key string) (int64, error) {
	floor := time.Now().Add(-l.window).UnixMilli()

	pipe := l.client.Pipeline()
	pipe.ZRemRangeByScore(ctx, l.key(key), "-inf", strconv.FormatInt(floor, 10))
	count := pipe.ZCard(ctx, l.key(key))
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return count.Val(), nil
}

// Reset clears the counter for key.
func (l *Limiter) Reset(ctx context.Context, key string) error {
	return l.client.Del(ctx, l.key(key)).Err()
}

func (l *Limiter) key(k string) string {
	return l.prefix + ":ratelimit:" + k
}
