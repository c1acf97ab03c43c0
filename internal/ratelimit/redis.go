package ratelimit

import (
	"context"
	"log"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisOptions configure the Redis-backed limiter.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
}

// RedisLimiter counts requests in Redis so the budget holds across replicas.
// It uses the INCR + EXPIRE-on-first-hit pattern: the window starts when the
// first request of a period lands and the key expires with it.
//
// Unlike the memory limiter it cannot observe its live entry count; Redis
// owns key expiry. Any Redis error denies the request: the limiter fails
// closed, never open.
type RedisLimiter struct {
	client  *redis.Client
	timeout time.Duration
	denied  atomic.Uint64
}

// NewRedisLimiter connects and pings Redis. A failed ping returns an error
// so the caller can fall back to the memory limiter.
func NewRedisLimiter(opts RedisOptions) (*RedisLimiter, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, err
	}
	return &RedisLimiter{client: client, timeout: 250 * time.Millisecond}, nil
}

// Check counts one request against the key's window. Redis INCR is atomic,
// so racing requests from one client are counted exactly once each.
func (r *RedisLimiter) Check(key string, opts Options) Decision {
	if opts.MaxRequests <= 0 || opts.Window <= 0 {
		return r.deny()
	}

	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	redisKey := opts.KeyPrefix + key
	count, err := r.client.Incr(ctx, redisKey).Result()
	if err != nil {
		log.Printf("ERROR: rate limiter incr %s: %v", redisKey, err)
		return r.deny()
	}
	if count == 1 {
		if err := r.client.Expire(ctx, redisKey, opts.Window).Err(); err != nil {
			// Without the expiry the key would count forever.
			log.Printf("ERROR: rate limiter expire %s: %v", redisKey, err)
			return r.deny()
		}
	}

	if int(count) > opts.MaxRequests {
		r.denied.Add(1)
		return Decision{Allowed: false, Remaining: 0}
	}
	return Decision{Allowed: true, Remaining: opts.MaxRequests - int(count)}
}

// Metrics reports the denial count. LiveEntries is -1: key expiry lives in
// Redis, not here.
func (r *RedisLimiter) Metrics() Metrics {
	return Metrics{Backend: "redis", LiveEntries: -1, Denied: r.denied.Load()}
}

// Close releases the Redis client.
func (r *RedisLimiter) Close() {
	if r.client != nil {
		_ = r.client.Close()
	}
}

func (r *RedisLimiter) deny() Decision {
	r.denied.Add(1)
	return Decision{Allowed: false, Remaining: 0}
}
