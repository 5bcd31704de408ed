package ratelimit

import (
	"context"
	"fmt"
	"hash/fnv"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/beamline/gateway/internal/breaker"
)

// RedisConfig configures the remote backend, matching
// C_GATEWAY_REDIS_RATE_LIMIT_* of spec.md §6.
type RedisConfig struct {
	Addr               string
	PoolSize           int
	DialTimeout        time.Duration
	ReadTimeout        time.Duration
	AcquireTimeout     time.Duration
	MaxRetries         int
	RetryBackoff       time.Duration
	WindowSlack        time.Duration
	Breaker            breaker.Config
	FailOpen           bool
}

// incrScript is the atomic INCR+conditional-EXPIRE operation of spec.md
// §4.3.2: "count = INCR key; if count == 1: EXPIRE key (window_sec+slack)".
// Run server-side so the check-then-set is atomic across concurrent
// gateway instances.
var incrScript = redis.NewScript(`
local count = redis.call("INCR", KEYS[1])
if count == 1 then
	redis.call("EXPIRE", KEYS[1], ARGV[1])
end
local ttl = redis.call("TTL", KEYS[1])
return {count, ttl}
`)

// RedisLimiter is the remote key-value backend of spec.md §4.3.2,
// pool-backed by go-redis's own connection pool (PoolSize/DialTimeout)
// and guarded by a breaker.Breaker per §4.3.3/§4.4.
type RedisLimiter struct {
	cfg     Config
	rcfg    RedisConfig
	client  *redis.Client
	breaker *breaker.Breaker
}

// NewRedisLimiter dials Redis with the given pool/timeout settings. It
// returns an error rather than silently falling back; callers that want
// spec.md §4.3.4's fallback-on-construction-failure behavior go through
// the package's New factory, which wraps the failure in a FallbackLimiter.
func NewRedisLimiter(cfg Config) (*RedisLimiter, error) {
	rc := cfg.Redis
	client := redis.NewClient(&redis.Options{
		Addr:         rc.Addr,
		PoolSize:     rc.PoolSize,
		DialTimeout:  rc.DialTimeout,
		ReadTimeout:  rc.ReadTimeout,
		MaxRetries:   0, // retries are handled explicitly below, per §4.3.2
		PoolTimeout:  rc.AcquireTimeout,
	})
	ctx, cancel := context.WithTimeout(context.Background(), rc.DialTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ratelimit: redis ping: %w", err)
	}
	return &RedisLimiter{
		cfg:     cfg,
		rcfg:    rc,
		client:  client,
		breaker: breaker.New(rc.Breaker),
	}, nil
}

// BreakerState exposes the backend's breaker state for the
// gateway_redis_ratelimit_circuit_breaker_state gauge.
func (r *RedisLimiter) BreakerState() breaker.State {
	return r.breaker.State()
}

func clientKeyHash(clientKey string) string {
	h := fnv.New64a()
	_, _ = h.Write([]byte(clientKey))
	return strconv.FormatUint(h.Sum64(), 16)
}

// Check implements Limiter. It consults the circuit breaker first; when
// Open it returns the configured fail-open/fail-closed default without
// touching the network (spec.md §4.4 "Fail-open vs fail-closed").
func (r *RedisLimiter) Check(ctx context.Context, endpoint Endpoint, tenantID, clientKey string) Result {
	if !r.breaker.AllowRequest() {
		if r.rcfg.FailOpen {
			return Result{Decision: Allowed, Degraded: true}
		}
		return Result{Decision: Exceeded, Degraded: true}
	}

	res, err := r.checkWithRetries(ctx, endpoint, tenantID, clientKey)
	if err != nil {
		r.breaker.RecordFailure()
		return Result{Decision: Error, Err: err}
	}
	r.breaker.RecordSuccess()
	return res
}

func (r *RedisLimiter) checkWithRetries(ctx context.Context, endpoint Endpoint, tenantID, clientKey string) (Result, error) {
	var lastErr error
	attempts := r.rcfg.MaxRetries + 1
	for i := 0; i < attempts; i++ {
		res, err := r.doCheck(ctx, endpoint, tenantID, clientKey)
		if err == nil {
			return res, nil
		}
		lastErr = err
		if !isRetryable(err) {
			return Result{}, err
		}
		if i < attempts-1 {
			select {
			case <-time.After(r.rcfg.RetryBackoff):
			case <-ctx.Done():
				return Result{}, ctx.Err()
			}
		}
	}
	return Result{}, lastErr
}

// isRetryable restricts retries to network-class errors, per spec.md
// §4.3.2 ("only network-class errors are retried"); redis.Nil and script
// errors are not retried.
func isRetryable(err error) bool {
	if err == redis.Nil {
		return false
	}
	type timeouter interface{ Timeout() bool }
	if t, ok := err.(timeouter); ok {
		return t.Timeout()
	}
	return err == context.DeadlineExceeded
}

func (r *RedisLimiter) doCheck(ctx context.Context, endpoint Endpoint, tenantID, clientKey string) (Result, error) {
	now := time.Now()
	windowSec := r.cfg.WindowSeconds
	if windowSec <= 0 {
		windowSec = 1
	}
	bucketTS := (now.Unix() / windowSec) * windowSec
	key := fmt.Sprintf("rl:ip:%s:%s:%d", endpoint, clientKeyHash(clientKey), bucketTS)

	ttlArg := int(windowSec + int64(r.rcfg.WindowSlack.Seconds()))
	out, err := incrScript.Run(ctx, r.client, []string{key}, ttlArg).Result()
	if err != nil {
		return Result{}, err
	}
	vals, ok := out.([]interface{})
	if !ok || len(vals) != 2 {
		return Result{}, fmt.Errorf("ratelimit: unexpected script reply shape")
	}
	count, _ := vals[0].(int64)
	ttl, _ := vals[1].(int64)
	if ttl < 0 {
		ttl = windowSec
	}

	limit := r.cfg.LimitFor(endpoint)
	resetAt := bucketTS + windowSec
	if count > int64(limit) {
		return Result{
			Decision:   Exceeded,
			Limit:      limit,
			Remaining:  0,
			ResetAt:    resetAt,
			RetryAfter: ttl,
		}, nil
	}
	remaining := int(int64(limit) - count)
	if remaining < 0 {
		remaining = 0
	}
	return Result{
		Decision:  Allowed,
		Limit:     limit,
		Remaining: remaining,
		ResetAt:   resetAt,
	}, nil
}

// Close shuts down the Redis client connection pool.
func (r *RedisLimiter) Close() error {
	return r.client.Close()
}
