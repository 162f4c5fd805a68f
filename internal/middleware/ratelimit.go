package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"

	"github.com/iliyamo/parking-spot-reservation/internal/config"
)

// bucketScript refills continuously: a bucket that is half an interval
// into a refill holds half a token.  State is {tokens, ts} in a hash and
// expires once the bucket would be full again.
var bucketScript = redis.NewScript(`
    local key = KEYS[1]
    local now = tonumber(ARGV[1])
    local capacity = tonumber(ARGV[2])
    local every = tonumber(ARGV[3])
    local ttl = tonumber(ARGV[4])

    local state = redis.call('HMGET', key, 'tokens', 'ts')
    local tokens = tonumber(state[1]) or capacity
    local ts = tonumber(state[2]) or now
    if now > ts then
        tokens = math.min(capacity, tokens + (now - ts) / every)
        ts = now
    end

    local allowed = 0
    local retry = 0
    if tokens >= 1 then
        allowed = 1
        tokens = tokens - 1
    else
        retry = math.ceil((1 - tokens) * every)
    end

    redis.call('HSET', key, 'tokens', tokens, 'ts', ts)
    redis.call('PEXPIRE', key, ttl)
    return { allowed, math.floor(tokens), retry }
`)

// Decision is the outcome of one bucket check.
type Decision struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

// Limiter is a token bucket shared by every API node through Redis.
type Limiter struct {
	rdb   redis.Scripter
	cfg   config.RateLimitConfig
	clock func() time.Time
}

// NewLimiter builds a Limiter.  clock may be nil.
func NewLimiter(cfg config.RateLimitConfig, rdb redis.Scripter, clock func() time.Time) *Limiter {
	if clock == nil {
		clock = time.Now
	}
	return &Limiter{rdb: rdb, cfg: cfg, clock: clock}
}

// Allow takes one token from the bucket at key.
func (l *Limiter) Allow(ctx context.Context, key string) (Decision, error) {
	res, err := bucketScript.Run(ctx, l.rdb, []string{key},
		l.clock().UnixMilli(),
		l.cfg.Capacity,
		l.cfg.RefillEvery.Milliseconds(),
		l.cfg.TTL().Milliseconds(),
	).Int64Slice()
	if err != nil {
		return Decision{}, err
	}
	if len(res) != 3 {
		return Decision{}, fmt.Errorf("ratelimit: unexpected script result %v", res)
	}
	return Decision{
		Allowed:    res[0] == 1,
		Remaining:  int(res[1]),
		RetryAfter: time.Duration(res[2]) * time.Millisecond,
	}, nil
}

// Key returns the bucket a request draws from.  Anonymous callers are
// keyed by address; they never reach a limited route past JWTAuth, but the
// limiter must not share one bucket between them if they do.
func (l *Limiter) Key(c echo.Context) string {
	who := "user:" + UserID(c)
	if UserID(c) == "" {
		who = "ip:" + c.RealIP()
	}
	if l.cfg.Scope == config.ScopeUser {
		return l.cfg.Prefix + ":" + who
	}
	return l.cfg.Prefix + ":" + who + ":" + actionOf(c.Path())
}

// actionOf names the limited action of a route template: the last path
// segment for spot actions and "admin" for every layout write.
func actionOf(route string) string {
	if strings.Contains(route, "/admin/") {
		return "admin"
	}
	route = strings.TrimRight(route, "/")
	if i := strings.LastIndexByte(route, '/'); i >= 0 {
		return route[i+1:]
	}
	return route
}

// Middleware rejects requests with 429 once the caller's bucket is empty.
// If Redis fails the request is let through; a limiter outage must not
// block reservations.
func (l *Limiter) Middleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		key := l.Key(c)
		d, err := l.Allow(c.Request().Context(), key)
		if err != nil {
			c.Logger().Warnf("ratelimit: %s: %v", key, err)
			return next(c)
		}
		h := c.Response().Header()
		h.Set("X-RateLimit-Limit", strconv.Itoa(l.cfg.Capacity))
		h.Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
		if d.Allowed {
			return next(c)
		}
		secs := int((d.RetryAfter + time.Second - 1) / time.Second)
		h.Set("Retry-After", strconv.Itoa(secs))
		return c.JSON(http.StatusTooManyRequests, echo.Map{
			"error":       "rate_limited",
			"message":     "too many requests",
			"retry_after": secs,
		})
	}
}

// NewTokenBucket returns the limiting middleware, or a pass-through when
// limiting is disabled or Redis is not configured.
func NewTokenBucket(cfg config.RateLimitConfig, rdb *redis.Client) echo.MiddlewareFunc {
	if !cfg.Enabled || rdb == nil {
		return func(next echo.HandlerFunc) echo.HandlerFunc { return next }
	}
	return NewLimiter(cfg, rdb, nil).Middleware
}
