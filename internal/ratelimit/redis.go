package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker/v2"
)

// Limiter is a fixed-window rate limiter backed by Redis. Redis failures
// and an open breaker let requests through.
type Limiter struct {
	limit   int
	window  time.Duration
	prefix  string
	incr    func(ctx context.Context, key string, window time.Duration) (int64, error)
	breaker *gobreaker.CircuitBreaker[int64]
	logger  *slog.Logger
}

var fixedWindowScript = redis.NewScript(`
local current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return current
`)

func NewRedisLimiter(rdb redis.Scripter, limit int, window time.Duration, prefix string, logger *slog.Logger) *Limiter {
	return newLimiter(func(ctx context.Context, key string, window time.Duration) (int64, error) {
		res, err := fixedWindowScript.Run(ctx, rdb, []string{key}, window.Milliseconds()).Result()
		if err != nil {
			return 0, err
		}
		switch v := res.(type) {
		case int64:
			return v, nil
		case string:
			return strconv.ParseInt(v, 10, 64)
		default:
			return 0, fmt.Errorf("unexpected redis script result type %T", res)
		}
	}, limit, window, prefix, logger)
}

func newLimiter(incr func(ctx context.Context, key string, window time.Duration) (int64, error), limit int, window time.Duration, prefix string, logger *slog.Logger) *Limiter {
	if limit <= 0 {
		limit = 60
	}
	if window <= 0 {
		window = time.Minute
	}
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = "fitbook:rl"
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "ratelimit")

	l := &Limiter{limit: limit, window: window, prefix: prefix, incr: incr, logger: logger}
	l.breaker = gobreaker.NewCircuitBreaker[int64](gobreaker.Settings{
		Name:        "redis-ratelimit",
		MaxRequests: 1,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
		},
	})
	return l
}

// Allow counts one request for key and reports whether it is within the
// limit. A non-nil error means the limiter could not decide and the request
// was allowed.
func (l *Limiter) Allow(ctx context.Context, key string) (bool, error) {
	count, err := l.breaker.Execute(func() (int64, error) {
		return l.incr(ctx, l.prefix+":"+key, l.window)
	})
	if err != nil {
		return true, err
	}
	return count <= int64(l.limit), nil
}

func (l *Limiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ok, err := l.Allow(c.Request.Context(), c.ClientIP())
		if err != nil && !errors.Is(err, gobreaker.ErrOpenState) && !errors.Is(err, gobreaker.ErrTooManyRequests) {
			l.logger.Warn("redis rate limiter error", "err", err)
		}
		if !ok {
			c.Header("Retry-After", strconv.Itoa(int(l.window.Seconds())))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error_code": "rate_limited",
				"message":    "rate limit exceeded",
			})
			return
		}
		c.Next()
	}
}
