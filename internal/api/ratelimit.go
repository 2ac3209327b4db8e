package api

import (
	"fmt"
	"net/http"

	"github.com/redis/go-redis/v9"
	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/middleware/stdlib"
	"github.com/ulule/limiter/v3/drivers/store/memory"
	sredis "github.com/ulule/limiter/v3/drivers/store/redis"

	"github.com/ibero-data/licensor/internal/config"
)

// NewRateLimiter builds a per-IP limiter. Counters live in memory unless a
// redis URL is given, in which case instances behind a load balancer share
// them. A zero request budget disables limiting and returns nil.
func NewRateLimiter(cfg config.RateLimit, redisURL string) (*limiter.Limiter, error) {
	if cfg.Requests <= 0 {
		return nil, nil
	}

	rate := limiter.Rate{
		Period: cfg.Period.Duration,
		Limit:  cfg.Requests,
	}

	store := limiter.Store(memory.NewStore())
	if redisURL != "" {
		opts, err := redis.ParseURL(redisURL)
		if err != nil {
			return nil, fmt.Errorf("invalid redis url: %w", err)
		}
		store, err = sredis.NewStoreWithOptions(redis.NewClient(opts), limiter.StoreOptions{
			Prefix: "licensor_limiter",
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create redis limiter store: %w", err)
		}
	}

	return limiter.New(store, rate), nil
}

// RateLimit returns middleware enforcing l. A nil limiter lets every request
// through.
func RateLimit(l *limiter.Limiter) func(http.Handler) http.Handler {
	if l == nil {
		return func(next http.Handler) http.Handler { return next }
	}

	mw := stdlib.NewMiddleware(l, stdlib.WithLimitReachedHandler(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusTooManyRequests, "Rate limit exceeded")
	}))
	return mw.Handler
}
