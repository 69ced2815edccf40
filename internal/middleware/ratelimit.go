package middleware

import (
	"fmt"
	"net/http"

	"github.com/redis/go-redis/v9"
	"github.com/ulule/limiter/v3"
	stdlib "github.com/ulule/limiter/v3/drivers/middleware/stdlib"
	"github.com/ulule/limiter/v3/drivers/store/memory"
	sredis "github.com/ulule/limiter/v3/drivers/store/redis"
)

const rateLimitPrefix = "tripcms:ratelimit"

// RateLimiter limits requests per client IP. With a redis URL the counters
// are shared by every instance; otherwise they live in process memory.
type RateLimiter struct {
	middleware *stdlib.Middleware
	client     *redis.Client
}

// NewRateLimiter parses rate ("20-M", "5-S", "1000-H"). An empty rate
// returns a limiter whose Handler passes every request through.
//
// Clients are keyed by the connection's RemoteAddr unless trustProxy is
// set, in which case X-Forwarded-For and X-Real-IP win.
func NewRateLimiter(rate, redisURL string, trustProxy bool) (*RateLimiter, error) {
	if rate == "" {
		return &RateLimiter{}, nil
	}
	parsed, err := limiter.NewRateFromFormatted(rate)
	if err != nil {
		return nil, fmt.Errorf("middleware: parsing rate %q: %w", rate, err)
	}

	rl := &RateLimiter{}
	var store limiter.Store
	if redisURL != "" {
		opts, err := redis.ParseURL(redisURL)
		if err != nil {
			return nil, fmt.Errorf("middleware: parsing REDIS_URL: %w", err)
		}
		rl.client = redis.NewClient(opts)
		store, err = sredis.NewStoreWithOptions(rl.client, limiter.StoreOptions{Prefix: rateLimitPrefix})
		if err != nil {
			rl.client.Close()
			return nil, fmt.Errorf("middleware: creating redis limiter store: %w", err)
		}
	} else {
		store = memory.NewStoreWithOptions(limiter.StoreOptions{Prefix: rateLimitPrefix})
	}

	rl.middleware = stdlib.NewMiddleware(
		limiter.New(store, parsed, limiter.WithTrustForwardHeader(trustProxy)),
		stdlib.WithLimitReachedHandler(limitReached),
	)
	return rl, nil
}

// Handler applies the limit to next.
func (rl *RateLimiter) Handler(next http.Handler) http.Handler {
	if rl.middleware == nil {
		return next
	}
	return rl.middleware.Handler(next)
}

// Close releases the redis connection, if any.
func (rl *RateLimiter) Close() error {
	if rl.client == nil {
		return nil
	}
	return rl.client.Close()
}

func limitReached(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusTooManyRequests)
	_, _ = w.Write([]byte(`{"error":"rate_limited","message":"too many requests, try again later"}`))
}
