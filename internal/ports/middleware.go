package ports

import (
	"net/http"

	"github.com/Amund211/raidlog/internal/logging"
	"github.com/Amund211/raidlog/internal/ratelimiting"
)

func NewRateLimitMiddleware(rateLimiter ratelimiting.RequestLimiter, onLimitExceeded http.HandlerFunc) func(http.HandlerFunc) http.HandlerFunc {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			if !rateLimiter.Allow(r) {
				onLimitExceeded(w, r)
				return
			}

			next(w, r)
		}
	}
}

func makeOnLimitExceeded(rateLimiter ratelimiting.RequestLimiter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		logger := logging.FromContext(ctx)

		statusCode := http.StatusTooManyRequests

		logger.InfoContext(ctx, "Rate limit exceeded", "statusCode", statusCode, "reason", "ratelimit exceeded", "key", rateLimiter.KeyFor(r))

		http.Error(w, "Rate limit exceeded", statusCode)
	}
}

// Per-client limit for the public endpoints
func newIPRateLimitMiddleware(refillPerSecond float64, burst int) func(http.HandlerFunc) http.HandlerFunc {
	limiter, _ := ratelimiting.NewTokenBucketLimiter(refillPerSecond, burst)
	ipRateLimiter := ratelimiting.NewRequestLimiter(limiter, ratelimiting.IPKeyFunc)
	return NewRateLimitMiddleware(ipRateLimiter, makeOnLimitExceeded(ipRateLimiter))
}

func ComposeMiddlewares(middlewares ...func(http.HandlerFunc) http.HandlerFunc) func(http.HandlerFunc) http.HandlerFunc {
	if len(middlewares) == 1 {
		return middlewares[0]
	}
	first := middlewares[0]
	rest := ComposeMiddlewares(middlewares[1:]...)
	return func(h http.HandlerFunc) http.HandlerFunc {
		return first(rest(h))
	}
}
