package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/lalithlochan/courier/internal/metrics"
	"github.com/lalithlochan/courier/internal/redis"
)

// RateLimitMiddleware enforces a request budget per key. The key
// function decides the bucket (recipient, IP). A nil limiter disables
// the middleware entirely so the API degrades gracefully without Redis.
func RateLimitMiddleware(limiter *redis.RateLimiter, logger *zap.Logger, cfg redis.RateLimitConfig, keyFunc func(r *http.Request) string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if limiter == nil {
				next.ServeHTTP(w, r)
				return
			}

			key := keyFunc(r)
			if key == "" {
				next.ServeHTTP(w, r)
				return
			}

			result, err := limiter.Allow(r.Context(), "api:"+key, cfg)
			if err != nil {
				// A broken limiter should not take the API down.
				logger.Warn("rate limit check failed, allowing request",
					zap.Error(err),
					zap.String("key", key),
				)
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(cfg.Limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(result.ResetAt.Unix(), 10))

			if !result.Allowed {
				metrics.RecordRateLimitRejection("api")
				retryAfter := int(time.Until(result.ResetAt).Seconds())
				if retryAfter < 1 {
					retryAfter = 1
				}
				w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
				w.Header().Set("Content-Type", "application/problem+json")
				w.WriteHeader(http.StatusTooManyRequests)
				_ = json.NewEncoder(w).Encode(ErrorResponse{
					Type:   "rate_limit_exceeded",
					Title:  "Too many requests",
					Status: http.StatusTooManyRequests,
					Detail: "Request budget exhausted; retry after the reset time",
				})

				logger.Debug("request rate limited",
					zap.String("key", key),
					zap.String("path", r.URL.Path),
				)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// RecipientKeyFunc buckets requests by recipient: the X-Recipient-ID
// header first, the recipient_id query parameter second. Requests with
// neither fall through to no key, which skips limiting.
func RecipientKeyFunc(r *http.Request) string {
	if id := r.Header.Get("X-Recipient-ID"); id != "" {
		return "recipient:" + id
	}
	if id := r.URL.Query().Get("recipient_id"); id != "" {
		return "recipient:" + id
	}
	return ""
}

// IPKeyFunc buckets requests by client IP. RemoteAddr is already
// rewritten by the RealIP middleware upstream.
func IPKeyFunc(r *http.Request) string {
	return "ip:" + r.RemoteAddr
}
