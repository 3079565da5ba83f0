package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/stiffinWanjohi/medrelay/internal/ratelimit"
)

const (
	globalRateLimitKey       = "global"
	rateLimitClientKeyPrefix = "client:"

	// ClientIDHeader identifies the sending system for per-client limits.
	ClientIDHeader = "X-Client-ID"
)

// RateLimitConfig holds rate limiting configuration.
type RateLimitConfig struct {
	GlobalLimit int // requests per second across all clients (0 = unlimited)
	ClientLimit int // requests per second per client (0 = unlimited)
}

// RateLimitMiddleware rejects ingest requests over the configured limits
// with 429. A nil limiter disables limiting.
func RateLimitMiddleware(limiter *ratelimit.Limiter, cfg RateLimitConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if limiter == nil || (cfg.GlobalLimit <= 0 && cfg.ClientLimit <= 0) {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			if cfg.GlobalLimit > 0 && !limiter.Allow(ctx, globalRateLimitKey, cfg.GlobalLimit) {
				apiLog.Warn("global rate limit exceeded",
					"path", r.URL.Path,
					"remote_addr", r.RemoteAddr,
				)
				writeRateLimitResponse(w, cfg.GlobalLimit)
				return
			}

			if clientID := r.Header.Get(ClientIDHeader); cfg.ClientLimit > 0 && clientID != "" {
				if !limiter.Allow(ctx, rateLimitClientKeyPrefix+clientID, cfg.ClientLimit) {
					apiLog.Warn("client rate limit exceeded",
						"client_id", clientID,
						"path", r.URL.Path,
					)
					writeRateLimitResponse(w, cfg.ClientLimit)
					return
				}
			}

			next.ServeHTTP(w, r)
		})
	}
}

func writeRateLimitResponse(w http.ResponseWriter, limit int) {
	w.Header().Set("Retry-After", "1")
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(limit))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(time.Now().Add(time.Second).Unix(), 10))
	respondJSON(w, http.StatusTooManyRequests, map[string]any{
		"error":       "rate limit exceeded",
		"code":        "RATE_LIMITED",
		"retry_after": 1,
	})
}
