package ratelimit

import (
	"encoding/json"
	"log"
	"math"
	"net"
	"net/http"
	"strconv"
	"time"
)

// Middleware returns a handler wrapper that applies per-client limiting.
// Clients are keyed by their bearer credential when one is presented, else
// by remote IP, so callers behind one NAT are not punished collectively. A
// nil limiter disables the wrapper.
func Middleware(limiter *ClientLimiter, logger *log.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if limiter == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := clientKey(r)
			allowed, remaining, retryIn := limiter.Allow(key)
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(int(math.Floor(remaining))))
			if !allowed {
				if logger != nil {
					logger.Printf("[ratelimit] client %s throttled on %s", key, r.URL.Path)
				}
				seconds := int(math.Ceil(retryIn.Seconds()))
				if seconds < 1 {
					seconds = 1
				}
				w.Header().Set("Retry-After", strconv.Itoa(seconds))
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				_ = json.NewEncoder(w).Encode(map[string]any{
					"error": map[string]string{
						"type":    "rate_limit_error",
						"message": "too many requests, retry after " + (time.Duration(seconds) * time.Second).String(),
					},
				})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func clientKey(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		return auth
	}
	if key := r.Header.Get("X-Api-Key"); key != "" {
		return key
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
