package ratelimiter

import (
	"hash/fnv"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/dmitrymomot/paygate/pkg/clientip"
	"github.com/dmitrymomot/paygate/pkg/httpx"
	"github.com/dmitrymomot/paygate/pkg/logger"
)

const maxKeyLength = 64

// KeyFunc extracts a rate limit key from the request. An empty key skips limiting.
type KeyFunc func(r *http.Request) string

// ByClientIP keys requests by the address resolved by clientip.
func ByClientIP(r *http.Request) string {
	if ip := clientip.FromContext(r.Context()); ip != "" {
		return ip
	}
	return clientip.GetIP(r)
}

// ByPath keys requests by route path.
func ByPath(r *http.Request) string { return r.URL.Path }

// Composite joins the non-empty keys. Long keys are hashed with FNV-1a.
func Composite(fns ...KeyFunc) KeyFunc {
	return func(r *http.Request) string {
		parts := make([]string, 0, len(fns))
		for _, fn := range fns {
			if k := fn(r); k != "" {
				parts = append(parts, k)
			}
		}
		key := strings.Join(parts, ":")
		if len(key) <= maxKeyLength {
			return key
		}
		h := fnv.New64a()
		h.Write([]byte(key))
		return strconv.FormatUint(h.Sum64(), 36)
	}
}

// Middleware rejects requests over the limit with 429. A failing store lets
// the request through and logs a warning.
func Middleware(b *Bucket, key KeyFunc, log *slog.Logger) func(http.Handler) http.Handler {
	if log == nil {
		log = logger.Nop()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			k := key(r)
			if k == "" {
				next.ServeHTTP(w, r)
				return
			}

			res, err := b.Allow(r.Context(), k)
			if err != nil {
				log.WarnContext(r.Context(), "rate limiter unavailable", logger.Error(err))
				next.ServeHTTP(w, r)
				return
			}

			h := w.Header()
			h.Set("X-RateLimit-Limit", strconv.Itoa(res.Limit))
			h.Set("X-RateLimit-Remaining", strconv.Itoa(max(0, res.Remaining)))
			h.Set("X-RateLimit-Reset", strconv.FormatInt(res.ResetAt.Unix(), 10))

			if !res.Allowed() {
				if s := int(res.RetryAfter().Seconds()); s > 0 {
					h.Set("Retry-After", strconv.Itoa(s))
				}
				httpx.Error(w, httpx.ErrTooManyRequests.WithMessage("too many requests, slow down"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
