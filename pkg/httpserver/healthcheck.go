package httpserver

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/dmitrymomot/paygate/pkg/logger"
)

// Check is a named dependency health check.
type Check struct {
	Name string
	Fn   func(context.Context) error
}

// HealthCheckHandler answers 200 when every check passes and 503 otherwise,
// with a JSON body naming each check's status. No checks means liveness only.
func HealthCheckHandler(log *slog.Logger, checks ...Check) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := http.StatusOK
		result := make(map[string]string, len(checks))
		for _, c := range checks {
			if err := c.Fn(r.Context()); err != nil {
				log.ErrorContext(r.Context(), "readiness check failed", slog.String("check", c.Name), logger.Error(err))
				result[c.Name] = "down"
				status = http.StatusServiceUnavailable
				continue
			}
			result[c.Name] = "up"
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status": http.StatusText(status),
			"checks": result,
		})
	}
}
