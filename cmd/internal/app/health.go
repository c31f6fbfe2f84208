package app

import (
	"context"
	"net/http"
	"time"
)

// HealthCheck is one named readiness probe.
type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

type readyResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

// runChecks runs every check with a shared timeout and reports per-check
// results. ok is false if any check failed.
func runChecks(ctx context.Context, checks []HealthCheck, timeout time.Duration) (map[string]string, bool) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	out := make(map[string]string, len(checks))
	ok := true
	for _, c := range checks {
		if err := c.Check(ctx); err != nil {
			out[c.Name] = err.Error()
			ok = false
			continue
		}
		out[c.Name] = "ok"
	}
	return out, ok
}

func readyHandler(log Logger, checks []HealthCheck) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		results, ok := runChecks(r.Context(), checks, 3*time.Second)
		if !ok {
			log.Warn("readyz.not_ready", "checks", results)
			writeJSON(w, http.StatusServiceUnavailable, readyResponse{Status: "not_ready", Checks: results})
			return
		}
		writeJSON(w, http.StatusOK, readyResponse{Status: "ready", Checks: results})
	}
}
