package handlers

import (
	"context"
	"net/http"
	"time"
)

// HealthStatus is the /health payload.
type HealthStatus struct {
	Status    string `json:"status"`
	Service   string `json:"service"`
	Version   string `json:"version"`
	Timestamp string `json:"timestamp"`
}

// ReadyStatus is the /ready payload, one line per dependency.
type ReadyStatus struct {
	Status     string            `json:"status"`
	Components map[string]string `json:"components"`
	Timestamp  string            `json:"timestamp"`
}

// HealthCheck reports liveness. It answers 200 whenever the process
// can serve requests at all, regardless of dependency state.
func HealthCheck(version string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		RespondJSON(w, http.StatusOK, HealthStatus{
			Status:    "healthy",
			Service:   "rowsage",
			Version:   version,
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		})
	}
}

// ReadyCheck probes each dependency and answers 503 until all required
// ones pass, so orchestrators hold traffic back. A nil checker reads as
// "not configured" and never blocks readiness.
func ReadyCheck(components map[string]HealthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		status := ReadyStatus{
			Status:     "ready",
			Components: make(map[string]string),
			Timestamp:  time.Now().UTC().Format(time.RFC3339),
		}

		allReady := true
		for name, checker := range components {
			if checker == nil {
				status.Components[name] = "not configured"
				continue
			}
			if err := checker.Health(ctx); err != nil {
				status.Components[name] = "unhealthy: " + err.Error()
				allReady = false
			} else {
				status.Components[name] = "healthy"
			}
		}

		if !allReady {
			status.Status = "not ready"
			RespondJSON(w, http.StatusServiceUnavailable, status)
			return
		}

		RespondJSON(w, http.StatusOK, status)
	}
}
