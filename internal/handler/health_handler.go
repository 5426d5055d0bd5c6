package handler

import (
	"context"
	"net/http"
	"time"

	"gatepass-agent/internal/session"
)

// Pinger is the store probe used by readiness.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Health reports liveness plus the agent's instance ID.
func Health(instanceID string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{
			"status":   "ok",
			"instance": instanceID,
		})
	}
}

type probeResult struct {
	Status    string `json:"status"`
	LatencyMs int64  `json:"latency_ms,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Ready reports readiness: the local store must be writable. Session state
// is included for operators but does not gate readiness; an unauthenticated
// agent is still a healthy agent.
func Ready(store Pinger, manager *session.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		probe := probeStore(ctx, store)

		status, code := "ready", http.StatusOK
		if probe.Status != "up" {
			status, code = "not_ready", http.StatusServiceUnavailable
		}

		writeJSON(w, code, map[string]any{
			"status":    status,
			"timestamp": time.Now().Format(time.RFC3339),
			"session":   manager.State().String(),
			"checks":    map[string]probeResult{"store": probe},
		})
	}
}

func probeStore(ctx context.Context, store Pinger) probeResult {
	start := time.Now()
	err := store.Ping(ctx)
	latency := time.Since(start).Milliseconds()

	if err != nil {
		return probeResult{Status: "down", LatencyMs: latency, Error: err.Error()}
	}
	return probeResult{Status: "up", LatencyMs: latency}
}
