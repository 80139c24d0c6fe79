package handlers

import (
	"context"
	"net/http"
	"time"

	"reel/internal/httpkit"
)

const healthCheckTimeout = 5 * time.Second

// Health reports queue connectivity and per-state job counts. It answers
// 503 when the store cannot be reached so probes can act on it.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	start := time.Now()
	counts, err := h.store.Counts(ctx)
	latency := time.Since(start).Milliseconds()

	if err != nil {
		h.log.FromContext(r.Context()).Warn("health check failed", "error", err.Error())
		httpkit.WriteJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "unavailable",
			"queue": map[string]any{
				"status":     "error",
				"error":      "queue store unreachable",
				"latency_ms": latency,
			},
		})
		return
	}

	httpkit.WriteJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"queue": map[string]any{
			"status":     "ok",
			"latency_ms": latency,
		},
		"counts":  counts,
		"storage": h.storage.Provider(),
	})
}
