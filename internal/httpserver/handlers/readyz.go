package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/MrSnakeDoc/marks/internal/httpserver/deps"
	"github.com/MrSnakeDoc/marks/internal/logger"
)

type readyzResponse struct {
	Ready   bool   `json:"ready"`
	Backend string `json:"backend"`
}

// Readyz reports ready once the backend answers a ping.
func Readyz(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		resp := readyzResponse{Ready: true, Backend: d.Backend.Name()}
		status := http.StatusOK
		if err := d.Backend.Ping(ctx); err != nil {
			d.Logger.Warn("readiness check failed",
				logger.String("backend", d.Backend.Name()),
				logger.Error(err))
			resp.Ready = false
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, resp)
	}
}
