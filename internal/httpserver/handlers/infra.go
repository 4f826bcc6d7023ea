package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/MrSnakeDoc/marks/internal/httpserver/deps"
)

type componentStatus struct {
	OK     bool   `json:"ok"`
	Mode   string `json:"mode,omitempty"`
	Views  *int64 `json:"views,omitempty"`
	Impact string `json:"impact,omitempty"`
	Error  string `json:"error,omitempty"`
}

type infraResponse struct {
	Status     string                     `json:"status"`
	Components map[string]componentStatus `json:"components"`
}

func Infra(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var views int64
		if d.Views != nil {
			views = d.Views.Load()
		}

		components := map[string]componentStatus{
			"backend": checkBackend(r.Context(), d),
			"dashboard": {
				OK:    true,
				Mode:  string(d.Reconciliation),
				Views: &views,
			},
		}

		writeJSON(w, http.StatusOK, infraResponse{
			Status:     determineStatus(components),
			Components: components,
		})
	}
}

func determineStatus(components map[string]componentStatus) string {
	if b, ok := components["backend"]; ok && !b.OK {
		return "critical" // no store, no feed, no sessions
	}
	return "ok"
}

func checkBackend(parent context.Context, d deps.Deps) componentStatus {
	if d.Backend == nil {
		return componentStatus{
			OK:     false,
			Impact: "dashboard-unavailable",
			Error:  "backend not initialized",
		}
	}

	ctx, cancel := context.WithTimeout(parent, 2*time.Second)
	defer cancel()

	if err := d.Backend.Ping(ctx); err != nil {
		return componentStatus{
			OK:     false,
			Mode:   d.Backend.Name(),
			Impact: "dashboard-unavailable",
			Error:  err.Error(),
		}
	}

	return componentStatus{OK: true, Mode: d.Backend.Name()}
}
