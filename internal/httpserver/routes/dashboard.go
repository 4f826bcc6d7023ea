package routes

import (
	"github.com/go-chi/chi/v5"

	"github.com/MrSnakeDoc/marks/internal/httpserver/deps"
	"github.com/MrSnakeDoc/marks/internal/httpserver/handlers"
	"github.com/MrSnakeDoc/marks/internal/httpserver/mw"
)

func init() { Register("dashboard", registerDashboard) }

// The socket is not behind RequireIdentity: a signed out client still gets
// a view, it just stays empty.
func registerDashboard(r chi.Router, d deps.Deps) {
	hosts := r.With(mw.EnforceHost(d.AllowedHosts, d.Logger))
	hosts.Get("/api/dashboard/ws", handlers.Dashboard(d))
	hosts.Post("/api/logout", handlers.Logout(d))
}
