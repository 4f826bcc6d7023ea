package routes

import (
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/MrSnakeDoc/marks/internal/httpserver/deps"
	"github.com/MrSnakeDoc/marks/internal/httpserver/handlers"
	"github.com/MrSnakeDoc/marks/internal/httpserver/mw"
)

func init() { Register("bookmarks", registerBookmarks) }

func registerBookmarks(r chi.Router, d deps.Deps) {
	writes := mw.RateLimit(mw.RateLimitConfig{
		Burst:             d.RateBurst,
		RefillPerIPPerMin: d.RateRefill,
		MaxEntries:        10_000,
		TrustProxy:        d.TrustProxy,
	})

	r.Route("/api/bookmarks", func(r chi.Router) {
		r.Use(mw.EnforceHost(d.AllowedHosts, d.Logger))
		r.Use(middleware.Timeout(10 * time.Second))
		r.Use(mw.RequireIdentity(d.Issuer, d.Logger))

		r.Get("/", handlers.ListBookmarks(d))
		r.With(writes).Post("/", handlers.CreateBookmark(d))
		r.With(writes).Post("/import", handlers.ImportBookmarks(d))
		r.With(writes).Delete("/{id}", handlers.DeleteBookmark(d))
	})
}
