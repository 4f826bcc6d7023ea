package routes

import (
	"github.com/go-chi/chi/v5"

	"github.com/MrSnakeDoc/marks/internal/httpserver/deps"
	"github.com/MrSnakeDoc/marks/internal/logger"
)

// Registrar mounts one group of routes.
type Registrar func(r chi.Router, d deps.Deps)

type group struct {
	name string
	reg  Registrar
}

var groups []group

// Register adds a named route group. Called from init().
func Register(name string, reg Registrar) {
	groups = append(groups, group{name: name, reg: reg})
}

// RegisterAll mounts every group on r, in registration order.
func RegisterAll(r chi.Router, d deps.Deps) {
	for _, g := range groups {
		g.reg(r, d)
		if d.Logger != nil {
			d.Logger.Debug("routes mounted", logger.String("group", g.name))
		}
	}
}
