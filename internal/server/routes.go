package server

import (
	"log/slog"

	"github.com/go-chi/chi/v5"
	"github.com/swaggest/swgui/v5emb"

	"github.com/storypath/engine/internal/progress"
	"github.com/storypath/engine/internal/session"
	"github.com/storypath/engine/internal/storypath"
)

// Engine is everything the engine API needs.
type Engine struct {
	Logger   *slog.Logger
	Sessions *session.Manager
	Catalog  storypath.Catalog
	Broker   *Broker
}

// NewEngine wires progress changes of every session into a new broker.
func NewEngine(logger *slog.Logger, sessions *session.Manager, catalog storypath.Catalog) *Engine {
	broker := NewBroker()
	sessions.OnChange(func(token string, snap progress.Snapshot) {
		broker.Publish(token, progressEvent(snap))
	})
	return &Engine{Logger: logger, Sessions: sessions, Catalog: catalog, Broker: broker}
}

// Routes registers the engine API, its OpenAPI document and the docs UI.
func (e *Engine) Routes(r chi.Router) {
	r.Get("/openapi.json", handleOpenAPI())
	r.Mount("/docs", v5emb.New("StoryPath Engine API", "/openapi.json", "/docs"))

	r.Route("/api", func(r chi.Router) {
		r.Post("/session", handleLogin(e.Sessions))
		r.Get("/projects", handleListProjects(e.Logger, e.Catalog))
		r.Get("/events", handleEvents(e.Sessions, e.Broker))
		r.Get("/stream", handleStream(e.Logger, e.Sessions, e.Broker))

		r.Group(func(r chi.Router) {
			r.Use(sessionMiddleware(e.Sessions))
			r.Delete("/session", handleLogout(e.Sessions, e.Broker))
			r.Post("/projects/{id}/enter", handleEnter(e.Logger, e.Broker))
			r.Post("/leave", handleLeave())
			r.Get("/progress", handleProgress(e.Logger))
			r.Post("/refresh", handleRefresh(e.Logger))
			r.Post("/position", handlePosition(e.Logger, e.Broker))
			r.Post("/scan", handleScan(e.Logger, e.Broker))
			r.Post("/scan/ack", handleAcknowledge())
		})
	})
}
