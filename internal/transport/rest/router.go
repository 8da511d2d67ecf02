package rest

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type RouterDeps struct {
	Handler *Handler
}

func NewRouter(d RouterDeps) http.Handler {
	if d.Handler == nil {
		panic("rest.NewRouter: nil handler")
	}

	r := chi.NewRouter()

	// Request ID + structured access log
	r.Use(RequestID)
	r.Use(HTTPLogger)

	// Panic recovery
	r.Use(middleware.Recoverer)

	// Both endpoints are called from third-party pages.
	r.Use(CORS)

	r.Get("/healthz", d.Handler.Health)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	r.Get("/embed.js", d.Handler.EmbedScript)

	r.Get("/widget/{widgetID}", d.Handler.Selection)
	r.Post("/analytics", d.Handler.Analytics)

	return r
}
