package ingress

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/relialab/docpipe/internal/health"
	"github.com/relialab/docpipe/internal/metrics"
	"github.com/relialab/docpipe/internal/transport/rest"
)

func NewRouter(h *Handler, healthH *health.Handler) http.Handler {
	if h == nil {
		panic("ingress.NewRouter: nil handler")
	}

	r := chi.NewRouter()

	r.Use(rest.CorrelationID)
	r.Use(rest.HTTPLogger)
	r.Use(middleware.Recoverer)
	r.Use(httprate.LimitByIP(100, time.Minute))

	r.Post("/documents", h.Create)
	r.Get("/documents/{id}", h.Get)

	if healthH != nil {
		r.Method(http.MethodGet, "/healthz", healthH)
	}
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	return r
}
