package rest

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/relialab/docpipe/internal/metrics"
)

// NewOpsRouter serves the operational endpoints for services that have no
// business HTTP surface (validation, enrichment, notification).
func NewOpsRouter(healthH http.Handler) http.Handler {
	r := chi.NewRouter()

	r.Use(CorrelationID)
	r.Use(middleware.Recoverer)

	if healthH != nil {
		r.Method(http.MethodGet, "/healthz", healthH)
	}
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	return r
}
