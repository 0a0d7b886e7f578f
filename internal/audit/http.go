package audit

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	appErrors "github.com/relialab/docpipe/internal/errors"
	"github.com/relialab/docpipe/internal/health"
	"github.com/relialab/docpipe/internal/metrics"
	"github.com/relialab/docpipe/internal/transport/rest"
	"github.com/relialab/docpipe/internal/transport/rest/response"
)

// QueryHandler exposes read-only views of the audit projection.
type QueryHandler struct {
	repo *Repository
}

func NewQueryHandler(repo *Repository) *QueryHandler {
	return &QueryHandler{repo: repo}
}

func NewRouter(h *QueryHandler, healthH *health.Handler) http.Handler {
	r := chi.NewRouter()

	r.Use(rest.CorrelationID)
	r.Use(rest.HTTPLogger)
	r.Use(middleware.Recoverer)

	r.Get("/audit/events/{eventId}", h.GetEvent)
	r.Get("/audit/events", h.ListByType)
	r.Get("/audit/documents/{aggregateId}/events", h.Timeline)
	r.Get("/audit/documents/{aggregateId}/counters", h.Counters)

	if healthH != nil {
		r.Method(http.MethodGet, "/healthz", healthH)
	}
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	return r
}

func (h *QueryHandler) GetEvent(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "eventId"))
	if err != nil {
		response.Fail(w, r, http.StatusBadRequest, "request.invalid", "invalid event id", map[string]string{
			"eventId": "must be a valid uuid",
		})
		return
	}

	rec, err := h.repo.GetByEventID(r.Context(), id.String())
	if err != nil {
		handleErr(w, r, err)
		return
	}
	response.JSON(w, http.StatusOK, rec)
}

func (h *QueryHandler) ListByType(w http.ResponseWriter, r *http.Request) {
	eventType := r.URL.Query().Get("type")
	if eventType == "" {
		response.Fail(w, r, http.StatusBadRequest, "request.invalid", "missing type query parameter", map[string]string{
			"type": "required",
		})
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	recs, err := h.repo.ListByType(r.Context(), eventType, limit)
	if err != nil {
		handleErr(w, r, err)
		return
	}
	response.JSON(w, http.StatusOK, recs)
}

func (h *QueryHandler) Timeline(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "aggregateId"))
	if err != nil {
		response.Fail(w, r, http.StatusBadRequest, "request.invalid", "invalid aggregate id", map[string]string{
			"aggregateId": "must be a valid uuid",
		})
		return
	}

	recs, err := h.repo.Timeline(r.Context(), id.String())
	if err != nil {
		handleErr(w, r, err)
		return
	}
	response.JSON(w, http.StatusOK, recs)
}

func (h *QueryHandler) Counters(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "aggregateId"))
	if err != nil {
		response.Fail(w, r, http.StatusBadRequest, "request.invalid", "invalid aggregate id", map[string]string{
			"aggregateId": "must be a valid uuid",
		})
		return
	}

	counters, err := h.repo.Counters(r.Context(), id.String())
	if err != nil {
		handleErr(w, r, err)
		return
	}
	response.JSON(w, http.StatusOK, counters)
}

func handleErr(w http.ResponseWriter, r *http.Request, err error) {
	var appErr *appErrors.AppError
	if errors.As(err, &appErr) && appErr.Code == appErrors.ErrCodeNotFound {
		response.Fail(w, r, http.StatusNotFound, "audit.not_found", appErr.Message, nil)
		return
	}
	response.Fail(w, r, http.StatusInternalServerError, "internal", "internal error", nil)
}
