package ingress

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/google/uuid"
	appErrors "github.com/relialab/docpipe/internal/errors"
	"github.com/relialab/docpipe/internal/pkg/correlation"
	"github.com/relialab/docpipe/internal/transport/rest/response"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		response.Fail(w, r, http.StatusBadRequest, "request.invalid", "invalid body", nil)
		return
	}

	fieldErrors := map[string]string{}
	if strings.TrimSpace(req.Name) == "" {
		fieldErrors["name"] = "must not be blank"
	}
	if strings.TrimSpace(req.ContentType) == "" {
		fieldErrors["contentType"] = "must not be blank"
	}
	if req.FileSize <= 0 {
		fieldErrors["fileSize"] = "must be a positive number of bytes"
	}
	if len(fieldErrors) > 0 {
		response.Fail(w, r, http.StatusBadRequest, "request.invalid", "validation failed", fieldErrors)
		return
	}

	doc, err := h.svc.Create(r.Context(), correlation.FromCtx(r.Context()), req)
	if err != nil {
		handleErr(w, r, err)
		return
	}

	response.JSON(w, http.StatusCreated, doc)
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		response.Fail(w, r, http.StatusBadRequest, "request.invalid", "invalid document id", map[string]string{
			"id": "must be a valid uuid",
		})
		return
	}

	doc, err := h.svc.Get(r.Context(), id)
	if err != nil {
		handleErr(w, r, err)
		return
	}

	response.JSON(w, http.StatusOK, doc)
}

func handleErr(w http.ResponseWriter, r *http.Request, err error) {
	var appErr *appErrors.AppError
	if errors.As(err, &appErr) && appErr.Code == appErrors.ErrCodeNotFound {
		response.Fail(w, r, http.StatusNotFound, "document.not_found", appErr.Message, nil)
		return
	}
	response.Fail(w, r, http.StatusInternalServerError, "internal", "internal error", nil)
}
