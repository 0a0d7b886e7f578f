package response_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/relialab/docpipe/internal/transport/rest/response"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFailWritesErrorEnvelope(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/documents", nil)
	rec := httptest.NewRecorder()

	response.Fail(rec, req, http.StatusBadRequest, "request.invalid", "validation failed", map[string]string{
		"name": "must not be blank",
	})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "application/json")

	var body response.ErrorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "request.invalid", body.Error)
	assert.Equal(t, "validation failed", body.Message)
	assert.Equal(t, http.StatusBadRequest, body.Status)
	assert.Equal(t, "/documents", body.Path)
	assert.NotEmpty(t, body.Timestamp)
	assert.Equal(t, "must not be blank", body.FieldErrors["name"])
}

func TestFailOmitsEmptyFieldErrors(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/documents/x", nil)
	rec := httptest.NewRecorder()

	response.Fail(rec, req, http.StatusNotFound, "document.not_found", "no such document", nil)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &raw))
	assert.NotContains(t, raw, "fieldErrors")
}
