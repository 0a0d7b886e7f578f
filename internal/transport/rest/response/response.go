package response

import (
	"encoding/json"
	"net/http"
	"time"
)

// ErrorBody is the error envelope every endpoint returns:
// {"error":"...","message":"...","status":400,"path":"/documents","timestamp":"...","fieldErrors":{...}}
type ErrorBody struct {
	Error       string            `json:"error"`
	Message     string            `json:"message"`
	Status      int               `json:"status"`
	Path        string            `json:"path"`
	Timestamp   string            `json:"timestamp"`
	FieldErrors map[string]string `json:"fieldErrors,omitempty"`
}

// JSON writes raw JSON with Content-Type.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// Fail writes the error envelope.
func Fail(w http.ResponseWriter, r *http.Request, status int, code, message string, fieldErrors map[string]string) {
	JSON(w, status, ErrorBody{
		Error:       code,
		Message:     message,
		Status:      status,
		Path:        r.URL.Path,
		Timestamp:   time.Now().UTC().Format(time.RFC3339),
		FieldErrors: fieldErrors,
	})
}
