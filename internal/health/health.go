package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	amqp "github.com/rabbitmq/amqp091-go"
)

// Response is the health check payload.
type Response struct {
	Status    string                 `json:"status"` // "healthy" or "unhealthy"
	Timestamp string                 `json:"timestamp"`
	Checks    map[string]CheckResult `json:"checks"`
	Uptime    string                 `json:"uptime,omitempty"`
}

type CheckResult struct {
	Status       string `json:"status"` // "up" or "down"
	ResponseTime string `json:"response_time,omitempty"`
	Error        string `json:"error,omitempty"`
}

var startTime = time.Now()

// Handler probes the service's own dependencies: its private database
// and the broker connection.
type Handler struct {
	pool *pgxpool.Pool
	conn *amqp.Connection
}

func NewHandler(pool *pgxpool.Pool, conn *amqp.Connection) *Handler {
	return &Handler{pool: pool, conn: conn}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	checks := map[string]CheckResult{
		"postgres": h.checkPostgres(ctx),
		"rabbitmq": h.checkRabbit(),
	}

	status := "healthy"
	code := http.StatusOK
	for _, c := range checks {
		if c.Status != "up" {
			status = "unhealthy"
			code = http.StatusServiceUnavailable
			break
		}
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(Response{
		Status:    status,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Checks:    checks,
		Uptime:    time.Since(startTime).Round(time.Second).String(),
	})
}

func (h *Handler) checkPostgres(ctx context.Context) CheckResult {
	if h.pool == nil {
		return CheckResult{Status: "down", Error: "no pool"}
	}
	start := time.Now()
	if err := h.pool.Ping(ctx); err != nil {
		return CheckResult{Status: "down", Error: err.Error()}
	}
	return CheckResult{Status: "up", ResponseTime: time.Since(start).String()}
}

func (h *Handler) checkRabbit() CheckResult {
	if h.conn == nil {
		return CheckResult{Status: "down", Error: "no connection"}
	}
	if h.conn.IsClosed() {
		return CheckResult{Status: "down", Error: "connection closed"}
	}
	return CheckResult{Status: "up"}
}
