package rest

import (
	"net"
	"net/http"
	"time"

	"github.com/relialab/docpipe/internal/pkg/correlation"
	"github.com/relialab/docpipe/internal/pkg/logger"
)

// CorrelationID accepts an inbound X-Correlation-Id header (or generates a
// UUID), binds it to the request context and logging scope, and echoes it
// on the response.
func CorrelationID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cid := correlation.Ensure(r.Header.Get(correlation.Header))
		w.Header().Set(correlation.Header, cid)

		log := logger.Logger.With().Str("correlation_id", cid).Logger()
		ctx := logger.WithLogger(correlation.WithID(r.Context(), cid), log)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (rw *statusRecorder) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *statusRecorder) Write(p []byte) (int, error) {
	if rw.status == 0 {
		rw.status = http.StatusOK
	}
	n, err := rw.ResponseWriter.Write(p)
	rw.bytes += n
	return n, err
}

// HTTPLogger writes one structured access log line per request.
func HTTPLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w}

		next.ServeHTTP(rec, r)

		ip := r.RemoteAddr
		if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
			ip = host
		}

		l := logger.FromCtx(r.Context())
		l.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Str("ip", ip).
			Int("status", rec.status).
			Int("bytes", rec.bytes).
			Dur("duration", time.Since(start)).
			Msg("http_request")
	})
}
