// Package httpapi exposes the control plane's HTTP surface over
// *app.Runtime. Routing uses net/http's method-aware ServeMux patterns
// (Go 1.22+) in place of a router dependency, since the teacher's own
// core/middleware.go shows a plain net/http stack with hand-rolled
// logging/CORS middleware rather than a third-party HTTP framework.
package httpapi

import (
	"net/http"
	"time"

	"github.com/browseragent/taskqueue/internal/logger"
)

// responseWriter wraps http.ResponseWriter to capture the status code for
// logging, and passes Flush through for any future streaming handler.
// Grounded on the teacher's core/middleware.go responseWriter.
type responseWriter struct {
	http.ResponseWriter
	status int
}

func (w *responseWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *responseWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// LoggingMiddleware logs method, path, status, and latency for every
// request.
func LoggingMiddleware(log logger.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)
		log.Info("http request", "method", r.Method, "path", r.URL.Path,
			"status", rw.status, "duration_ms", time.Since(start).Milliseconds())
	})
}

// CORSMiddleware allows cross-origin requests from any origin, appropriate
// for a control-plane API consumed by a local dashboard rather than a
// public multi-tenant service.
func CORSMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
