// Package http serves the management API: scan task submission, gap
// inspection, health, and prometheus metrics.
package http

import (
	"net/http"
	"time"

	"untestables/metrics"
	"untestables/utils"
)

// Router assembles the HTTP routes with logging and CORS middleware.
type Router struct {
	server *Server
	logger utils.Logger
}

// NewRouter creates a router around an API server.
func NewRouter(server *Server, logger utils.Logger) *Router {
	if logger == nil {
		logger = utils.NewDefaultLogger()
	}
	return &Router{server: server, logger: logger}
}

// SetupRoutes wires the endpoints.
func (rt *Router) SetupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /{$}", rt.server.handleRoot)
	mux.HandleFunc("GET /health", rt.server.handleHealth)
	mux.Handle("GET /metrics", metrics.Handler())

	mux.HandleFunc("GET /api/v1/gaps", rt.server.handleGaps)
	mux.HandleFunc("POST /api/v1/scan/range", rt.server.handleScanRange)
	mux.HandleFunc("POST /api/v1/orchestrate", rt.server.handleOrchestrate)
	mux.HandleFunc("GET /api/v1/tasks", rt.server.handleListTasks)
	mux.HandleFunc("GET /api/v1/tasks/{id}", rt.server.handleGetTask)
	mux.HandleFunc("POST /api/v1/tasks/{id}/cancel", rt.server.handleCancelTask)

	return rt.withMiddleware(mux)
}

// withMiddleware wraps the mux with logging and CORS.
func (rt *Router) withMiddleware(handler http.Handler) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/", rt.loggingMiddleware(rt.corsMiddleware(handler)))
	return mux
}

func (rt *Router) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		wrapped := &responseWriter{ResponseWriter: w}
		next.ServeHTTP(wrapped, r)

		rt.logger.Infof("HTTP %s %s - %d - %v", r.Method, r.URL.Path, wrapped.status(), time.Since(start))
	})
}

func (rt *Router) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// responseWriter captures the status code for the logging middleware.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (w *responseWriter) WriteHeader(code int) {
	w.statusCode = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *responseWriter) status() int {
	if w.statusCode == 0 {
		return http.StatusOK
	}
	return w.statusCode
}
