// Package api exposes the question-answering pipeline over a JSON HTTP
// API. Authentication happens upstream: an authenticating reverse proxy
// injects the caller identity as the X-User-ID header, and this package
// enforces its presence on every /api route.
package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ServerConfig contains configuration for creating the API server.
type ServerConfig struct {
	Logger      *slog.Logger
	Runner      QueryRunner   // Required
	History     HistoryStore  // Required
	Courses     CourseLister  // Required
	Pool        *pgxpool.Pool // Optional: nil disables pool stats in /ready
	CORSOrigins []string      // Allowed origins for CORS
	TrustProxy  bool          // Trust X-Real-IP/X-Forwarded-For headers
	RateBurst   int           // Rate limiter burst size per IP (0 = default 60)
}

// Server is the JSON API HTTP server.
type Server struct {
	mux *http.ServeMux
}

// NewServer creates a server with all routes configured.
func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Runner == nil {
		return nil, errors.New("query runner is required")
	}
	if cfg.History == nil {
		return nil, errors.New("history store is required")
	}
	if cfg.Courses == nil {
		return nil, errors.New("course lister is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	qh := &queryHandler{runner: cfg.Runner, store: cfg.History, logger: logger}
	ch := &courseHandler{courses: cfg.Courses, logger: logger}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/queries", qh.submit)
	mux.HandleFunc("GET /api/v1/queries", qh.list)
	mux.HandleFunc("DELETE /api/v1/queries/{id}", qh.remove)
	mux.HandleFunc("DELETE /api/v1/conversations/{id}", qh.removeConversation)
	mux.HandleFunc("GET /api/v1/courses", ch.list)

	burst := cfg.RateBurst
	if burst <= 0 {
		burst = 60
	}
	rl := newRateLimiter(1.0, burst)

	// Middleware stack (outermost first):
	//   Recovery → RequestID → Logging → CORS → RateLimit → User → Routes
	// RequestID precedes Logging so request ids appear in log attributes.
	// CORS precedes RateLimit so preflight OPTIONS gets proper headers.
	var handler http.Handler = mux
	handler = userMiddleware()(handler)
	handler = rateLimitMiddleware(rl, cfg.TrustProxy, logger)(handler)
	handler = corsMiddleware(cfg.CORSOrigins)(handler)
	handler = loggingMiddleware(logger)(handler)
	handler = requestIDMiddleware()(handler)
	handler = recoveryMiddleware(logger)(handler)

	final := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		setSecurityHeaders(w)
		handler.ServeHTTP(w, r)
	})

	// Health probes bypass the middleware stack.
	topMux := http.NewServeMux()
	topMux.HandleFunc("GET /health", health)
	topMux.Handle("GET /ready", readiness(cfg.Pool))
	topMux.Handle("/", final)

	return &Server{mux: topMux}, nil
}

// Handler returns the server as an http.Handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}
