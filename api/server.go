/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. RealIP:     Client address from proxy headers
  3. Logger:     Structured request logging (slog)
  4. Recoverer:  Panic recovery (500 instead of crash)
  5. CORS:       Cross-origin requests for the case-officer frontend

ROUTE GROUPS:
  /cases/*   Case ledger, lifecycle events, notifications
  /healthz   Liveness and store reachability
  /metrics   Prometheus exposition

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, allowedOrigins ...string) *chi.Mux {
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"http://localhost:5173", "http://localhost:8080"}
	}

	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(h.Logger))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", ActorHeader},
		AllowCredentials: true,
	}))

	r.Route("/cases", func(r chi.Router) {
		r.Post("/", h.CreateCase)

		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.GetCase)
			r.Get("/status-history", h.GetStatusHistory)
			r.Get("/status/{status}/created-date", h.GetStatusCreatedDate)
			r.Get("/audit-trail", h.GetAuditTrail)
			r.Get("/notifications", h.ListNotifications)

			r.Post("/status-transition", h.TransitionStatus)
			r.Post("/status-rollback", h.RollbackStatus)
			r.Post("/decision", h.PublishDecision)
			r.Post("/withdrawal", h.Withdraw)
		})
	})

	r.Get("/healthz", h.Healthz)
	r.Handle("/metrics", promhttp.Handler())

	return r
}

// requestLogger logs one line per request with status and latency.
func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()

			defer func() {
				logger.InfoContext(r.Context(), "http request",
					"method", r.Method,
					"path", r.URL.Path,
					"status", ww.Status(),
					"bytes", ww.BytesWritten(),
					"duration", time.Since(start),
					"request_id", middleware.GetReqID(r.Context()),
				)
			}()

			next.ServeHTTP(ww, r)
		})
	}
}
