package routes

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/upb/hitl-control-plane/app"
	"github.com/upb/hitl-control-plane/middleware"
)

// SetupRoutes configures all application routes and middleware
func SetupRoutes(deps *app.Dependencies) http.Handler {
	r := chi.NewRouter()

	// Core middleware
	r.Use(chimw.RequestID)
	r.Use(middleware.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.Observe(deps.Logger, deps.Metrics))
	r.Use(chimw.Recoverer)

	// CORS middleware
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:*", "https://*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health check endpoints
	r.Get("/healthz", deps.HealthHandler.HandleHealth)
	r.Get("/readyz", deps.HealthHandler.HandleReadiness)

	if deps.Config.Observability.MetricsEnabled {
		r.Handle("/metrics", deps.Metrics.Handler())
	}

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		if deps.AuthMiddleware != nil {
			r.Use(deps.AuthMiddleware.RequireAuth)
		}

		// Live operator feed, long lived so no request timeout
		r.Get("/hitl/events", deps.HITLHandler.HandleEvents)

		r.Group(func(r chi.Router) {
			r.Use(chimw.Timeout(60 * time.Second))

			// Pending actions
			r.Route("/hitl/actions", func(r chi.Router) {
				r.Get("/", deps.HITLHandler.HandleList)
				r.Post("/", deps.HITLHandler.HandleSubmit)
				r.Get("/{id}", deps.HITLHandler.HandleGet)
				r.Post("/{id}/accept", deps.HITLHandler.HandleAccept)
				r.Post("/{id}/reject", deps.HITLHandler.HandleReject)
				r.Post("/{id}/execute", deps.SkillsHandler.HandleExecuteApproved)
			})

			// Skills
			r.Route("/skills", func(r chi.Router) {
				r.Get("/", deps.SkillsHandler.HandleList)
				r.Post("/{name}/execute", deps.SkillsHandler.HandleExecute)
			})

			// Audit trail (operators only when authentication is on)
			r.Route("/audit", func(r chi.Router) {
				if deps.AuthMiddleware != nil && len(deps.Config.HITL.OperatorRoleIDs) > 0 {
					r.Use(deps.AuthMiddleware.RequireRole(deps.Config.HITL.OperatorRoleIDs...))
				}
				r.Get("/events", deps.AuditHandler.HandleListEvents)
				r.Get("/events/{id}", deps.AuditHandler.HandleGetEvent)
				r.Get("/verify-pii", deps.AuditHandler.HandleVerifyPII)
			})

			// Stateless PII checks
			r.Route("/pii", func(r chi.Router) {
				r.Post("/verify", deps.AuditHandler.HandleVerifyText)
				r.Post("/scrub", deps.AuditHandler.HandleScrubText)
			})
		})
	})

	// 404 handler
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"endpoint not found"}`))
	})

	return r
}
