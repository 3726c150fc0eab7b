/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for the office frontend

ROUTE GROUPS:
  /health                     Liveness, pings the store
  /metrics                    Prometheus (when enabled)
  /api/works/*                Work catalog, balances, BOM
  /api/materials/*            Material catalog, stock, history
  /api/foremen/*              Foreman registry
  /api/work-reports/*         Completed-work reports
  /api/accumulative-statement Verified work summary
  /api/scenarios/*            Demo loaders (dev only)

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// RouterConfig carries the wiring NewRouter does not own.
type RouterConfig struct {
	CORSOrigins []string
	// Metrics is mounted at /metrics when non-nil.
	Metrics http.Handler
	// Audit exposes the scheduled history audit when non-nil.
	Audit *AuditScheduler
	// Scenarios mounts the demo loaders. Dev only.
	Scenarios bool
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	origins := cfg.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Content-Disposition"},
		AllowCredentials: false,
	}))

	r.Get("/health", h.Health)
	if cfg.Metrics != nil {
		r.Handle("/metrics", cfg.Metrics)
	}

	r.Route("/api", func(r chi.Router) {
		// Work routes
		r.Route("/works", func(r chi.Router) {
			r.Get("/", h.ListWorks)
			r.Post("/", h.CreateWork)
			r.Get("/export", h.ExportWorks)
			r.Get("/{id}", h.GetWork)
			r.Put("/{id}", h.UpdateWork)
			r.Delete("/{id}", h.DeleteWork)
			r.Put("/{id}/add-balance", h.AddWorkBalance)
			r.Get("/{id}/materials", h.GetWorkMaterials)
			r.Put("/{id}/materials", h.SetWorkMaterials)
		})

		// Material routes
		r.Route("/materials", func(r chi.Router) {
			r.Get("/", h.ListMaterials)
			r.Post("/", h.CreateMaterial)
			r.Get("/export", h.ExportMaterials)
			r.Get("/history", h.ListHistory)
			r.Get("/history/export", h.ExportHistory)
			if cfg.Audit != nil {
				r.Get("/audit", cfg.Audit.LastAudit)
				r.Post("/audit", cfg.Audit.TriggerAudit)
			}
			r.Get("/{id}", h.GetMaterial)
			r.Put("/{id}", h.UpdateMaterial)
			r.Delete("/{id}", h.DeleteMaterial)
			r.Put("/{id}/add-quantity", h.AddMaterialQuantity)
			r.Put("/{id}/quantity", h.SetMaterialQuantity)
			r.Put("/{id}/pricing", h.SetMaterialPricing)
			r.Get("/{id}/audit", h.AuditMaterial)
		})

		// Foreman routes
		r.Route("/foremen", func(r chi.Router) {
			r.Get("/", h.ListForemen)
			r.Post("/", h.RegisterForeman)
		})

		// Report routes
		r.Route("/work-reports", func(r chi.Router) {
			r.Get("/", h.ListReports)
			r.Post("/", h.CreateReport)
			r.Get("/daily/{date}", h.GetDailySummary)
			r.Get("/{id}", h.GetReport)
			r.Put("/{id}", h.UpdateReport)
			r.Delete("/{id}", h.DeleteReport)
			r.Post("/{id}/verify", h.VerifyReport)
		})

		// Statement routes
		r.Get("/accumulative-statement", h.GetStatement)
		r.Get("/accumulative-statement/export", h.ExportStatement)

		// Scenario routes
		if cfg.Scenarios {
			r.Route("/scenarios", func(r chi.Router) {
				r.Get("/", h.ListScenarios)
				r.Post("/load", h.LoadScenario)
			})
		}
	})

	return r
}
