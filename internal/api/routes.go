package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/phrazzld/lesson-analysis/internal/api/middleware"
)

// Mount registers the analysis endpoints on r. Every route requires a
// bearer token; the queue routes also require adminRole.
func (h *AnalysisHandler) Mount(r chi.Router, authMW *middleware.AuthMiddleware, adminRole string) {
	r.Route("/ai/analysis", func(r chi.Router) {
		r.Use(authMW.Authenticate)

		r.Get("/proxypal/status", h.ProviderStatus)

		r.Group(func(r chi.Router) {
			r.Use(authMW.RequireRole(adminRole))
			r.Get("/queue", h.GetQueue)
			r.Post("/queue/process", h.ProcessQueue)
		})

		r.Post("/{lessonId}", h.RequestAnalysis)
		r.Get("/{lessonId}", h.GetAnalysis)
		r.Delete("/{lessonId}", h.DeleteAnalysis)
	})
}
