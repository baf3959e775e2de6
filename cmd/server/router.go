package main

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/phrazzld/lesson-analysis/internal/api"
	apiMiddleware "github.com/phrazzld/lesson-analysis/internal/api/middleware"
	"github.com/phrazzld/lesson-analysis/internal/config"
	"github.com/phrazzld/lesson-analysis/internal/service/auth"
)

// newRouter builds the HTTP handler tree. Everything under /api requires a
// bearer token; /health does not.
func newRouter(svc api.AnalysisService, verifier auth.TokenVerifier, cfg config.AuthConfig, logger *slog.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(apiMiddleware.NewTraceMiddleware(logger))

	authMiddleware := apiMiddleware.NewAuthMiddleware(verifier)
	analysisHandler := api.NewAnalysisHandler(svc, logger)

	r.Route("/api", func(r chi.Router) {
		analysisHandler.Mount(r, authMiddleware, cfg.AdminRole)
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("OK")); err != nil {
			logger.Error("failed to write health check response", slog.String("error", err.Error()))
		}
	})

	return r
}
