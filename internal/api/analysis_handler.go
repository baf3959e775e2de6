package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/phrazzld/lesson-analysis/internal/api/shared"
	"github.com/phrazzld/lesson-analysis/internal/domain"
	"github.com/phrazzld/lesson-analysis/internal/gateway"
	"github.com/phrazzld/lesson-analysis/internal/platform/logger"
	"github.com/phrazzld/lesson-analysis/internal/service"
)

// AnalysisService is the subset of service.AnalysisService the handlers use.
type AnalysisService interface {
	RequestAnalysis(ctx context.Context, lessonID uuid.UUID, force bool, requestedBy string) (*service.RequestResult, error)
	GetAnalysis(ctx context.Context, lessonID uuid.UUID) (*service.AnalysisView, error)
	DeleteAnalysis(ctx context.Context, lessonID uuid.UUID, requestedBy string) (*domain.AnalysisTask, error)
	GetQueue(ctx context.Context, filter service.QueueFilter) (*service.QueuePage, error)
	ForceProcess(ctx context.Context) (int, error)
	ProviderStatus(ctx context.Context) gateway.HealthStatus
}

var _ AnalysisService = (*service.AnalysisService)(nil)

// AnalysisHandler serves the /ai/analysis endpoints.
type AnalysisHandler struct {
	service AnalysisService
	logger  *slog.Logger
}

// NewAnalysisHandler creates a new AnalysisHandler.
func NewAnalysisHandler(svc AnalysisService, logger *slog.Logger) *AnalysisHandler {
	return &AnalysisHandler{
		service: svc,
		logger:  logger.With(slog.String("component", "analysis_handler")),
	}
}

// respondError writes err with its mapped status and safe message.
func (h *AnalysisHandler) respondError(w http.ResponseWriter, r *http.Request, err error) {
	shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
}

// RequestAnalysis handles POST /ai/analysis/{lessonId}.
func (h *AnalysisHandler) RequestAnalysis(w http.ResponseWriter, r *http.Request) {
	lessonID, err := getPathUUID(r, "lessonId")
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	var req AnalysisRequest
	if err := shared.DecodeJSON(r, &req); err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusBadRequest, "Invalid request format", err)
		return
	}
	force := req.Force != nil && *req.Force

	res, err := h.service.RequestAnalysis(r.Context(), lessonID, force, requestedBy(r))
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	if !res.Queued {
		shared.RespondWithData(w, r, http.StatusOK, "Analysis retrieved from cache", res)
		return
	}
	logger.FromContextOrDefault(r.Context(), h.logger).Info("analysis queued",
		slog.String("lesson_id", lessonID.String()),
		slog.String("task_id", res.Task.ID.String()),
		slog.Bool("force", force))
	shared.RespondWithData(w, r, http.StatusAccepted, "Analysis queued", res)
}

// GetAnalysis handles GET /ai/analysis/{lessonId}.
func (h *AnalysisHandler) GetAnalysis(w http.ResponseWriter, r *http.Request) {
	lessonID, err := getPathUUID(r, "lessonId")
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	view, err := h.service.GetAnalysis(r.Context(), lessonID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	message := "Analysis retrieved"
	if view.Analysis == nil {
		message = "No analysis available"
	}
	shared.RespondWithData(w, r, http.StatusOK, message, view)
}

// DeleteAnalysis handles DELETE /ai/analysis/{lessonId}.
func (h *AnalysisHandler) DeleteAnalysis(w http.ResponseWriter, r *http.Request) {
	lessonID, err := getPathUUID(r, "lessonId")
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	if _, err := h.service.DeleteAnalysis(r.Context(), lessonID, requestedBy(r)); err != nil {
		h.respondError(w, r, err)
		return
	}
	shared.RespondWithData(w, r, http.StatusOK, "Analysis deleted and re-analysis queued", nil)
}

// ProviderStatus handles GET /ai/analysis/proxypal/status.
func (h *AnalysisHandler) ProviderStatus(w http.ResponseWriter, r *http.Request) {
	shared.RespondWithJSON(w, r, http.StatusOK, h.service.ProviderStatus(r.Context()))
}

// GetQueue handles GET /ai/analysis/queue.
func (h *AnalysisHandler) GetQueue(w http.ResponseWriter, r *http.Request) {
	q, err := parseQueueQuery(r)
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	page, err := h.service.GetQueue(r.Context(), service.QueueFilter{
		Status: domain.TaskStatus(q.Status),
		Limit:  q.Limit,
		Offset: q.Offset,
	})
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	shared.RespondWithData(w, r, http.StatusOK, "", page)
}

// ProcessQueue handles POST /ai/analysis/queue/process.
func (h *AnalysisHandler) ProcessQueue(w http.ResponseWriter, r *http.Request) {
	n, err := h.service.ForceProcess(r.Context())
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	shared.RespondWithData(w, r, http.StatusOK, "Queue processing triggered", ProcessResult{Processed: n})
}
