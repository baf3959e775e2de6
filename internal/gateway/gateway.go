package gateway

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/lesson-analysis/internal/domain"
)

// Gateway talks to an inference provider.
type Gateway interface {
	// HealthCheck probes the provider. It never fails; an unreachable
	// provider reports Available=false with Error set.
	HealthCheck(ctx context.Context) HealthStatus

	// Analyze runs one analysis request. Errors are classified as
	// *ExternalServiceError (transient), ErrInvalidResponse, ErrRejected or
	// ErrContentBlocked.
	Analyze(ctx context.Context, req AnalysisRequest) (*AnalysisResult, error)
}

// HealthStatus is the outcome of a provider probe.
type HealthStatus struct {
	Available bool            `json:"available"`
	URL       string          `json:"url"`
	Models    map[string]bool `json:"models,omitempty"`
	CheckedAt time.Time       `json:"last_checked"`
	Error     string          `json:"error,omitempty"`
}

// AnalysisRequest is the provider-independent input of one analysis.
type AnalysisRequest struct {
	LessonID        uuid.UUID
	TaskType        domain.TaskType
	Title           string
	Description     string
	Content         string
	VideoURL        string
	VideoTranscript string
}

// AnalysisResult is a normalized provider answer. Fields the task type does
// not produce are nil.
type AnalysisResult struct {
	Summary                   *string
	VideoTranscript           *string
	VideoKeyPoints            []string
	ContentKeyConcepts        []string
	DifficultyLevel           *domain.DifficultyLevel
	EstimatedStudyTimeMinutes *int
	Prerequisites             []string
	LearningObjectives        []string
	Model                     string
}

// NewAnalysisRequest shapes the lesson material sent for taskType.
// A video analysis of a lesson without video, or any analysis of a lesson
// with no material at all, is a validation error.
func NewAnalysisRequest(lesson *domain.Lesson, taskType domain.TaskType) (AnalysisRequest, error) {
	if !taskType.Valid() {
		return AnalysisRequest{}, domain.NewValidationError("task_type", "is not supported", domain.ErrInvalidTaskType)
	}
	req := AnalysisRequest{
		LessonID: lesson.ID,
		TaskType: taskType,
		Title:    strings.TrimSpace(lesson.Title),
	}

	switch taskType {
	case domain.TaskTypeSummary:
		if !lesson.HasText() {
			return AnalysisRequest{}, domain.NewValidationError("lesson", "has no text content to summarize", nil)
		}
		req.Description = lesson.Description
		req.Content = lesson.Content
	case domain.TaskTypeVideoAnalysis:
		if !lesson.HasVideo() {
			return AnalysisRequest{}, domain.NewValidationError("lesson", "has no video to analyze", nil)
		}
		req.VideoURL = lesson.VideoURL
		req.VideoTranscript = lesson.VideoTranscript
	case domain.TaskTypeFullAnalysis:
		if !lesson.HasText() && !lesson.HasVideo() {
			return AnalysisRequest{}, domain.NewValidationError("lesson", "has no content to analyze", nil)
		}
		req.Description = lesson.Description
		req.Content = lesson.Content
		req.VideoURL = lesson.VideoURL
		req.VideoTranscript = lesson.VideoTranscript
	}
	return req, nil
}

// MatchCapabilities evaluates capability flags against the model ids a
// provider lists. flags maps a flag name to a model id prefix.
func MatchCapabilities(flags map[string]string, modelIDs []string) map[string]bool {
	out := make(map[string]bool, len(flags))
	for name, prefix := range flags {
		out[name] = false
		p := strings.ToLower(prefix)
		for _, id := range modelIDs {
			id = strings.ToLower(strings.TrimPrefix(id, "models/"))
			if strings.HasPrefix(id, p) {
				out[name] = true
				break
			}
		}
	}
	return out
}
