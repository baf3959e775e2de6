package service

import (
	"errors"
	"testing"

	"github.com/phrazzld/lesson-analysis/internal/domain"
	"github.com/phrazzld/lesson-analysis/internal/store"
	"github.com/stretchr/testify/assert"
)

func TestNewAnalysisServiceError(t *testing.T) {
	assert.NoError(t, NewAnalysisServiceError("op", "msg", nil))

	conflict := NewAnalysisServiceError("request_analysis", "enqueue failed", domain.ErrConflict)
	assert.Same(t, domain.ErrConflict, conflict)

	validation := domain.NewValidationError("limit", "must be positive", nil)
	assert.Equal(t, error(validation), NewAnalysisServiceError("get_queue", "bad filter", validation))

	lesson := NewAnalysisServiceError("request_analysis", "load lesson", store.ErrLessonNotFound)
	assert.ErrorIs(t, lesson, domain.ErrLessonNotFound)
	assert.ErrorIs(t, lesson, domain.ErrNotFound)

	wrapped := NewAnalysisServiceError("get_analysis", "read failed", errors.New("connection reset"))
	var svcErr *AnalysisServiceError
	assert.True(t, errors.As(wrapped, &svcErr))
	assert.Equal(t, "get_analysis", svcErr.Operation)
	assert.Equal(t, "analysis service get_analysis failed: read failed: connection reset", wrapped.Error())
}
