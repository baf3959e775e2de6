package api

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/phrazzld/lesson-analysis/internal/domain"
	"github.com/phrazzld/lesson-analysis/internal/service/auth"
	"github.com/phrazzld/lesson-analysis/internal/store"
	"github.com/stretchr/testify/assert"
)

func TestMapErrorToStatusCode(t *testing.T) {
	tests := []struct {
		name           string
		err            error
		expectedStatus int
	}{
		{"nil error", nil, http.StatusInternalServerError},
		{"invalid token", auth.ErrInvalidToken, http.StatusUnauthorized},
		{"wrapped expired token", fmt.Errorf("authenticate: %w", auth.ErrExpiredToken), http.StatusUnauthorized},
		{"forbidden", domain.ErrForbidden, http.StatusForbidden},
		{"lesson not found", fmt.Errorf("%w: id", domain.ErrLessonNotFound), http.StatusNotFound},
		{"store not found", store.ErrTaskNotFound, http.StatusNotFound},
		{"conflict", fmt.Errorf("enqueue: %w", domain.ErrConflict), http.StatusConflict},
		{"validation", domain.NewValidationError("limit", "must not be negative", nil), http.StatusBadRequest},
		{"invalid entity", store.ErrInvalidEntity, http.StatusBadRequest},
		{"unknown", errors.New("connection reset by peer"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expectedStatus, MapErrorToStatusCode(tt.err))
		})
	}
}

func TestGetSafeErrorMessage(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected string
	}{
		{"nil error", nil, "An unexpected error occurred"},
		{"validation detail", domain.NewValidationError("lessonId", "has invalid format", domain.ErrInvalidID), "validation failed: lessonId has invalid format"},
		{"lesson not found", domain.ErrLessonNotFound, "Lesson not found"},
		{"record not found", store.ErrRecordNotFound, "Resource not found"},
		{"conflict", domain.ErrConflict, "An analysis is already queued for this lesson"},
		{"expired", auth.ErrExpiredToken, "Token expired"},
		{"forbidden", domain.ErrForbidden, "Admin role required"},
		{"internal detail", errors.New("pq: password authentication failed for user admin"), "An unexpected error occurred"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, GetSafeErrorMessage(tt.err))
		})
	}
}
