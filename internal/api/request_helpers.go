package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/phrazzld/lesson-analysis/internal/api/shared"
	"github.com/phrazzld/lesson-analysis/internal/domain"
)

// getPathUUID parses the UUID path parameter paramName.
func getPathUUID(r *http.Request, paramName string) (uuid.UUID, error) {
	pathParam := chi.URLParam(r, paramName)
	if pathParam == "" {
		return uuid.Nil, domain.NewValidationError(paramName, "is required", nil)
	}

	id, err := uuid.Parse(pathParam)
	if err != nil {
		return uuid.Nil, domain.NewValidationError(paramName, "has invalid format", domain.ErrInvalidID)
	}
	return id, nil
}

// requestedBy names the authenticated caller for task metadata.
func requestedBy(r *http.Request) string {
	if c, ok := shared.GetCaller(r.Context()); ok {
		return c.Subject
	}
	return ""
}

// parseQueueQuery reads status, limit and offset from the query string.
func parseQueueQuery(r *http.Request) (queueQuery, error) {
	q := r.URL.Query()
	out := queueQuery{Status: q.Get("status")}

	for _, p := range []struct {
		name string
		dest *int
	}{
		{"limit", &out.Limit},
		{"offset", &out.Offset},
	} {
		raw := q.Get(p.name)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil {
			return queueQuery{}, domain.NewValidationError(p.name, "must be an integer", nil)
		}
		*p.dest = n
	}

	if err := shared.ValidateRequest(&out); err != nil {
		return queueQuery{}, domain.NewValidationError("query", "has an invalid status, limit or offset", err)
	}
	return out, nil
}
