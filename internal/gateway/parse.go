package gateway

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/phrazzld/lesson-analysis/internal/domain"
)

// MaxStudyTimeMinutes bounds estimated_study_time_minutes. A week of
// continuous study is far beyond any single lesson.
const MaxStudyTimeMinutes = 7 * 24 * 60

// responseSchema is the JSON object providers are asked to return.
type responseSchema struct {
	Summary                   *string  `json:"summary"`
	VideoTranscript           *string  `json:"video_transcript"`
	VideoKeyPoints            []string `json:"video_key_points"`
	ContentKeyConcepts        []string `json:"content_key_concepts"`
	DifficultyLevel           *string  `json:"difficulty_level"`
	EstimatedStudyTimeMinutes *float64 `json:"estimated_study_time_minutes"`
	Prerequisites             []string `json:"prerequisites"`
	LearningObjectives        []string `json:"learning_objectives"`
}

// stripFences removes a markdown code fence some models wrap JSON in.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

func cleanList(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, 0, len(in))
	for _, v := range in {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func cleanText(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	if v == "" {
		return nil
	}
	return &v
}

// ParseResult decodes raw provider text into an AnalysisResult holding only
// the fields taskType produces. It returns ErrInvalidResponse when the text
// is not a JSON object or lacks the artifact the task type exists for.
func ParseResult(raw string, taskType domain.TaskType) (*AnalysisResult, error) {
	body := stripFences(raw)
	if body == "" {
		return nil, fmt.Errorf("%w: empty response", ErrInvalidResponse)
	}

	var resp responseSchema
	if err := json.Unmarshal([]byte(body), &resp); err != nil {
		return nil, fmt.Errorf("%w: failed to parse JSON response: %v", ErrInvalidResponse, err)
	}

	result := &AnalysisResult{}
	if taskType != domain.TaskTypeVideoAnalysis {
		result.Summary = cleanText(resp.Summary)
		result.ContentKeyConcepts = cleanList(resp.ContentKeyConcepts)

		if resp.DifficultyLevel != nil {
			level := domain.DifficultyLevel(strings.ToLower(strings.TrimSpace(*resp.DifficultyLevel)))
			if !level.Valid() {
				return nil, fmt.Errorf("%w: unknown difficulty level %q", ErrInvalidResponse, *resp.DifficultyLevel)
			}
			result.DifficultyLevel = &level
		}
		if resp.EstimatedStudyTimeMinutes != nil {
			rounded := math.Round(*resp.EstimatedStudyTimeMinutes)
			switch {
			case rounded < 0:
				return nil, fmt.Errorf("%w: negative study time", ErrInvalidResponse)
			case rounded > MaxStudyTimeMinutes:
				return nil, fmt.Errorf("%w: study time %g exceeds %d minutes",
					ErrInvalidResponse, *resp.EstimatedStudyTimeMinutes, MaxStudyTimeMinutes)
			}
			minutes := int(rounded)
			result.EstimatedStudyTimeMinutes = &minutes
		}
		if result.Summary == nil {
			return nil, fmt.Errorf("%w: missing summary", ErrInvalidResponse)
		}
	}

	if taskType == domain.TaskTypeFullAnalysis {
		result.Prerequisites = cleanList(resp.Prerequisites)
		result.LearningObjectives = cleanList(resp.LearningObjectives)
	}

	if taskType != domain.TaskTypeSummary {
		result.VideoTranscript = cleanText(resp.VideoTranscript)
		result.VideoKeyPoints = cleanList(resp.VideoKeyPoints)
		if taskType == domain.TaskTypeVideoAnalysis && result.VideoTranscript == nil && len(result.VideoKeyPoints) == 0 {
			return nil, fmt.Errorf("%w: missing video analysis", ErrInvalidResponse)
		}
	}
	return result, nil
}
