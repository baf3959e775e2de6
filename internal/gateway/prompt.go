package gateway

import (
	"bytes"
	_ "embed"
	"fmt"
	"text/template"

	"github.com/phrazzld/lesson-analysis/internal/domain"
)

//go:embed prompt.tmpl
var promptSource string

var promptTemplate = template.Must(template.New("analysis").Parse(promptSource))

// SystemPrompt is sent as the system message by chat-style providers.
const SystemPrompt = "You analyze educational lessons and respond only with valid JSON."

type promptField struct {
	Name        string
	Description string
}

var (
	fieldSummary     = promptField{"summary", "a concise summary of the lesson in 3 to 5 sentences"}
	fieldConcepts    = promptField{"content_key_concepts", "an ordered list of the key concepts taught"}
	fieldDifficulty  = promptField{"difficulty_level", `one of "beginner", "intermediate", "advanced"`}
	fieldStudyTime   = promptField{"estimated_study_time_minutes", "an integer estimate of study time in minutes"}
	fieldPrereqs     = promptField{"prerequisites", "an ordered list of topics a learner should know first"}
	fieldObjectives  = promptField{"learning_objectives", "an ordered list of measurable learning objectives"}
	fieldTranscript  = promptField{"video_transcript", "a cleaned transcript of the video, or null if none is available"}
	fieldVideoPoints = promptField{"video_key_points", "an ordered list of the key points made in the video"}
)

var (
	summaryFields = []promptField{fieldSummary, fieldConcepts, fieldDifficulty, fieldStudyTime}
	videoFields   = []promptField{fieldTranscript, fieldVideoPoints}
	fullFields    = []promptField{
		fieldSummary, fieldConcepts, fieldDifficulty, fieldStudyTime,
		fieldPrereqs, fieldObjectives, fieldTranscript, fieldVideoPoints,
	}
)

func fieldsFor(tt domain.TaskType) []promptField {
	switch tt {
	case domain.TaskTypeSummary:
		return summaryFields
	case domain.TaskTypeVideoAnalysis:
		return videoFields
	default:
		return fullFields
	}
}

// BuildPrompt renders the user prompt for req.
func BuildPrompt(req AnalysisRequest) (string, error) {
	data := struct {
		AnalysisRequest
		Fields []promptField
	}{req, fieldsFor(req.TaskType)}

	var buf bytes.Buffer
	if err := promptTemplate.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to execute prompt template: %w", err)
	}
	return buf.String(), nil
}
