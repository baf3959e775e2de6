package domain

import (
	"strings"

	"github.com/google/uuid"
)

// Lesson is the read-only view of a lesson that analysis consumes. Lessons are
// owned by the course module; this service never writes them.
type Lesson struct {
	ID              uuid.UUID
	Title           string
	Description     string
	Content         string
	VideoURL        string
	VideoTranscript string
}

// HasVideo reports whether the lesson carries video material to analyze.
func (l *Lesson) HasVideo() bool {
	return strings.TrimSpace(l.VideoURL) != "" || strings.TrimSpace(l.VideoTranscript) != ""
}

// HasText reports whether the lesson has any textual material.
func (l *Lesson) HasText() bool {
	return strings.TrimSpace(l.Content) != "" || strings.TrimSpace(l.Description) != ""
}
