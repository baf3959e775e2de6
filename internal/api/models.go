package api

// AnalysisRequest is the optional body of POST /ai/analysis/{lessonId}.
type AnalysisRequest struct {
	Force *bool `json:"force,omitempty"`
}

// ProcessResult is the data of POST /ai/analysis/queue/process.
type ProcessResult struct {
	Processed int `json:"processed"`
}

// queueQuery is the validated form of the queue listing query string.
type queueQuery struct {
	Status string `validate:"omitempty,oneof=pending processing completed failed"`
	Limit  int    `validate:"gte=0,lte=200"`
	Offset int    `validate:"gte=0"`
}
