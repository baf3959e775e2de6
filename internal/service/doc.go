// Package service contains the lesson analysis use cases. It coordinates the
// task queue, the analysis record store, the lesson source and the inference
// gateway behind one AnalysisService used by the HTTP layer.
//
// Services receive their collaborators through constructor injection and
// depend only on the interfaces in internal/store and internal/gateway.
//
// Error handling:
//   - validation, not found and conflict errors are returned as domain errors
//     so the API layer can map them to status codes
//   - any other failure is wrapped in *AnalysisServiceError with the
//     operation that hit it
package service
