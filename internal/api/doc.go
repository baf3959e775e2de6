// Package api exposes the lesson analysis service over HTTP. Handlers
// translate requests into AnalysisService calls and map domain errors to
// status codes and safe client messages.
package api
