// Package gateway is the boundary between the analysis worker and the
// external inference provider. It defines the Gateway interface, the shared
// prompt and response contract, and the error classification the worker uses
// to decide between retrying and failing a task. Provider clients live in
// internal/platform/proxypal and internal/platform/gemini.
package gateway
