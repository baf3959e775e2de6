// Package gemini implements gateway.Gateway directly against Google's Gemini
// API using the google.golang.org/genai client.
//
// It is the alternative to the ProxyPal gateway, selected with
// ai.provider=gemini. Prompt rendering and response parsing are shared with
// the other providers through package gateway; this package only translates
// between the genai types and the gateway contract:
//
//   - requests are sent with a JSON response MIME type and the shared system
//     instruction
//   - safety stops and blocked prompts become gateway.ErrContentBlocked
//   - genai.APIError codes are classified the same way HTTP statuses are,
//     so 429 and 5xx answers are retried by the task queue and other 4xx
//     answers fail the task
package gemini
