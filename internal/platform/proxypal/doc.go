// Package proxypal implements gateway.Gateway against ProxyPal, an
// OpenAI-compatible inference gateway that fronts Gemini models.
package proxypal
