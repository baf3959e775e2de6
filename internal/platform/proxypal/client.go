package proxypal

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/phrazzld/lesson-analysis/internal/config"
	"github.com/phrazzld/lesson-analysis/internal/gateway"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/phrazzld/lesson-analysis/internal/platform/proxypal"

// maxBodyBytes bounds how much of a response body is read.
const maxBodyBytes = 4 << 20

// Client talks to the OpenAI-compatible ProxyPal endpoints.
type Client struct {
	baseURL        string
	apiKey         string
	model          string
	temperature    float32
	maxTokens      int
	capabilities   map[string]string
	requestTimeout time.Duration
	healthTimeout  time.Duration
	httpClient     *http.Client
	logger         *slog.Logger
	tracer         trace.Tracer
	now            func() time.Time
}

var _ gateway.Gateway = (*Client)(nil)

// NewClient creates a Client from the AI configuration.
func NewClient(cfg config.AIConfig, logger *slog.Logger) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.ProxyPalURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("%w: proxypal url is required", gateway.ErrInvalidConfig)
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("%w: model is required", gateway.ErrInvalidConfig)
	}
	if logger == nil {
		return nil, fmt.Errorf("%w: logger cannot be nil", gateway.ErrInvalidConfig)
	}

	return &Client{
		baseURL:        baseURL,
		apiKey:         cfg.APIKey,
		model:          cfg.Model,
		temperature:    cfg.Temperature,
		maxTokens:      cfg.MaxOutputTokens,
		capabilities:   cfg.Capabilities,
		requestTimeout: cfg.RequestTimeout(),
		healthTimeout:  cfg.HealthTimeout(),
		httpClient:     &http.Client{},
		logger:         logger.With(slog.String("component", "proxypal")),
		tracer:         otel.Tracer(tracerName),
		now:            func() time.Time { return time.Now().UTC() },
	}, nil
}

type modelList struct {
	Data []struct {
		ID string `json:"id"`
	} `json:"data"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatRequest struct {
	Model          string         `json:"model"`
	Messages       []chatMessage  `json:"messages"`
	Temperature    float32        `json:"temperature"`
	MaxTokens      int            `json:"max_tokens,omitempty"`
	ResponseFormat responseFormat `json:"response_format"`
}

type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message      chatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
}

// HealthCheck lists the provider models and evaluates capability flags.
func (c *Client) HealthCheck(ctx context.Context) gateway.HealthStatus {
	ctx, span := c.tracer.Start(ctx, "proxypal.HealthCheck")
	defer span.End()

	status := gateway.HealthStatus{URL: c.baseURL, CheckedAt: c.now()}

	if c.healthTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.healthTimeout)
		defer cancel()
	}

	var models modelList
	if err := c.do(ctx, http.MethodGet, "/v1/models", "list models", nil, &models); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "provider unavailable")
		c.logger.WarnContext(ctx, "proxypal health check failed", slog.String("error", err.Error()))
		status.Error = err.Error()
		return status
	}

	ids := make([]string, 0, len(models.Data))
	for _, m := range models.Data {
		ids = append(ids, m.ID)
	}
	status.Available = true
	status.Models = gateway.MatchCapabilities(c.capabilities, ids)
	span.SetAttributes(attribute.Int("proxypal.model_count", len(ids)))
	return status
}

// Analyze sends one chat completion and parses its JSON answer.
func (c *Client) Analyze(ctx context.Context, req gateway.AnalysisRequest) (*gateway.AnalysisResult, error) {
	ctx, span := c.tracer.Start(ctx, "proxypal.Analyze", trace.WithAttributes(
		attribute.String("lesson.id", req.LessonID.String()),
		attribute.String("task.type", string(req.TaskType)),
		attribute.String("ai.model", c.model),
	))
	defer span.End()

	result, err := c.analyze(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "analysis failed")
		return nil, err
	}
	return result, nil
}

func (c *Client) analyze(ctx context.Context, req gateway.AnalysisRequest) (*gateway.AnalysisResult, error) {
	prompt, err := gateway.BuildPrompt(req)
	if err != nil {
		return nil, err
	}

	if c.requestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.requestTimeout)
		defer cancel()
	}

	body := chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: gateway.SystemPrompt},
			{Role: "user", Content: prompt},
		},
		Temperature:    c.temperature,
		MaxTokens:      c.maxTokens,
		ResponseFormat: responseFormat{Type: "json_object"},
	}

	start := time.Now()
	var resp chatResponse
	if err := c.do(ctx, http.MethodPost, "/v1/chat/completions", "chat completion", body, &resp); err != nil {
		return nil, err
	}
	c.logger.DebugContext(ctx, "chat completion finished",
		slog.String("lesson_id", req.LessonID.String()),
		slog.String("task_type", string(req.TaskType)),
		slog.Duration("duration", time.Since(start)))

	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("%w: no choices in response", gateway.ErrInvalidResponse)
	}
	choice := resp.Choices[0]
	if choice.FinishReason == "content_filter" {
		return nil, gateway.ErrContentBlocked
	}

	result, err := gateway.ParseResult(choice.Message.Content, req.TaskType)
	if err != nil {
		return nil, err
	}
	result.Model = resp.Model
	if result.Model == "" {
		result.Model = c.model
	}
	return result, nil
}

// do performs one request and decodes a 2xx JSON body into out. Failures are
// classified with the gateway error helpers; retries belong to the task queue.
func (c *Client) do(ctx context.Context, method, path, op string, body, out any) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return fmt.Errorf("failed to encode %s request: %w", op, err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, &buf)
	if err != nil {
		return fmt.Errorf("failed to build %s request: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return gateway.TransportError(op, err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return gateway.TransportError(op, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return gateway.StatusError(op, resp.StatusCode, string(raw), retryAfter(resp.Header, c.now()))
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%w: %s: %v", gateway.ErrInvalidResponse, op, err)
	}
	return nil
}

// retryAfter reads a Retry-After header given in seconds or as an HTTP date.
func retryAfter(h http.Header, now time.Time) time.Duration {
	v := strings.TrimSpace(h.Get("Retry-After"))
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs <= 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(v); err == nil && at.After(now) {
		return at.Sub(now)
	}
	return 0
}
