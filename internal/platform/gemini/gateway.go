package gemini

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/phrazzld/lesson-analysis/internal/config"
	"github.com/phrazzld/lesson-analysis/internal/gateway"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/genai"
)

const tracerName = "github.com/phrazzld/lesson-analysis/internal/platform/gemini"

// endpoint is reported as the provider URL in health results.
const endpoint = "https://generativelanguage.googleapis.com"

// modelsAPI is the part of *genai.Models the gateway uses.
type modelsAPI interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
	List(ctx context.Context, config *genai.ListModelsConfig) (genai.Page[genai.Model], error)
}

// GeminiGateway implements gateway.Gateway with the Gemini API.
type GeminiGateway struct {
	models         modelsAPI
	model          string
	temperature    float32
	maxTokens      int32
	capabilities   map[string]string
	requestTimeout time.Duration
	healthTimeout  time.Duration
	logger         *slog.Logger
	tracer         trace.Tracer
	now            func() time.Time
}

var _ gateway.Gateway = (*GeminiGateway)(nil)

// NewGeminiGateway creates a gateway backed by a genai client.
//
// Parameters:
//   - ctx: context for client construction
//   - logger: structured logger, must not be nil
//   - cfg: AI configuration; APIKey and Model are required
//
// Returns:
//   - the gateway, or an error wrapping gateway.ErrInvalidConfig
func NewGeminiGateway(ctx context.Context, logger *slog.Logger, cfg config.AIConfig) (*GeminiGateway, error) {
	if logger == nil {
		return nil, fmt.Errorf("%w: logger cannot be nil", gateway.ErrInvalidConfig)
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: gemini API key cannot be empty", gateway.ErrInvalidConfig)
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("%w: model name cannot be empty", gateway.ErrInvalidConfig)
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create Gemini client: %v", gateway.ErrInvalidConfig, err)
	}
	return newGateway(client.Models, logger, cfg), nil
}

func newGateway(models modelsAPI, logger *slog.Logger, cfg config.AIConfig) *GeminiGateway {
	return &GeminiGateway{
		models:         models,
		model:          cfg.Model,
		temperature:    cfg.Temperature,
		maxTokens:      int32(cfg.MaxOutputTokens),
		capabilities:   cfg.Capabilities,
		requestTimeout: cfg.RequestTimeout(),
		healthTimeout:  cfg.HealthTimeout(),
		logger:         logger.With(slog.String("component", "gemini")),
		tracer:         otel.Tracer(tracerName),
		now:            func() time.Time { return time.Now().UTC() },
	}
}

// HealthCheck lists the models visible to the API key.
func (g *GeminiGateway) HealthCheck(ctx context.Context) gateway.HealthStatus {
	ctx, span := g.tracer.Start(ctx, "gemini.HealthCheck")
	defer span.End()

	status := gateway.HealthStatus{URL: endpoint, CheckedAt: g.now()}
	if g.healthTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.healthTimeout)
		defer cancel()
	}

	page, err := g.models.List(ctx, &genai.ListModelsConfig{})
	if err != nil {
		err = classify("list models", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "provider unavailable")
		g.logger.WarnContext(ctx, "gemini health check failed", slog.String("error", err.Error()))
		status.Error = err.Error()
		return status
	}

	ids := make([]string, 0, len(page.Items))
	for _, m := range page.Items {
		if m != nil {
			ids = append(ids, m.Name)
		}
	}
	status.Available = true
	status.Models = gateway.MatchCapabilities(g.capabilities, ids)
	return status
}

// Analyze generates one analysis with a JSON response MIME type.
func (g *GeminiGateway) Analyze(ctx context.Context, req gateway.AnalysisRequest) (*gateway.AnalysisResult, error) {
	ctx, span := g.tracer.Start(ctx, "gemini.Analyze", trace.WithAttributes(
		attribute.String("lesson.id", req.LessonID.String()),
		attribute.String("task.type", string(req.TaskType)),
		attribute.String("ai.model", g.model),
	))
	defer span.End()

	result, err := g.analyze(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "analysis failed")
		return nil, err
	}
	return result, nil
}

func (g *GeminiGateway) analyze(ctx context.Context, req gateway.AnalysisRequest) (*gateway.AnalysisResult, error) {
	prompt, err := gateway.BuildPrompt(req)
	if err != nil {
		return nil, err
	}
	if g.requestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.requestTimeout)
		defer cancel()
	}

	temperature := g.temperature
	resp, err := g.models.GenerateContent(ctx, g.model, genai.Text(prompt), &genai.GenerateContentConfig{
		SystemInstruction: &genai.Content{Parts: []*genai.Part{{Text: gateway.SystemPrompt}}},
		Temperature:       &temperature,
		MaxOutputTokens:   g.maxTokens,
		ResponseMIMEType:  "application/json",
	})
	if err != nil {
		return nil, classify("generate content", err)
	}

	text, err := responseText(resp)
	if err != nil {
		return nil, err
	}
	result, err := gateway.ParseResult(text, req.TaskType)
	if err != nil {
		return nil, err
	}
	result.Model = resp.ModelVersion
	if result.Model == "" {
		result.Model = g.model
	}
	return result, nil
}

// responseText extracts the text of the first candidate.
func responseText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil {
		return "", fmt.Errorf("%w: nil response", gateway.ErrInvalidResponse)
	}
	if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
		return "", fmt.Errorf("%w: prompt blocked: %s", gateway.ErrContentBlocked, resp.PromptFeedback.BlockReason)
	}
	if len(resp.Candidates) == 0 {
		return "", fmt.Errorf("%w: no content generated", gateway.ErrInvalidResponse)
	}

	cand := resp.Candidates[0]
	if cand.FinishReason == genai.FinishReasonSafety {
		return "", gateway.ErrContentBlocked
	}
	if cand.Content == nil {
		return "", fmt.Errorf("%w: empty content in response", gateway.ErrInvalidResponse)
	}

	var b strings.Builder
	for _, part := range cand.Content.Parts {
		if part != nil {
			b.WriteString(part.Text)
		}
	}
	return b.String(), nil
}

// classify maps genai errors onto the gateway taxonomy.
func classify(op string, err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return gateway.StatusError(op, apiErr.Code, apiErr.Message, 0)
	}
	return gateway.TransportError(op, err)
}
