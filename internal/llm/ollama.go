package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/schema"
	"go.uber.org/zap"
)

// OllamaConfig configures the ollama-backed planner.
type OllamaConfig struct {
	ServerURL string
	Model     string
	Timeout   time.Duration
}

// OllamaPlanner plans and phrases exchanges against a local ollama server.
type OllamaPlanner struct {
	model   llms.Model
	timeout time.Duration
	logger  *zap.Logger
}

// NewOllamaPlanner connects to the configured ollama server.
func NewOllamaPlanner(cfg OllamaConfig, logger *zap.Logger) (*OllamaPlanner, error) {
	if cfg.Model == "" {
		return nil, fmt.Errorf("ollama planner requires a model name")
	}
	opts := []ollama.Option{ollama.WithModel(cfg.Model)}
	if cfg.ServerURL != "" {
		opts = append(opts, ollama.WithServerURL(cfg.ServerURL))
	}
	model, err := ollama.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("create ollama client: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OllamaPlanner{model: model, timeout: cfg.Timeout, logger: logger}, nil
}

// Plan asks the model for a JSON envelope. A single corrective re-prompt is
// attempted when the first reply is malformed; a second malformed reply is
// reported as model unavailability.
func (p *OllamaPlanner) Plan(ctx context.Context, req PlanRequest) (*PlanResult, error) {
	userPrompt := buildPlanPrompt(req)

	raw, err := p.generate(ctx, planSystemPrompt, userPrompt)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %v", ErrModelUnavailable, err)
	}
	result, parseErr := parseEnvelope(raw)
	if parseErr == nil {
		return result, nil
	}
	p.logger.Warn("malformed plan envelope, re-prompting", zap.Error(parseErr))

	raw, err = p.generate(ctx, planSystemPrompt, userPrompt+"\n\n"+correctivePrompt)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %v", ErrModelUnavailable, err)
	}
	result, parseErr = parseEnvelope(raw)
	if parseErr != nil {
		return nil, fmt.Errorf("%w: envelope still malformed after re-prompt: %v", ErrModelUnavailable, parseErr)
	}
	return result, nil
}

// Respond phrases the final reply from the utterance and step outcomes.
func (p *OllamaPlanner) Respond(ctx context.Context, req PlanRequest, outcomes []StepOutcome) (string, error) {
	raw, err := p.generate(ctx, respondSystemPrompt, buildRespondPrompt(req, outcomes))
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", fmt.Errorf("%w: %v", ErrModelUnavailable, err)
	}
	text := strings.TrimSpace(raw)
	if text == "" {
		return "", fmt.Errorf("%w: empty response", ErrModelUnavailable)
	}
	return text, nil
}

func (p *OllamaPlanner) generate(ctx context.Context, system, user string) (string, error) {
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}
	resp, err := p.model.GenerateContent(ctx, []llms.MessageContent{
		llms.TextParts(schema.ChatMessageTypeSystem, system),
		llms.TextParts(schema.ChatMessageTypeHuman, user),
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no choices returned")
	}
	return resp.Choices[0].Content, nil
}
