package textshape

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"
)

const systemPrompt = `You rewrite short lines of speech so they sound natural when spoken by a person of a given age.
Keep the meaning and the language of the input. Adjust vocabulary, sentence length and tone only.
Reply with the rewritten line and nothing else.`

var _ Shaper = (*LLM)(nil)

// LLM shapes text with an OpenAI-compatible chat completion model. Any
// failure or empty reply falls back to the configured fallback shaper.
type LLM struct {
	client   oai.Client
	model    string
	fallback Shaper
	log      *slog.Logger
}

type llmConfig struct {
	baseURL  string
	timeout  time.Duration
	fallback Shaper
	log      *slog.Logger
}

// Option configures an [LLM].
type Option func(*llmConfig)

// WithBaseURL points the client at an OpenAI-compatible endpoint.
func WithBaseURL(url string) Option {
	return func(c *llmConfig) { c.baseURL = url }
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *llmConfig) { c.timeout = d }
}

// WithFallback replaces the default [Rules] fallback.
func WithFallback(s Shaper) Option {
	return func(c *llmConfig) { c.fallback = s }
}

// WithLogger sets the logger used to report fallbacks.
func WithLogger(l *slog.Logger) Option {
	return func(c *llmConfig) { c.log = l }
}

// NewLLM creates an LLM shaper for model.
func NewLLM(apiKey, model string, opts ...Option) (*LLM, error) {
	if apiKey == "" {
		return nil, errors.New("textshape: apiKey must not be empty")
	}
	if model == "" {
		return nil, errors.New("textshape: model must not be empty")
	}
	cfg := &llmConfig{fallback: Rules{}, log: slog.Default()}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{Timeout: cfg.timeout}))
	}
	return &LLM{
		client:   oai.NewClient(reqOpts...),
		model:    model,
		fallback: cfg.fallback,
		log:      cfg.log,
	}, nil
}

// Shape implements [Shaper].
func (l *LLM) Shape(ctx context.Context, text string, age float64) (string, error) {
	if strings.TrimSpace(text) == "" {
		return text, nil
	}
	out, err := l.complete(ctx, text, age)
	if err != nil {
		l.log.Warn("textshape: llm failed, using fallback", "model", l.model, "error", err)
		return l.fallback.Shape(ctx, text, age)
	}
	return out, nil
}

func (l *LLM) complete(ctx context.Context, text string, age float64) (string, error) {
	params := oai.ChatCompletionNewParams{
		Model: shared.ChatModel(l.model),
		Messages: []oai.ChatCompletionMessageParamUnion{
			oai.SystemMessage(systemPrompt),
			oai.UserMessage(fmt.Sprintf("Speaker age: %.0f\nLine: %s", age, text)),
		},
		Temperature:         param.NewOpt(0.4),
		MaxCompletionTokens: param.NewOpt(int64(256)),
	}
	resp, err := l.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("textshape: chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("textshape: empty choices in response")
	}
	out := strings.TrimSpace(resp.Choices[0].Message.Content)
	if out == "" {
		return "", errors.New("textshape: empty completion")
	}
	return out, nil
}
