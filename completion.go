package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aktagon/llmkit/anthropic"
	"github.com/aktagon/llmkit/anthropic/types"
	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/shared"
)

// CompletionRequest is one system+user exchange with the generation API.
type CompletionRequest struct {
	Purpose     string
	System      string
	User        string
	Temperature float64
	MaxTokens   int
	// JSON asks for a JSON object. Schema, when set, constrains it.
	JSON   bool
	Schema string
}

// Completer sends a prompt and returns the model's text.
type Completer interface {
	Complete(ctx context.Context, req CompletionRequest) (string, error)
	Ping(ctx context.Context) error
}

// OpenAICompleter talks to the OpenAI chat completions API.
type OpenAICompleter struct {
	client  openai.Client
	model   string
	timeout time.Duration
}

// NewOpenAICompleter creates a chat client. Extra options are used by tests.
func NewOpenAICompleter(apiKey, model string, timeout time.Duration, opts ...option.RequestOption) (*OpenAICompleter, error) {
	if apiKey == "" {
		return nil, errors.New("OpenAI API key not set")
	}
	opts = append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)
	return &OpenAICompleter{
		client:  openai.NewClient(opts...),
		model:   model,
		timeout: timeout,
	}, nil
}

func (c *OpenAICompleter) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	ctx, cancel := withTimeout(ctx, c.timeout)
	defer cancel()

	params := openai.ChatCompletionNewParams{
		Model: shared.ChatModel(c.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(req.System),
			openai.UserMessage(req.User),
		},
		Temperature: openai.Float(req.Temperature),
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(req.MaxTokens))
	}
	if req.JSON {
		params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{
				Type: "json_object",
			},
		}
	}

	resp, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("openai %s request: %w", req.Purpose, err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("openai %s: no choices in response: %w", req.Purpose, ErrMalformedResponse)
	}
	return resp.Choices[0].Message.Content, nil
}

// Ping lists models to check the key.
func (c *OpenAICompleter) Ping(ctx context.Context) error {
	ctx, cancel := withTimeout(ctx, c.timeout)
	defer cancel()

	if _, err := c.client.Models.List(ctx); err != nil {
		return fmt.Errorf("openai: %w", err)
	}
	return nil
}

// AnthropicCompleter uses llmkit against the Anthropic messages API.
type AnthropicCompleter struct {
	model  string
	prompt func(system, user, schema string, settings types.RequestSettings) (string, error)
}

// NewAnthropicCompleter creates an Anthropic-backed completer.
func NewAnthropicCompleter(apiKey, model string) (*AnthropicCompleter, error) {
	if apiKey == "" {
		return nil, errors.New("Anthropic API key not set")
	}
	return &AnthropicCompleter{
		model: model,
		prompt: func(system, user, schema string, settings types.RequestSettings) (string, error) {
			response, err := anthropic.PromptWithSettings(system, user, schema, apiKey, settings)
			if err != nil {
				return "", err
			}
			if len(response.Content) == 0 {
				return "", fmt.Errorf("no content in response: %w", ErrMalformedResponse)
			}
			return response.Content[0].Text, nil
		},
	}, nil
}

// Complete ignores ctx; llmkit calls are not cancellable.
func (c *AnthropicCompleter) Complete(_ context.Context, req CompletionRequest) (string, error) {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4000
	}
	settings := types.RequestSettings{
		Model:       c.model,
		MaxTokens:   maxTokens,
		Temperature: req.Temperature,
	}

	schema := ""
	if req.JSON {
		schema = req.Schema
	}
	text, err := c.prompt(req.System, req.User, schema, settings)
	if err != nil {
		return "", fmt.Errorf("anthropic %s request: %w", req.Purpose, err)
	}
	return text, nil
}

func (c *AnthropicCompleter) Ping(ctx context.Context) error {
	_, err := c.Complete(ctx, CompletionRequest{
		Purpose:   "ping",
		System:    "Reply with the single word: pong",
		User:      "ping",
		MaxTokens: 5,
	})
	return err
}

// newCompleter picks the backend named in settings.
func newCompleter(cfg *Config) (Completer, error) {
	gen := cfg.Settings.Generation
	if gen.Provider == "anthropic" {
		c, err := NewAnthropicCompleter(cfg.Secrets.AnthropicAPIKey, gen.Model)
		if err != nil {
			return nil, err
		}
		return c, nil
	}
	c, err := NewOpenAICompleter(cfg.Secrets.OpenAIAPIKey, gen.Model, gen.Timeout)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// cleanJSONResponse strips markdown code fences some models wrap JSON in.
func cleanJSONResponse(response string) string {
	response = strings.TrimSpace(response)
	if strings.HasPrefix(response, "```") {
		response = strings.TrimPrefix(response, "```json")
		response = strings.TrimPrefix(response, "```html")
		response = strings.TrimPrefix(response, "```")
		response = strings.TrimSuffix(response, "```")
	}
	return strings.TrimSpace(response)
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
