// Package reasoning calls an OpenAI-compatible chat completions endpoint
// (OpenAI, OpenRouter, vLLM, Ollama, llama.cpp and friends).
package reasoning

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/rs/zerolog"
)

const defaultMaxTokens = 400

// OpenAI implements agent.Reasoner.
type OpenAI struct {
	client      openai.Client
	model       string
	maxTokens   int
	temperature *float64
	logger      zerolog.Logger
}

// Options configures an OpenAI client.
type Options struct {
	BaseURL     string // e.g. https://api.openai.com/v1
	APIKey      string
	Model       string
	MaxTokens   int
	Temperature *float64
	HTTPClient  *http.Client
	Logger      zerolog.Logger
}

// NewOpenAI creates a client. BaseURL and Model are required.
func NewOpenAI(opts Options) (*OpenAI, error) {
	if opts.BaseURL == "" || opts.Model == "" {
		return nil, fmt.Errorf("reasoning: base URL and model are required")
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 60 * time.Second}
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = defaultMaxTokens
	}

	// The caller's deadline bounds each call; a failed call is skipped, not retried.
	reqOpts := []option.RequestOption{
		option.WithBaseURL(strings.TrimRight(opts.BaseURL, "/") + "/"),
		option.WithHTTPClient(opts.HTTPClient),
		option.WithMaxRetries(0),
	}
	if opts.APIKey != "" {
		reqOpts = append(reqOpts, option.WithAPIKey(opts.APIKey))
	}

	return &OpenAI{
		client:      openai.NewClient(reqOpts...),
		model:       opts.Model,
		maxTokens:   opts.MaxTokens,
		temperature: opts.Temperature,
		logger:      opts.Logger,
	}, nil
}

// APIError is a non-2xx answer from the endpoint.
type APIError struct {
	StatusCode int
	Type       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Type != "" {
		return fmt.Sprintf("reasoning: HTTP %d: %s: %s", e.StatusCode, e.Type, e.Message)
	}
	return fmt.Sprintf("reasoning: HTTP %d: %s", e.StatusCode, e.Message)
}

// Generate sends one system and one user message and returns the reply text.
func (c *OpenAI) Generate(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	params := openai.ChatCompletionNewParams{
		Model:     openai.ChatModel(c.model),
		MaxTokens: openai.Int(int64(c.maxTokens)),
	}
	if c.temperature != nil {
		params.Temperature = openai.Float(*c.temperature)
	}
	if systemPrompt != "" {
		params.Messages = append(params.Messages, openai.SystemMessage(systemPrompt))
	}
	params.Messages = append(params.Messages, openai.UserMessage(userPrompt))

	start := time.Now()
	resp, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		var apiErr *openai.Error
		if errors.As(err, &apiErr) {
			msg := apiErr.Message
			if msg == "" {
				msg = http.StatusText(apiErr.StatusCode)
			}
			return "", &APIError{StatusCode: apiErr.StatusCode, Type: apiErr.Type, Message: msg}
		}
		return "", fmt.Errorf("reasoning: sending request: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("reasoning: response has no choices")
	}

	c.logger.Debug().
		Str("model", c.model).
		Dur("latency", time.Since(start)).
		Str("finish_reason", string(resp.Choices[0].FinishReason)).
		Int64("prompt_tokens", resp.Usage.PromptTokens).
		Int64("completion_tokens", resp.Usage.CompletionTokens).
		Msg("completion")

	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}
