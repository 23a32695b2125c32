package generation

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/hyperjump/shiori/internal/errs"
	"github.com/hyperjump/shiori/internal/provider"
)

// OpenAI chat defaults.
const (
	DefaultOpenAIBaseURL = "https://api.openai.com/v1"
	DefaultOpenAIModel   = "gpt-3.5-turbo"
	DefaultOpenAITimeout = 60 * time.Second
)

// OpenAIConfig configures an OpenAI chat generator.
type OpenAIConfig struct {
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float64
	Timeout     time.Duration
	Retry       provider.RetryPolicy
	Throttle    *provider.Throttle
}

// OpenAI sends the prompt as a single user message to /chat/completions.
type OpenAI struct {
	client      *provider.Client
	model       string
	temperature float64
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// NewOpenAI validates cfg and returns a chat generator.
func NewOpenAI(cfg OpenAIConfig) (*OpenAI, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai: API key is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultOpenAIBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultOpenAIModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultOpenAITimeout
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = provider.DefaultRetryPolicy(cfg.Timeout)
	}
	if cfg.Retry.Timeout == 0 {
		cfg.Retry.Timeout = cfg.Timeout
	}
	return &OpenAI{
		client: &provider.Client{
			Name:     "openai",
			BaseURL:  cfg.BaseURL,
			APIKey:   cfg.APIKey,
			HTTP:     &http.Client{},
			Retry:    cfg.Retry,
			Throttle: cfg.Throttle,
		},
		model:       cfg.Model,
		temperature: cfg.Temperature,
	}, nil
}

// Complete returns the first choice's message content.
func (g *OpenAI) Complete(ctx context.Context, prompt string) (string, error) {
	req := chatRequest{
		Model:       g.model,
		Messages:    []chatMessage{{Role: "user", Content: prompt}},
		Temperature: g.temperature,
	}
	var resp chatResponse
	if err := g.client.PostJSON(ctx, "complete", "/chat/completions", req, &resp); err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", &errs.ProviderError{Provider: "openai", Op: "complete", StatusCode: http.StatusOK,
			Err: fmt.Errorf("response has no choices")}
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

// Model returns the chat model name.
func (g *OpenAI) Model() string { return g.model }
