// Package ai implements the asynchronous generation pipeline: the LLM
// client, the per-kind generators, and the orchestrator that runs them off
// the broadcast path.
package ai

import (
	"context"
	"errors"
	"fmt"

	"github.com/grochat/grochat/internal/config"
	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

// CompletionClient abstracts the upstream LLM collaborator.
type CompletionClient interface {
	Complete(ctx context.Context, model, system, user string) (string, error)
}

// Client calls an OpenAI-compatible /v1/chat/completions endpoint
// (e.g. llama.cpp, vLLM, or a hosted provider).
type Client struct {
	api          openai.Client
	defaultModel string
}

// NewClient creates an LLM client from configuration.
func NewClient(cfg config.LLMConfig) *Client {
	opts := []option.RequestOption{}
	if cfg.APIKey != "" {
		opts = append(opts, option.WithAPIKey(cfg.APIKey))
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &Client{
		api:          openai.NewClient(opts...),
		defaultModel: cfg.Model,
	}
}

// Complete sends one system+user exchange and returns the assistant text.
// An empty model falls back to the configured default.
func (c *Client) Complete(ctx context.Context, model, system, user string) (string, error) {
	if model == "" {
		model = c.defaultModel
	}

	resp, err := c.api.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(system),
			openai.UserMessage(user),
		},
		Temperature:         openai.Float(0.2),
		MaxCompletionTokens: openai.Int(1024),
	})
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("chat completion returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}
