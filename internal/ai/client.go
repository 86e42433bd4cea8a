// Package ai asks a chat-completion model for the next batch of actions.
package ai

import (
	"context"
	"fmt"
	"strings"
	"time"

	"beacon/internal/config"

	openai "github.com/sashabaranov/go-openai"
)

// Completer sends one system prompt and one user message and returns the
// model's text.
type Completer interface {
	Complete(ctx context.Context, systemPrompt, userMessage string) (string, error)
}

// OpenAICompleter talks to any OpenAI-compatible endpoint (x.ai, OpenAI).
type OpenAICompleter struct {
	client      *openai.Client
	model       string
	temperature float32
	maxTokens   int
	timeout     time.Duration
	jsonMode    bool
}

// NewOpenAI builds a completer from the llm config section.
func NewOpenAI(cfg config.LLMConfig) *OpenAICompleter {
	c := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		c.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &OpenAICompleter{
		client:      openai.NewClientWithConfig(c),
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		timeout:     timeout,
		jsonMode:    cfg.Provider == "openai",
	}
}

func (c *OpenAICompleter) Complete(ctx context.Context, systemPrompt, userMessage string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req := openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: userMessage},
		},
		Temperature: c.temperature,
		MaxTokens:   c.maxTokens,
	}
	if c.jsonMode {
		req.ResponseFormat = &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject}
	}
	resp, err := c.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no response choices")
	}
	return resp.Choices[0].Message.Content, nil
}

// Nop answers every prompt with an empty batch. Used with provider "none".
type Nop struct{}

func (Nop) Complete(context.Context, string, string) (string, error) {
	return `{"why":"model disabled","actions":[]}`, nil
}

// FromConfig picks the completer for cfg.Provider.
func FromConfig(cfg config.LLMConfig) Completer {
	if cfg.Provider == "none" {
		return Nop{}
	}
	return NewOpenAI(cfg)
}
