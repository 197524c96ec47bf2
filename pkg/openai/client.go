// Package openai wraps an OpenAI-compatible API for embeddings and chat
// completions. Any server speaking the same protocol can be used via BaseURL.
package openai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	oai "github.com/sashabaranov/go-openai"
)

// Config selects the endpoint and models.
type Config struct {
	APIKey     string
	BaseURL    string
	EmbedModel string
	ChatModel  string
	// Dimensions requests a reduced embedding size when the model supports it.
	Dimensions int
}

// Client is a thin wrapper over go-openai.
type Client struct {
	client *oai.Client
	cfg    Config
}

// New creates a Client.
func New(cfg Config) *Client {
	c := oai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		c.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	return &Client{client: oai.NewClientWithConfig(c), cfg: cfg}
}

// Model returns the chat model name.
func (c *Client) Model() string { return c.cfg.ChatModel }

// EmbedModel returns the embedding model name.
func (c *Client) EmbedModel() string { return c.cfg.EmbedModel }

// Embed returns the embedding for text.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := c.client.CreateEmbeddings(ctx, oai.EmbeddingRequest{
		Input:      []string{text},
		Model:      oai.EmbeddingModel(c.cfg.EmbedModel),
		Dimensions: c.cfg.Dimensions,
	})
	if err != nil {
		return nil, fmt.Errorf("openai: create embeddings: %w", err)
	}
	if len(resp.Data) == 0 || len(resp.Data[0].Embedding) == 0 {
		return nil, errors.New("openai: empty embedding response")
	}
	return resp.Data[0].Embedding, nil
}

// Completion is a chat request.
type Completion struct {
	System      string
	User        string
	MaxTokens   int
	Temperature float32
}

// Complete runs a single-turn chat completion and returns the reply text.
func (c *Client) Complete(ctx context.Context, req Completion) (string, error) {
	msgs := make([]oai.ChatCompletionMessage, 0, 2)
	if req.System != "" {
		msgs = append(msgs, oai.ChatCompletionMessage{Role: oai.ChatMessageRoleSystem, Content: req.System})
	}
	msgs = append(msgs, oai.ChatCompletionMessage{Role: oai.ChatMessageRoleUser, Content: req.User})

	resp, err := c.client.CreateChatCompletion(ctx, oai.ChatCompletionRequest{
		Model:       c.cfg.ChatModel,
		Messages:    msgs,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	})
	if err != nil {
		return "", fmt.Errorf("openai: chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("openai: no choices returned")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}
