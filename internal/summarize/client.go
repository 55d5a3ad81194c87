// Package summarize condenses document text into a few lines using an
// OpenAI-compatible chat completion API.
package summarize

import (
	"context"
	"fmt"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/teemow/inboxbell/internal/instrumentation"
)

// DefaultModel is used when no model is configured.
const DefaultModel = "gpt-4o-mini"

// SystemPrompt frames every summarization request.
const SystemPrompt = "You are a concise academic assistant. Summarize documents focusing on deadlines, " +
	"requirements, topics. Keep it factual and compact."

// Summarizer condenses text into at most maxLines lines.
type Summarizer interface {
	Summarize(ctx context.Context, text string, maxLines int) (string, error)
}

// Config configures a Client.
type Config struct {
	APIKey string
	Model  string

	// BaseURL overrides the API root, e.g. for a compatible gateway.
	BaseURL string

	Metrics *instrumentation.Metrics
}

// Client is a Summarizer backed by the chat completions endpoint.
type Client struct {
	client  *openai.Client
	model   string
	metrics *instrumentation.Metrics
}

var _ Summarizer = (*Client)(nil)

// NewClient creates a summarization client.
func NewClient(cfg Config) *Client {
	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}

	config := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		config.BaseURL = cfg.BaseURL
	}

	return &Client{
		client:  openai.NewClientWithConfig(config),
		model:   model,
		metrics: cfg.Metrics,
	}
}

// UserPrompt builds the request for text.
func UserPrompt(text string, maxLines int) string {
	return fmt.Sprintf("Summarize the following email/content in at most %d lines. "+
		"Emphasize dates/deadlines, tasks/requirements, and key topics.\n\nContent:\n%s", maxLines, text)
}

// Summarize returns the trimmed model answer.
func (c *Client) Summarize(ctx context.Context, text string, maxLines int) (string, error) {
	ctx, span := instrumentation.StartAPISpan(ctx, instrumentation.ServiceOpenAI, instrumentation.OperationSummarize)
	start := time.Now()

	summary, err := c.complete(ctx, text, maxLines)

	c.metrics.RecordAPIOperation(ctx, instrumentation.ServiceOpenAI, instrumentation.OperationSummarize,
		instrumentation.StatusFor(err), time.Since(start))
	instrumentation.EndSpan(span, err)
	return summary, err
}

func (c *Client) complete(ctx context.Context, text string, maxLines int) (string, error) {
	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: SystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: UserPrompt(text, maxLines)},
		},
	})
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}

	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no response choices")
	}

	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}
