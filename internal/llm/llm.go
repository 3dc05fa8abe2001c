package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// DefaultModel is used when no model is configured.
const DefaultModel = "claude-haiku-4-5-20251001"

// Params are the sampling parameters of a Client.
type Params struct {
	Model       string
	Temperature float64
	TopP        float64
	MaxTokens   int64
}

// ModelParams returns p in the form recorded on reasoning steps.
func (p Params) ModelParams() map[string]any {
	return map[string]any{
		"model":       p.Model,
		"temperature": p.Temperature,
		"top_p":       p.TopP,
		"max_tokens":  p.MaxTokens,
	}
}

// Client wraps the Anthropic API for review generation.
type Client struct {
	api    *anthropic.Client
	params Params
}

// NewClient creates an LLM client with the given API key and parameters.
// Extra request options (base URL, retries) are passed to the SDK as is.
func NewClient(apiKey string, params Params, extra ...option.RequestOption) *Client {
	opts := []option.RequestOption{}
	if apiKey != "" {
		opts = append(opts, option.WithAPIKey(apiKey))
	}
	opts = append(opts, extra...)
	client := anthropic.NewClient(opts...)

	if params.Model == "" {
		params.Model = DefaultModel
	}
	if params.MaxTokens <= 0 {
		params.MaxTokens = 4096
	}
	return &Client{
		api:    &client,
		params: params,
	}
}

// Params returns the client's sampling parameters.
func (c *Client) Params() Params { return c.params }

// Generate sends one system/user exchange and returns the text reply.
// TopP is recorded but not sent; the API rejects requests that set both
// temperature and top_p on current models.
func (c *Client) Generate(ctx context.Context, system, user string) (string, error) {
	msg, err := c.api.Messages.New(ctx, anthropic.MessageNewParams{
		Model:       anthropic.Model(c.params.Model),
		MaxTokens:   c.params.MaxTokens,
		Temperature: anthropic.Float(c.params.Temperature),
		System: []anthropic.TextBlockParam{
			{Text: system},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(user)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("anthropic API call: %w", err)
	}

	var parts []string
	for _, block := range msg.Content {
		if block.Type == "text" && block.Text != "" {
			parts = append(parts, block.Text)
		}
	}
	text := strings.Join(parts, "\n")
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("no text content in API response")
	}
	return text, nil
}

// StripFences removes a surrounding markdown code fence, if present.
func StripFences(text string) string {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "```") {
		return text
	}
	lines := strings.SplitN(text, "\n", 2)
	if len(lines) < 2 {
		return ""
	}
	text = lines[1]
	if idx := strings.LastIndex(text, "```"); idx >= 0 {
		text = text[:idx]
	}
	return strings.TrimSpace(text)
}
