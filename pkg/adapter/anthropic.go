package adapter

import (
	"context"
	"errors"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/zen-systems/modelgate/pkg/artifact"
)

// anthropicDefaultMaxTokens is used when the request leaves MaxTokens unset;
// the Messages API requires the field.
const anthropicDefaultMaxTokens = 4096

// AnthropicAdapter implements the Adapter interface for Claude models.
type AnthropicAdapter struct {
	client anthropic.Client
}

// NewAnthropicAdapter creates a new Anthropic adapter.
func NewAnthropicAdapter(apiKey string, opts ...option.RequestOption) (*AnthropicAdapter, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("anthropic API key is required")
	}

	base := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	client := anthropic.NewClient(append(base, opts...)...)
	return &AnthropicAdapter{client: client}, nil
}

// Name returns the adapter identifier.
func (a *AnthropicAdapter) Name() string {
	return "anthropic"
}

// Generate sends the request to the Messages API.
func (a *AnthropicAdapter) Generate(ctx context.Context, req *Request) (*Response, error) {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = anthropicDefaultMaxTokens
	}

	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(req.Model),
		MaxTokens:   int64(maxTokens),
		Temperature: anthropic.Float(req.Temperature),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.UserContent())),
		},
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}

	resp, err := a.client.Messages.New(ctx, params)
	if err != nil {
		var apiErr *anthropic.Error
		if errors.As(err, &apiErr) {
			return nil, StatusError(a.Name(), apiErr.StatusCode, err)
		}
		return nil, &Error{Kind: Classify(err), Provider: a.Name(), Err: err}
	}
	if resp == nil {
		return nil, ProviderError(a.Name(), "empty response")
	}

	var content string
	var sawText bool
	for _, block := range resp.Content {
		if block.Type == "text" {
			content += block.Text
			sawText = true
		}
	}
	if !sawText {
		return nil, ProviderError(a.Name(), "response has no text content")
	}

	return &Response{
		Artifact: artifact.New(content, a.Name(), req.Model),
		Usage: &Usage{
			PromptTokens:     int(resp.Usage.InputTokens),
			CompletionTokens: int(resp.Usage.OutputTokens),
		},
	}, nil
}
