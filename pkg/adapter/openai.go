package adapter

import (
	"context"
	"errors"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/zen-systems/modelgate/pkg/artifact"
)

// OpenAIAdapter implements the Adapter interface for OpenAI models.
type OpenAIAdapter struct {
	client openai.Client
}

// NewOpenAIAdapter creates a new OpenAI adapter. Extra request options such as
// option.WithBaseURL are applied after the key.
func NewOpenAIAdapter(apiKey string, opts ...option.RequestOption) (*OpenAIAdapter, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai API key is required")
	}

	base := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	client := openai.NewClient(append(base, opts...)...)
	return &OpenAIAdapter{client: client}, nil
}

// Name returns the adapter identifier.
func (a *OpenAIAdapter) Name() string {
	return "openai"
}

// Generate sends the request to the chat completions API.
func (a *OpenAIAdapter) Generate(ctx context.Context, req *Request) (*Response, error) {
	var messages []openai.ChatCompletionMessageParamUnion
	if req.System != "" {
		messages = append(messages, openai.SystemMessage(req.System))
	}
	messages = append(messages, openai.UserMessage(req.UserContent()))

	params := openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(req.Model),
		Messages:    messages,
		Temperature: openai.Float(req.Temperature),
	}
	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(int64(req.MaxTokens))
	}

	resp, err := a.client.Chat.Completions.New(ctx, params)
	if err != nil {
		var apiErr *openai.Error
		if errors.As(err, &apiErr) {
			return nil, StatusError(a.Name(), apiErr.StatusCode, err)
		}
		return nil, &Error{Kind: Classify(err), Provider: a.Name(), Err: err}
	}

	if resp == nil || len(resp.Choices) == 0 {
		return nil, ProviderError(a.Name(), "response has no choices")
	}

	return &Response{
		Artifact: artifact.New(resp.Choices[0].Message.Content, a.Name(), req.Model),
		Usage: &Usage{
			PromptTokens:     int(resp.Usage.PromptTokens),
			CompletionTokens: int(resp.Usage.CompletionTokens),
			TotalTokens:      int(resp.Usage.TotalTokens),
		},
	}, nil
}
