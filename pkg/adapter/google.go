package adapter

import (
	"context"
	"errors"
	"fmt"

	"github.com/zen-systems/modelgate/pkg/artifact"
	"google.golang.org/genai"
)

// GoogleAdapter implements the Adapter interface for Gemini models.
type GoogleAdapter struct {
	client *genai.Client
}

// NewGoogleAdapter creates a new Google Gemini adapter. baseURL may be empty.
func NewGoogleAdapter(apiKey string, baseURL string) (*GoogleAdapter, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("google API key is required")
	}

	cfg := &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	}
	if baseURL != "" {
		cfg.HTTPOptions = genai.HTTPOptions{BaseURL: baseURL}
	}

	client, err := genai.NewClient(context.Background(), cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create google client: %w", err)
	}

	return &GoogleAdapter{client: client}, nil
}

// Name returns the adapter identifier.
func (a *GoogleAdapter) Name() string {
	return "google"
}

// Generate sends the request to the GenerateContent API.
func (a *GoogleAdapter) Generate(ctx context.Context, req *Request) (*Response, error) {
	cfg := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(float32(req.Temperature)),
	}
	if req.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(req.MaxTokens)
	}
	if req.System != "" {
		cfg.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: req.System}}}
	}

	resp, err := a.client.Models.GenerateContent(ctx, req.Model, genai.Text(req.UserContent()), cfg)
	if err != nil {
		var apiErr genai.APIError
		if errors.As(err, &apiErr) {
			return nil, StatusError(a.Name(), apiErr.Code, err)
		}
		return nil, &Error{Kind: Classify(err), Provider: a.Name(), Err: err}
	}

	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil, ProviderError(a.Name(), "response has no candidates")
	}

	var content string
	for _, part := range resp.Candidates[0].Content.Parts {
		if part != nil && part.Text != "" {
			content += part.Text
		}
	}

	out := &Response{Artifact: artifact.New(content, a.Name(), req.Model)}
	if md := resp.UsageMetadata; md != nil {
		out.Usage = &Usage{
			PromptTokens:     int(md.PromptTokenCount),
			CompletionTokens: int(md.CandidatesTokenCount),
			TotalTokens:      int(md.TotalTokenCount),
		}
	}
	return out, nil
}
