package adapter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"unicode/utf8"

	"github.com/zen-systems/modelgate/pkg/artifact"
)

// Base URLs for providers that speak the OpenAI chat-completions dialect.
const (
	DeepSeekBaseURL   = "https://api.deepseek.com/v1"
	GroqBaseURL       = "https://api.groq.com/openai/v1"
	MistralBaseURL    = "https://api.mistral.ai/v1"
	XAIBaseURL        = "https://api.x.ai/v1"
	OpenRouterBaseURL = "https://openrouter.ai/api/v1"
)

// maxBodySize caps how much of a response body is read.
const maxBodySize = 8 * 1024 * 1024

// CompatAdapter implements Adapter for OpenAI-compatible HTTP APIs.
type CompatAdapter struct {
	name       string
	apiKey     string
	baseURL    string
	headers    map[string]string
	httpClient *http.Client
}

// CompatOption configures a CompatAdapter.
type CompatOption func(*CompatAdapter)

// WithBaseURL overrides the provider endpoint.
func WithBaseURL(baseURL string) CompatOption {
	return func(a *CompatAdapter) {
		if baseURL != "" {
			a.baseURL = baseURL
		}
	}
}

// WithHTTPClient sets the HTTP client used for requests.
func WithHTTPClient(client *http.Client) CompatOption {
	return func(a *CompatAdapter) {
		if client != nil {
			a.httpClient = client
		}
	}
}

// WithHeader adds a static header to every request.
func WithHeader(key, value string) CompatOption {
	return func(a *CompatAdapter) {
		a.headers[key] = value
	}
}

type compatRequest struct {
	Model       string          `json:"model"`
	Messages    []compatMessage `json:"messages"`
	MaxTokens   int             `json:"max_tokens,omitempty"`
	Temperature float64         `json:"temperature"`
}

type compatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type compatResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Index        int           `json:"index"`
		Message      compatMessage `json:"message"`
		FinishReason string        `json:"finish_reason"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

// NewCompatAdapter creates an adapter for an OpenAI-compatible provider.
func NewCompatAdapter(name, baseURL, apiKey string, opts ...CompatOption) (*CompatAdapter, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("%s API key is required", name)
	}
	a := &CompatAdapter{
		name:       name,
		apiKey:     apiKey,
		baseURL:    baseURL,
		headers:    make(map[string]string),
		httpClient: &http.Client{},
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.baseURL == "" {
		return nil, fmt.Errorf("%s base URL is required", name)
	}
	return a, nil
}

// NewDeepSeekAdapter creates a DeepSeek adapter.
func NewDeepSeekAdapter(apiKey string, opts ...CompatOption) (*CompatAdapter, error) {
	return NewCompatAdapter("deepseek", DeepSeekBaseURL, apiKey, opts...)
}

// NewGroqAdapter creates a Groq adapter.
func NewGroqAdapter(apiKey string, opts ...CompatOption) (*CompatAdapter, error) {
	return NewCompatAdapter("groq", GroqBaseURL, apiKey, opts...)
}

// NewMistralAdapter creates a Mistral adapter.
func NewMistralAdapter(apiKey string, opts ...CompatOption) (*CompatAdapter, error) {
	return NewCompatAdapter("mistral", MistralBaseURL, apiKey, opts...)
}

// NewXAIAdapter creates an xAI (Grok) adapter.
func NewXAIAdapter(apiKey string, opts ...CompatOption) (*CompatAdapter, error) {
	return NewCompatAdapter("xai", XAIBaseURL, apiKey, opts...)
}

// NewOpenRouterAdapter creates an OpenRouter adapter. OpenRouter asks clients
// to identify themselves with referer and title headers.
func NewOpenRouterAdapter(apiKey string, opts ...CompatOption) (*CompatAdapter, error) {
	opts = append([]CompatOption{
		WithHeader("HTTP-Referer", "https://github.com/zen-systems/modelgate"),
		WithHeader("X-Title", "modelgate"),
	}, opts...)
	return NewCompatAdapter("openrouter", OpenRouterBaseURL, apiKey, opts...)
}

// Name returns the adapter identifier.
func (a *CompatAdapter) Name() string {
	return a.name
}

// Generate sends the request to the chat-completions endpoint.
func (a *CompatAdapter) Generate(ctx context.Context, req *Request) (*Response, error) {
	reqBody := compatRequest{
		Model:       req.Model,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	}
	if req.System != "" {
		reqBody.Messages = append(reqBody.Messages, compatMessage{Role: "system", Content: req.System})
	}
	reqBody.Messages = append(reqBody.Messages, compatMessage{Role: "user", Content: req.UserContent()})

	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/chat/completions", bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+a.apiKey)
	for k, v := range a.headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := a.httpClient.Do(httpReq)
	if err != nil {
		return nil, &Error{Kind: Classify(err), Provider: a.name, Err: fmt.Errorf("request failed: %w", err)}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, &Error{Kind: Classify(err), Provider: a.name, Status: resp.StatusCode, Err: fmt.Errorf("failed to read response body: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, StatusError(a.name, resp.StatusCode, fmt.Errorf("status %d: %s", resp.StatusCode, truncate(string(body), 512)))
	}

	var parsed compatResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, ProviderError(a.name, "failed to parse response: %v", err)
	}
	if parsed.Error != nil {
		return nil, ProviderError(a.name, "%s (type: %s)", parsed.Error.Message, parsed.Error.Type)
	}
	if len(parsed.Choices) == 0 {
		return nil, ProviderError(a.name, "response has no choices")
	}

	out := &Response{
		Artifact: artifact.New(parsed.Choices[0].Message.Content, a.name, req.Model),
	}
	if parsed.Usage != nil {
		out.Usage = &Usage{
			PromptTokens:     parsed.Usage.PromptTokens,
			CompletionTokens: parsed.Usage.CompletionTokens,
			TotalTokens:      parsed.Usage.TotalTokens,
		}
	}
	return out, nil
}

// truncate cuts s to at most n bytes without splitting a UTF-8 sequence.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}
