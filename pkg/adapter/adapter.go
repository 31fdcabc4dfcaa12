package adapter

import (
	"context"
	"strings"
)

// Adapter defines the interface for LLM provider adapters.
//
// An adapter performs exactly one upstream call per Generate and never retries.
// Failures are returned as *Error so callers can tell credential problems from
// throttling and broken responses.
type Adapter interface {
	// Generate sends one chat-completion request to the provider.
	Generate(ctx context.Context, req *Request) (*Response, error)

	// Name returns the provider identifier.
	Name() string
}

// Request is the provider-neutral shape of a completion call.
type Request struct {
	// Model is the upstream model name, without the catalog provider prefix.
	Model       string
	System      string
	Prompt      string
	Code        string
	Temperature float64
	MaxTokens   int
}

// UserContent returns the prompt with the optional code snippet appended as a
// fenced block.
func (r *Request) UserContent() string {
	if strings.TrimSpace(r.Code) == "" {
		return r.Prompt
	}
	var sb strings.Builder
	sb.WriteString(r.Prompt)
	sb.WriteString("\n\n```\n")
	sb.WriteString(r.Code)
	if !strings.HasSuffix(r.Code, "\n") {
		sb.WriteString("\n")
	}
	sb.WriteString("```")
	return sb.String()
}
