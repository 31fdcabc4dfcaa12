package adapter

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/zen-systems/modelgate/pkg/artifact"
)

// MockAdapter returns scripted responses for local runs and tests.
// It is safe for concurrent use.
type MockAdapter struct {
	name            string
	defaultResponse string

	mu        sync.Mutex
	responses map[string][]string
	errors    map[string]error
	delays    map[string]time.Duration
	usage     Usage
	calls     map[string]int
	requests  []Request
}

// NewMockAdapter creates a mock adapter registered under name.
func NewMockAdapter(name string) *MockAdapter {
	if name == "" {
		name = "mock"
	}
	return &MockAdapter{
		name:            name,
		defaultResponse: "mock response:",
		responses:       make(map[string][]string),
		errors:          make(map[string]error),
		delays:          make(map[string]time.Duration),
		calls:           make(map[string]int),
		usage:           Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
	}
}

// Respond queues outputs for a model. Once the queue has one entry left it
// keeps returning that entry.
func (a *MockAdapter) Respond(model string, outputs ...string) *MockAdapter {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.responses[model] = append(a.responses[model], outputs...)
	return a
}

// Fail makes every call for model return err.
func (a *MockAdapter) Fail(model string, err error) *MockAdapter {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.errors[model] = err
	return a
}

// Delay makes every call for model wait d or until the context ends.
func (a *MockAdapter) Delay(model string, d time.Duration) *MockAdapter {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.delays[model] = d
	return a
}

// WithUsage sets the usage reported by successful calls.
func (a *MockAdapter) WithUsage(u Usage) *MockAdapter {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.usage = u
	return a
}

// Name returns the adapter identifier.
func (a *MockAdapter) Name() string {
	return a.name
}

// Calls returns how many times model was invoked.
func (a *MockAdapter) Calls(model string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls[model]
}

// TotalCalls returns the number of invocations across all models.
func (a *MockAdapter) TotalCalls() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	total := 0
	for _, n := range a.calls {
		total += n
	}
	return total
}

// Requests returns a copy of every request received, in arrival order.
func (a *MockAdapter) Requests() []Request {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]Request, len(a.requests))
	copy(out, a.requests)
	return out
}

// Generate returns the scripted outcome for req.Model.
func (a *MockAdapter) Generate(ctx context.Context, req *Request) (*Response, error) {
	a.mu.Lock()
	a.calls[req.Model]++
	a.requests = append(a.requests, *req)
	delay := a.delays[req.Model]
	err := a.errors[req.Model]
	content := ""
	if queue := a.responses[req.Model]; len(queue) > 0 {
		content = queue[0]
		if len(queue) > 1 {
			a.responses[req.Model] = queue[1:]
		}
	} else {
		content = fmt.Sprintf("%s\n%s", a.defaultResponse, req.Prompt)
	}
	usage := a.usage
	a.mu.Unlock()

	if delay > 0 {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
	if err != nil {
		return nil, err
	}

	return &Response{Artifact: artifact.New(content, a.name, req.Model), Usage: &usage}, nil
}
