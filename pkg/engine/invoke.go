package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/zen-systems/modelgate/pkg/adapter"
	"github.com/zen-systems/modelgate/pkg/catalog"
)

// Call is one provider invocation.
type Call struct {
	Model       catalog.Model
	Stage       string
	System      string
	Prompt      string
	Code        string
	Temperature *float64
	MaxTokens   int
}

// Invoke performs exactly one provider call and converts the result into a
// CallOutcome. It never returns an error: failures are data.
func (e *Engine) Invoke(ctx context.Context, call Call) CallOutcome {
	start := e.now()
	m := call.Model
	outcome := CallOutcome{
		ModelID:  m.ID,
		Provider: string(m.Provider),
		Stage:    call.Stage,
		Cost:     adapter.Cost{Currency: currencyUSD},
	}

	a := e.adapters[m.Provider]
	if a == nil {
		err := &adapter.Error{Kind: adapter.KindAuth, Provider: string(m.Provider), Err: fmt.Errorf("no credential configured for %s", m.Provider)}
		return e.fail(outcome, start, err)
	}

	req := &adapter.Request{
		Model:       m.Name,
		System:      call.System,
		Prompt:      call.Prompt,
		Code:        call.Code,
		Temperature: e.resolveTemperature(call.Temperature),
		MaxTokens:   e.resolveMaxTokens(call.MaxTokens, m),
	}

	resp, err := adapter.Invoke(ctx, a, req, e.callTimeout)
	if err != nil {
		return e.fail(outcome, start, err)
	}

	usage := adapter.Usage{}
	if resp.Usage != nil {
		usage = resp.Usage.Normalize()
	}
	outcome.Success = true
	outcome.Output = resp.Artifact.Content
	outcome.Artifact = resp.Artifact
	outcome.Usage = usage
	outcome.Cost = estimateCost(m, usage)
	outcome.DurationMillis = e.now().Sub(start).Milliseconds()

	e.metrics.observeCall(outcome)
	e.logger.Debug().
		Str("model", m.ID).
		Str("provider", outcome.Provider).
		Str("stage", call.Stage).
		Int64("duration_ms", outcome.DurationMillis).
		Int("total_tokens", usage.TotalTokens).
		Msg("provider call succeeded")
	return outcome
}

func (e *Engine) fail(outcome CallOutcome, start time.Time, err error) CallOutcome {
	kind := adapter.Classify(err)
	outcome.Success = false
	outcome.Usage = adapter.Usage{}
	outcome.Error = &CallError{
		Kind:      kind,
		Message:   err.Error(),
		Hint:      kind.Describe(),
		Status:    adapter.StatusOf(err),
		Retryable: adapter.IsTransient(err),
	}
	outcome.DurationMillis = e.now().Sub(start).Milliseconds()

	e.metrics.observeCall(outcome)
	e.logger.Debug().
		Str("model", outcome.ModelID).
		Str("provider", outcome.Provider).
		Str("stage", outcome.Stage).
		Str("kind", string(kind)).
		Int64("duration_ms", outcome.DurationMillis).
		Err(err).
		Msg("provider call failed")
	return outcome
}

func (e *Engine) resolveTemperature(t *float64) float64 {
	if t == nil {
		return e.temperature
	}
	return clampTemperature(*t)
}

func (e *Engine) resolveMaxTokens(n int, m catalog.Model) int {
	if n <= 0 {
		n = e.maxTokens
	}
	if m.ContextWindow > 0 && n > m.ContextWindow {
		n = m.ContextWindow
	}
	return n
}

func clampTemperature(t float64) float64 {
	if t < 0 {
		return 0
	}
	if t > 1 {
		return 1
	}
	return t
}
