package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/zen-systems/modelgate/pkg/adapter"
)

// Record captures the billable footprint of one execution.
type Record struct {
	ExecutionID string        `json:"execution_id"`
	Subject     string        `json:"subject,omitempty"`
	Tier        string        `json:"tier"`
	Mode        string        `json:"mode"`
	Models      []string      `json:"models"`
	Success     bool          `json:"success"`
	Usage       adapter.Usage `json:"usage"`
	Cost        adapter.Cost  `json:"cost"`
	Calls       []CallRecord  `json:"calls,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
}

// CallRecord captures one provider call within an execution.
type CallRecord struct {
	ModelID        string        `json:"model_id"`
	Stage          string        `json:"stage,omitempty"`
	Success        bool          `json:"success"`
	ErrorKind      string        `json:"error_kind,omitempty"`
	Usage          adapter.Usage `json:"usage"`
	DurationMillis int64         `json:"duration_ms"`
}

// Sink receives usage records after each completed execution.
type Sink interface {
	Record(ctx context.Context, rec Record) error
}

// Querier reports accumulated usage for a subject.
type Querier interface {
	Usage(ctx context.Context, subject string, since time.Time) (adapter.Usage, error)
}

// LogSink writes records to a zerolog logger.
type LogSink struct {
	Logger zerolog.Logger
}

// Record implements Sink.
func (s LogSink) Record(_ context.Context, rec Record) error {
	s.Logger.Info().
		Str("execution_id", rec.ExecutionID).
		Str("subject", rec.Subject).
		Str("tier", rec.Tier).
		Str("mode", rec.Mode).
		Strs("models", rec.Models).
		Bool("success", rec.Success).
		Int("prompt_tokens", rec.Usage.PromptTokens).
		Int("completion_tokens", rec.Usage.CompletionTokens).
		Int("total_tokens", rec.Usage.TotalTokens).
		Float64("cost_usd", rec.Cost.Amount).
		Msg("usage recorded")
	return nil
}

// Multi fans a record out to several sinks. Every sink is attempted and the
// errors are joined.
type Multi []Sink

// Record implements Sink.
func (m Multi) Record(ctx context.Context, rec Record) error {
	var errs []error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.Record(ctx, rec); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Discard drops every record.
type Discard struct{}

// Record implements Sink.
func (Discard) Record(context.Context, Record) error { return nil }
