package engine

import (
	"fmt"
	"strings"
	"time"

	"github.com/zen-systems/modelgate/pkg/adapter"
	"github.com/zen-systems/modelgate/pkg/artifact"
	"github.com/zen-systems/modelgate/pkg/catalog"
	"github.com/zen-systems/modelgate/pkg/selector"
)

// Mode selects how a request is dispatched.
type Mode string

const (
	ModeSingle   Mode = "single"
	ModeParallel Mode = "parallel"
	ModeChain    Mode = "chain"
	ModeAgentic  Mode = "agentic"
)

// ParseMode parses a mode name.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case ModeSingle, ModeParallel, ModeChain, ModeAgentic:
		return m, nil
	default:
		return "", fmt.Errorf("unknown mode %q", s)
	}
}

// Request is the unit of work for Execute.
type Request struct {
	Mode        Mode     `json:"mode" yaml:"mode"`
	Models      []string `json:"models" yaml:"models"`
	Prompt      string   `json:"prompt" yaml:"prompt"`
	Code        string   `json:"code,omitempty" yaml:"code,omitempty"`
	CodeFile    string   `json:"-" yaml:"code_file,omitempty"`
	System      string   `json:"system,omitempty" yaml:"system,omitempty"`
	Temperature *float64 `json:"temperature,omitempty" yaml:"temperature,omitempty"`
	MaxTokens   int      `json:"max_tokens,omitempty" yaml:"max_tokens,omitempty"`

	// Tier and Subject identify the caller. Transports fill them from
	// credentials, never from the request body.
	Tier    catalog.Tier `json:"-" yaml:"tier,omitempty"`
	Subject string       `json:"-" yaml:"-"`
}

// CallError describes why a single provider call failed.
type CallError struct {
	Kind    adapter.Kind `json:"kind"`
	Message string       `json:"message"`
	Hint    string       `json:"hint"`
	Status  int          `json:"status,omitempty"`

	// Retryable is true for failures a caller may retry unchanged: rate
	// limits, timeouts and 5xx responses.
	Retryable bool `json:"retryable"`
}

// CallOutcome is the result of one provider call.
type CallOutcome struct {
	ModelID        string        `json:"model_id"`
	Provider       string        `json:"provider"`
	Stage          string        `json:"stage,omitempty"`
	Success        bool          `json:"success"`
	Output         string        `json:"output,omitempty"`
	Usage          adapter.Usage `json:"usage"`
	Cost           adapter.Cost  `json:"cost"`
	Error          *CallError    `json:"error,omitempty"`
	DurationMillis int64         `json:"duration_ms"`

	Artifact *artifact.Artifact `json:"-"`
}

// AgenticDetail carries the role-level view of an agentic run.
type AgenticDetail struct {
	Assignment     selector.Assignment `json:"assignment"`
	Plan           string              `json:"plan,omitempty"`
	Implementation string              `json:"implementation,omitempty"`
	Review         string              `json:"review,omitempty"`
	Approved       bool                `json:"approved"`
	Revised        bool                `json:"revised"`
}

// Result is returned for every dispatched request.
type Result struct {
	ID             string         `json:"id"`
	Mode           Mode           `json:"mode"`
	Success        bool           `json:"success"`
	Results        []CallOutcome  `json:"results"`
	FinalOutput    string         `json:"final_output,omitempty"`
	AggregateUsage adapter.Usage  `json:"aggregate_usage"`
	AggregateCost  adapter.Cost   `json:"aggregate_cost"`
	Agentic        *AgenticDetail `json:"agentic,omitempty"`
	StartedAt      time.Time      `json:"started_at"`
	DurationMillis int64          `json:"duration_ms"`
}

// Failed returns the outcomes that did not succeed.
func (r *Result) Failed() []CallOutcome {
	var out []CallOutcome
	for _, o := range r.Results {
		if !o.Success {
			out = append(out, o)
		}
	}
	return out
}
