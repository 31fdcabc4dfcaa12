package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/zen-systems/modelgate/pkg/adapter"
	"github.com/zen-systems/modelgate/pkg/catalog"
	"github.com/zen-systems/modelgate/pkg/ledger"
	"github.com/zen-systems/modelgate/pkg/selector"
)

// Defaults applied when a request leaves a field empty.
const (
	DefaultTemperature   = 0.7
	DefaultMaxTokens     = 4096
	DefaultLedgerTimeout = 5 * time.Second
)

// Engine dispatches requests to provider adapters. Concurrent calls to
// Execute are independent; the engine holds no per-request state.
type Engine struct {
	catalog       *catalog.Catalog
	adapters      map[catalog.Provider]adapter.Adapter
	ceilings      map[catalog.Tier]int
	callTimeout   time.Duration
	temperature   float64
	maxTokens     int
	ledger        ledger.Sink
	ledgerTimeout time.Duration
	logger        zerolog.Logger
	metrics       *Metrics
	now           func() time.Time
	newID         func() string
}

// Option configures an Engine.
type Option func(*Engine)

// WithCeilings overrides the per-tier model limits.
func WithCeilings(ceilings map[catalog.Tier]int) Option {
	return func(e *Engine) {
		if len(ceilings) > 0 {
			e.ceilings = ceilings
		}
	}
}

// WithCallTimeout sets the fixed per-call timeout.
func WithCallTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.callTimeout = d
		}
	}
}

// WithDefaults sets the temperature and max tokens used when a request omits
// them.
func WithDefaults(temperature float64, maxTokens int) Option {
	return func(e *Engine) {
		e.temperature = clampTemperature(temperature)
		if maxTokens > 0 {
			e.maxTokens = maxTokens
		}
	}
}

// WithLedger reports every completed execution to sink.
func WithLedger(sink ledger.Sink) Option {
	return func(e *Engine) {
		e.ledger = sink
	}
}

// WithLogger sets the engine logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithMetrics enables Prometheus metrics.
func WithMetrics(m *Metrics) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

// New creates an engine. adapters holds one adapter per provider with a
// configured credential; providers without one fail at call time with
// auth_error.
func New(cat *catalog.Catalog, adapters map[catalog.Provider]adapter.Adapter, opts ...Option) *Engine {
	e := &Engine{
		catalog:       cat,
		adapters:      adapters,
		ceilings:      selector.DefaultCeilings,
		callTimeout:   adapter.DefaultTimeout,
		temperature:   DefaultTemperature,
		maxTokens:     DefaultMaxTokens,
		ledgerTimeout: DefaultLedgerTimeout,
		logger:        zerolog.Nop(),
		now:           time.Now,
		newID:         uuid.NewString,
	}
	if e.adapters == nil {
		e.adapters = make(map[catalog.Provider]adapter.Adapter)
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Catalog returns the engine's model catalog.
func (e *Engine) Catalog() *catalog.Catalog {
	return e.catalog
}

// HasAdapter reports whether provider p has a configured adapter.
func (e *Engine) HasAdapter(p catalog.Provider) bool {
	return e.adapters[p] != nil
}

// Ceiling returns the model limit for tier.
func (e *Engine) Ceiling(tier catalog.Tier) int {
	if n, ok := e.ceilings[tier]; ok && n > 0 {
		return n
	}
	return selector.DefaultCeilings[catalog.TierFree]
}

// Reject builds a rejection error and records it.
func (e *Engine) Reject(kind RejectionKind, err error, format string, args ...any) *RejectionError {
	rej := reject(kind, format, args...)
	rej.Err = err
	e.observeRejection(rej)
	return rej
}

func (e *Engine) observeRejection(rej *RejectionError) {
	e.metrics.observeRejection(rej.Kind)
	e.logger.Info().Str("kind", string(rej.Kind)).Str("reason", rej.Message).Msg("request rejected")
}

// Validate checks req against the catalog and the tier ceiling and resolves
// its models. It never calls a provider.
func (e *Engine) Validate(req Request) ([]catalog.Model, error) {
	if _, err := ParseMode(string(req.Mode)); err != nil {
		return nil, reject(RejectInvalid, "%v", err)
	}
	if req.Mode == ModeAgentic {
		return nil, reject(RejectInvalid, "agentic requests are planned from a task, not a model list")
	}
	if strings.TrimSpace(req.Prompt) == "" {
		return nil, reject(RejectInvalid, "prompt is required")
	}
	if len(req.Models) == 0 {
		return nil, reject(RejectInvalid, "at least one model is required")
	}
	if req.Mode == ModeSingle && len(req.Models) != 1 {
		return nil, reject(RejectInvalid, "single mode takes exactly one model, got %d", len(req.Models))
	}
	if req.MaxTokens < 0 {
		return nil, reject(RejectInvalid, "max_tokens must not be negative")
	}
	tier, err := catalog.ParseTier(string(req.Tier))
	if err != nil {
		return nil, reject(RejectInvalid, "%v", err)
	}
	if ceiling := e.Ceiling(tier); len(req.Models) > ceiling {
		return nil, reject(RejectTooManyModels, "%d models requested, the %s tier allows %d", len(req.Models), tier, ceiling)
	}

	models := make([]catalog.Model, 0, len(req.Models))
	for _, id := range req.Models {
		m, err := e.catalog.Resolve(id)
		if err != nil {
			return nil, &RejectionError{Kind: RejectNotFound, Message: fmt.Sprintf("model %q is not in the catalog", id), Err: err}
		}
		if !m.AvailableTo(tier) {
			return nil, reject(RejectTierRestricted, "model %s is not available on the %s tier", m.ID, tier)
		}
		models = append(models, m)
	}
	return models, nil
}

// Execute runs a single, parallel or chain request. Rejections are returned
// as *RejectionError before any provider call. Provider failures never
// produce an error; they are reported per call in the result.
func (e *Engine) Execute(ctx context.Context, req Request) (*Result, error) {
	models, err := e.Validate(req)
	if err != nil {
		if rej, ok := err.(*RejectionError); ok {
			e.observeRejection(rej)
		}
		return nil, err
	}

	run := e.Begin(req.Mode, req.Subject, req.Tier)
	base := Call{
		System:      req.System,
		Prompt:      req.Prompt,
		Code:        req.Code,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}

	var outcomes []CallOutcome
	switch req.Mode {
	case ModeSingle:
		call := base
		call.Model = models[0]
		outcomes = []CallOutcome{e.Invoke(ctx, call)}
	case ModeParallel:
		outcomes = e.parallel(ctx, base, models)
	case ModeChain:
		outcomes = e.chain(ctx, base, models)
	}

	return e.Finish(ctx, run, outcomes), nil
}

// parallel dispatches every call before awaiting any. Results keep the input
// order and one failure never cancels the others.
func (e *Engine) parallel(ctx context.Context, base Call, models []catalog.Model) []CallOutcome {
	outcomes := make([]CallOutcome, len(models))
	var g errgroup.Group
	for i, m := range models {
		call := base
		call.Model = m
		g.Go(func() error {
			outcomes[i] = e.Invoke(ctx, call)
			return nil
		})
	}
	_ = g.Wait()
	return outcomes
}

// chain runs models in order, feeding each output to the next stage as code
// context. It halts at the first failed stage.
func (e *Engine) chain(ctx context.Context, base Call, models []catalog.Model) []CallOutcome {
	outcomes := make([]CallOutcome, 0, len(models))
	code := base.Code
	for i, m := range models {
		call := base
		call.Model = m
		call.Code = code
		call.Stage = fmt.Sprintf("stage-%d", i+1)
		if i > 0 {
			call.Prompt = base.Prompt + "\n\nThe previous stage produced the content below. Build on it."
		}
		o := e.Invoke(ctx, call)
		outcomes = append(outcomes, o)
		if !o.Success {
			e.logger.Debug().Str("stage", call.Stage).Str("model", m.ID).Msg("chain halted")
			break
		}
		code = o.Output
	}
	return outcomes
}
