// Package service exposes the request/response contract used by the HTTP
// server and the CLI.
package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/zen-systems/modelgate/pkg/agent"
	"github.com/zen-systems/modelgate/pkg/catalog"
	"github.com/zen-systems/modelgate/pkg/engine"
	"github.com/zen-systems/modelgate/pkg/quota"
	"github.com/zen-systems/modelgate/pkg/selector"
)

// maxAgenticCalls is the most provider calls one agentic run can make:
// planner, executor, reviewer and one revision.
const maxAgenticCalls = 4

// Caller identifies who is making a request.
type Caller struct {
	Subject string
	Tier    catalog.Tier
}

// ModelView is a catalog entry as shown to callers.
type ModelView struct {
	catalog.Model
	// Available is false when the provider has no configured credential.
	Available bool `json:"available"`
}

// Ranked is one entry of a recommendation.
type Ranked struct {
	Model   ModelView `json:"model"`
	Score   float64   `json:"score"`
	Reasons []string  `json:"reasons,omitempty"`
}

// Service ties admission, execution and selection together.
type Service struct {
	engine       *engine.Engine
	selector     *selector.Selector
	orchestrator *agent.Orchestrator
	gate         quota.Gate
	logger       zerolog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithGate sets the admission gate. The default admits everything.
func WithGate(g quota.Gate) Option {
	return func(s *Service) {
		if g != nil {
			s.gate = g
		}
	}
}

// WithLogger sets the service logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// New creates a service over eng, sel and orch.
func New(eng *engine.Engine, sel *selector.Selector, orch *agent.Orchestrator, opts ...Option) *Service {
	s := &Service{
		engine:       eng,
		selector:     sel,
		orchestrator: orch,
		gate:         quota.AllowAll{},
		logger:       zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Execute runs a single, parallel or chain request for caller. The request
// is validated and admitted before any provider is called.
func (s *Service) Execute(ctx context.Context, caller Caller, req engine.Request) (*engine.Result, error) {
	req.Tier = caller.Tier
	req.Subject = caller.Subject

	if _, err := s.engine.Validate(req); err != nil {
		var rej *engine.RejectionError
		if errors.As(err, &rej) {
			return nil, s.engine.Reject(rej.Kind, rej.Err, "%s", rej.Message)
		}
		return nil, err
	}
	if err := s.admit(ctx, caller, req.Mode, len(req.Models)); err != nil {
		return nil, err
	}
	return s.engine.Execute(ctx, req)
}

// PlanAgentic runs the planner, executor and reviewer workflow for caller.
// A nil session runs without history.
func (s *Service) PlanAgentic(ctx context.Context, caller Caller, session *agent.Session, task selector.Task) (*engine.Result, error) {
	task.Tier = caller.Tier
	plan, err := s.orchestrator.Plan(task)
	if err != nil {
		return nil, err
	}
	if err := s.admit(ctx, caller, engine.ModeAgentic, maxAgenticCalls); err != nil {
		return nil, err
	}
	if session == nil {
		session = agent.NewSession(caller.Subject, 1)
	}
	return s.orchestrator.Execute(ctx, session, plan), nil
}

// ModelFilter narrows ListModels. Empty fields match everything.
type ModelFilter struct {
	Tier       catalog.Tier
	Capability string
	Provider   catalog.Provider
}

// ListModels returns the catalog entries matching f, in catalog order.
func (s *Service) ListModels(f ModelFilter) []ModelView {
	cat := s.engine.Catalog()
	models := cat.All()
	if f.Provider != "" {
		models = cat.FilterByProvider(f.Provider)
	}
	out := make([]ModelView, 0, len(models))
	for _, m := range models {
		if f.Tier != "" && !m.AvailableTo(f.Tier) {
			continue
		}
		if f.Capability != "" && !m.Has(f.Capability) {
			continue
		}
		out = append(out, s.view(m))
	}
	return out
}

// Recommend ranks the models for task without executing anything.
func (s *Service) Recommend(task selector.Task) ([]Ranked, error) {
	candidates, err := s.selector.Recommend(task)
	if err != nil {
		return nil, s.engine.Reject(engine.RejectInvalid, err, "%v", err)
	}
	out := make([]Ranked, 0, len(candidates))
	for _, c := range candidates {
		m, err := s.engine.Catalog().Get(c.ModelID)
		if err != nil {
			return nil, err
		}
		out = append(out, Ranked{Model: s.view(m), Score: c.Score, Reasons: c.Reasons})
	}
	return out, nil
}

func (s *Service) view(m catalog.Model) ModelView {
	return ModelView{Model: m, Available: s.engine.HasAdapter(m.Provider)}
}

// admit runs the gate and turns its refusal into a rejection.
func (s *Service) admit(ctx context.Context, caller Caller, mode engine.Mode, calls int) error {
	err := s.gate.Allow(ctx, quota.Check{
		Subject: caller.Subject,
		Tier:    caller.Tier,
		Mode:    string(mode),
		Calls:   calls,
	})
	switch {
	case err == nil:
		return nil
	case errors.Is(err, quota.ErrRateLimited):
		return s.engine.Reject(engine.RejectRateLimited, err, "%v", err)
	case errors.Is(err, quota.ErrQuotaExceeded):
		return s.engine.Reject(engine.RejectQuotaExceeded, err, "%v", err)
	default:
		s.logger.Error().Err(err).Str("subject", caller.Subject).Msg("admission check failed")
		return fmt.Errorf("admission check failed: %w", err)
	}
}
