package agent

import (
	"context"
	"errors"
	"strings"
	"text/template"

	"github.com/rs/zerolog"

	"github.com/zen-systems/modelgate/pkg/artifact"
	"github.com/zen-systems/modelgate/pkg/catalog"
	"github.com/zen-systems/modelgate/pkg/engine"
	"github.com/zen-systems/modelgate/pkg/selector"
)

// Stage names reported on each CallOutcome of an agentic run.
const (
	StagePlanner  = "planner"
	StageExecutor = "executor"
	StageReviewer = "reviewer"
	StageRevision = "revision"
)

// Orchestrator runs the planner, executor and reviewer chain for a task.
type Orchestrator struct {
	selector *selector.Selector
	engine   *engine.Engine
	logger   zerolog.Logger
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the orchestrator logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(o *Orchestrator) {
		o.logger = logger
	}
}

// New creates an orchestrator. sel decides the roles and eng performs every
// provider call.
func New(sel *selector.Selector, eng *engine.Engine, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		selector: sel,
		engine:   eng,
		logger:   zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Run executes the agentic workflow for task without keeping history.
func (o *Orchestrator) Run(ctx context.Context, task selector.Task) (*engine.Result, error) {
	return o.RunInSession(ctx, nil, task)
}

// Plan is a validated agentic run: the normalized task and the model picked
// for each role. It is produced by Orchestrator.Plan and consumed by Execute.
type Plan struct {
	Task       selector.Task
	Assignment selector.Assignment
	models     map[selector.Role]catalog.Model
}

// Plan validates task and assigns a model to each role without calling any
// provider. Failures are *engine.RejectionError.
func (o *Orchestrator) Plan(task selector.Task) (*Plan, error) {
	task, err := task.Normalize()
	if err != nil {
		return nil, o.engine.Reject(engine.RejectInvalid, err, "%v", err)
	}
	if strings.TrimSpace(task.Goal) == "" {
		return nil, o.engine.Reject(engine.RejectInvalid, nil, "goal is required")
	}

	assignment, err := o.selector.AssignRoles(task)
	if err != nil {
		if errors.Is(err, selector.ErrNoEligibleModel) {
			return nil, o.engine.Reject(engine.RejectNotFound, err, "%v", err)
		}
		return nil, o.engine.Reject(engine.RejectInvalid, err, "%v", err)
	}
	// The engine's ceiling is authoritative when it is stricter than the
	// selector's.
	if distinct, ceiling := len(assignment.Distinct()), o.engine.Ceiling(task.Tier); distinct > ceiling {
		return nil, o.engine.Reject(engine.RejectTooManyModels, nil, "%d distinct models assigned, the %s tier allows %d", distinct, task.Tier, ceiling)
	}

	models := make(map[selector.Role]catalog.Model, 3)
	for _, role := range selector.Roles() {
		m, err := o.engine.Catalog().Get(assignment.Model(role))
		if err != nil {
			return nil, o.engine.Reject(engine.RejectNotFound, err, "%v", err)
		}
		models[role] = m
	}
	return &Plan{Task: task, Assignment: assignment, models: models}, nil
}

// RunInSession plans and executes task, recording it in session when
// non-nil.
func (o *Orchestrator) RunInSession(ctx context.Context, session *Session, task selector.Task) (*engine.Result, error) {
	plan, err := o.Plan(task)
	if err != nil {
		return nil, err
	}
	return o.Execute(ctx, session, plan), nil
}

// Execute runs a plan and records it in session when non-nil.
//
// The executor is invoked at most twice: once for the plan and once more if
// the reviewer asks for a revision. The reviewer is not consulted again. Any
// failed stage halts the workflow.
func (o *Orchestrator) Execute(ctx context.Context, session *Session, plan *Plan) *engine.Result {
	task, assignment := plan.Task, plan.Assignment

	subject := ""
	if session != nil {
		subject = session.Subject
	}
	run := o.engine.Begin(engine.ModeAgentic, subject, task.Tier)
	w := &workflow{
		o:      o,
		task:   task,
		models: plan.models,
		detail: &engine.AgenticDetail{Assignment: assignment},
	}
	w.execute(ctx)

	res := o.engine.Finish(ctx, run, w.outcomes)
	res.Agentic = w.detail

	o.logger.Info().
		Str("execution_id", res.ID).
		Str("planner", assignment.Planner.ModelID).
		Str("executor", assignment.Executor.ModelID).
		Str("reviewer", assignment.Reviewer.ModelID).
		Bool("approved", w.detail.Approved).
		Bool("revised", w.detail.Revised).
		Bool("success", res.Success).
		Msg("agentic workflow finished")

	if session != nil {
		session.Push(Entry{
			ExecutionID: res.ID,
			Goal:        task.Goal,
			Assignment:  assignment,
			Plan:        w.detail.Plan,
			Artifact:    w.artifact,
			Approved:    w.detail.Approved,
			Success:     res.Success,
			CreatedAt:   res.StartedAt,
		})
	}
	return res
}

// workflow carries the state of one agentic run.
type workflow struct {
	o        *Orchestrator
	task     selector.Task
	models   map[selector.Role]catalog.Model
	detail   *engine.AgenticDetail
	outcomes []engine.CallOutcome
	artifact *artifact.Artifact
}

func (w *workflow) execute(ctx context.Context) {
	data := promptData{Goal: w.task.Goal, TaskType: string(w.task.TaskType)}

	plan, ok := w.stage(ctx, selector.RolePlanner, StagePlanner, plannerSystem, plannerTmpl, data, w.task.Code)
	if !ok {
		return
	}
	w.detail.Plan = plan.Output
	data.Plan = plan.Output

	impl, ok := w.stage(ctx, selector.RoleExecutor, StageExecutor, executorSystem, executorTmpl, data, w.task.Code)
	if !ok {
		return
	}
	w.detail.Implementation = impl.Output
	w.artifact = impl.Artifact

	review, ok := w.stage(ctx, selector.RoleReviewer, StageReviewer, reviewerSystem, reviewerTmpl, data, impl.Output)
	if !ok {
		return
	}
	w.detail.Review = review.Output
	if !NeedsRevision(review.Output) {
		w.detail.Approved = true
		if w.artifact != nil {
			w.artifact = w.artifact.WithMetadata("verdict", "approved")
		}
		return
	}

	data.Feedback = review.Output
	revised, ok := w.stage(ctx, selector.RoleExecutor, StageRevision, executorSystem, revisionTmpl, data, impl.Output)
	if !ok {
		return
	}
	w.detail.Revised = true
	w.detail.Implementation = revised.Output
	if w.artifact != nil && revised.Artifact != nil {
		w.artifact = w.artifact.NewVersion(revised.Artifact).WithMetadata("verdict", "revised")
	}
}

// stage renders the role prompt and performs one call. It reports false when
// the workflow must halt.
func (w *workflow) stage(ctx context.Context, role selector.Role, name, system string, tmpl *template.Template, data promptData, code string) (engine.CallOutcome, bool) {
	prompt, err := render(tmpl, data)
	if err != nil {
		w.o.logger.Error().Err(err).Str("stage", name).Msg("failed to render prompt")
		return engine.CallOutcome{}, false
	}
	outcome := w.o.engine.Invoke(ctx, engine.Call{
		Model:  w.models[role],
		Stage:  name,
		System: system,
		Prompt: prompt,
		Code:   code,
	})
	w.outcomes = append(w.outcomes, outcome)
	if !outcome.Success {
		w.o.logger.Debug().Str("stage", name).Str("model", outcome.ModelID).Msg("agentic workflow halted")
	}
	return outcome, outcome.Success
}
