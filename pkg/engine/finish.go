package engine

import (
	"context"
	"time"

	"github.com/zen-systems/modelgate/pkg/catalog"
	"github.com/zen-systems/modelgate/pkg/ledger"
)

// Run identifies one execution from dispatch to aggregation.
type Run struct {
	ID        string
	Mode      Mode
	Subject   string
	Tier      catalog.Tier
	StartedAt time.Time
}

// Begin starts a run. Pair every Begin with a Finish.
func (e *Engine) Begin(mode Mode, subject string, tier catalog.Tier) Run {
	if tier == "" {
		tier = catalog.TierFree
	}
	return Run{
		ID:        e.newID(),
		Mode:      mode,
		Subject:   subject,
		Tier:      tier,
		StartedAt: e.now(),
	}
}

// Finish aggregates outcomes into a Result and reports usage to the ledger.
//
// Success is mode dependent: single needs its only call to succeed, parallel
// needs at least one success, chain and agentic need every executed stage to
// succeed. FinalOutput is the sole output for single, empty for parallel and
// the last successful stage otherwise.
func (e *Engine) Finish(ctx context.Context, run Run, outcomes []CallOutcome) *Result {
	usage, cost := aggregate(outcomes)
	res := &Result{
		ID:             run.ID,
		Mode:           run.Mode,
		Results:        outcomes,
		AggregateUsage: usage,
		AggregateCost:  cost,
		StartedAt:      run.StartedAt.UTC(),
		DurationMillis: e.now().Sub(run.StartedAt).Milliseconds(),
	}

	switch run.Mode {
	case ModeSingle:
		if len(outcomes) == 1 && outcomes[0].Success {
			res.Success = true
			res.FinalOutput = outcomes[0].Output
		}
	case ModeParallel:
		for _, o := range outcomes {
			if o.Success {
				res.Success = true
				break
			}
		}
	default:
		res.Success = len(outcomes) > 0
		for _, o := range outcomes {
			if !o.Success {
				res.Success = false
				continue
			}
			res.FinalOutput = o.Output
		}
	}

	e.metrics.observeExecution(res)
	e.report(ctx, run, res)
	return res
}

// report writes the ledger record. The caller-facing result never depends on
// it: failures are logged and dropped.
func (e *Engine) report(ctx context.Context, run Run, res *Result) {
	if e.ledger == nil {
		return
	}

	rec := ledger.Record{
		ExecutionID: res.ID,
		Subject:     run.Subject,
		Tier:        string(run.Tier),
		Mode:        string(res.Mode),
		Success:     res.Success,
		Usage:       res.AggregateUsage,
		Cost:        res.AggregateCost,
		CreatedAt:   res.StartedAt,
	}
	seen := make(map[string]bool)
	for _, o := range res.Results {
		if !seen[o.ModelID] {
			seen[o.ModelID] = true
			rec.Models = append(rec.Models, o.ModelID)
		}
		call := ledger.CallRecord{
			ModelID:        o.ModelID,
			Stage:          o.Stage,
			Success:        o.Success,
			Usage:          o.Usage,
			DurationMillis: o.DurationMillis,
		}
		if o.Error != nil {
			call.ErrorKind = string(o.Error.Kind)
		}
		rec.Calls = append(rec.Calls, call)
	}

	ledgerCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.ledgerTimeout)
	defer cancel()
	if err := e.ledger.Record(ledgerCtx, rec); err != nil {
		e.logger.Warn().Err(err).Str("execution_id", res.ID).Msg("failed to record usage")
	}
}
