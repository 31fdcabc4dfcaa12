package engine

import (
	"github.com/zen-systems/modelgate/pkg/adapter"
	"github.com/zen-systems/modelgate/pkg/catalog"
)

const (
	currencyUSD  = "USD"
	pricingModel = "per_1k_tokens"
)

func estimateCost(m catalog.Model, usage adapter.Usage) adapter.Cost {
	if m.PromptPer1K == 0 && m.CompletionPer1K == 0 {
		return adapter.Cost{Currency: currencyUSD}
	}
	promptCost := (float64(usage.PromptTokens) / 1000.0) * m.PromptPer1K
	completionCost := (float64(usage.CompletionTokens) / 1000.0) * m.CompletionPer1K
	return adapter.Cost{
		Currency:     currencyUSD,
		Amount:       promptCost + completionCost,
		IsEstimate:   true,
		PricingModel: pricingModel,
	}
}

// aggregate sums usage and cost over successful outcomes only. Failed calls
// are assumed to have no billable usage.
func aggregate(outcomes []CallOutcome) (adapter.Usage, adapter.Cost) {
	var usage adapter.Usage
	cost := adapter.Cost{Currency: currencyUSD}
	for _, o := range outcomes {
		if !o.Success {
			continue
		}
		usage = usage.Add(o.Usage)
		cost.Amount += o.Cost.Amount
		if o.Cost.IsEstimate {
			cost.IsEstimate = true
			cost.PricingModel = pricingModel
		}
	}
	return usage, cost
}
