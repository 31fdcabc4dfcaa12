package selector

import (
	"fmt"
	"math"
	"sort"

	"github.com/zen-systems/modelgate/pkg/catalog"
)

// Score weights.
const (
	weightCapability = 0.4
	weightPreference = 0.3
	weightSecondary  = 0.2
	weightBudget     = 0.1

	// budgetStep is subtracted per cost tier above low.
	budgetStep = 0.25

	scoreEpsilon = 1e-9
)

var (
	maxCostRank  = float64(catalog.CostPremium.Rank())
	maxSpeedRank = float64(catalog.SpeedSlow.Rank())
)

// Candidate is one scored model.
type Candidate struct {
	ModelID             string   `json:"model_id"`
	Score               float64  `json:"score"`
	CapabilityMatch     float64  `json:"capability_match"`
	PreferenceAlignment float64  `json:"preference_alignment"`
	SecondaryMatch      float64  `json:"secondary_match"`
	BudgetPenalty       float64  `json:"budget_penalty"`
	CostTier            string   `json:"cost_tier"`
	SpeedTier           string   `json:"speed_tier"`
	Reasons             []string `json:"reasons,omitempty"`

	cost  int
	order int
}

// capabilityMatch is 1 when the model covers every need, 0.5 when it covers
// some need or some task tag, 0 otherwise.
func capabilityMatch(m catalog.Model, needs, tags []string) float64 {
	if len(needs) == 0 {
		needs = tags
	}
	all := true
	some := false
	for _, need := range needs {
		if m.Has(need) {
			some = true
		} else {
			all = false
		}
	}
	if all && len(needs) > 0 {
		return 1
	}
	if some {
		return 0.5
	}
	for _, tag := range tags {
		if m.Has(tag) {
			return 0.5
		}
	}
	return 0
}

// secondaryMatch is the fraction of task tags the model carries.
func secondaryMatch(m catalog.Model, tags []string) float64 {
	if len(tags) == 0 {
		return 0
	}
	hits := 0
	for _, tag := range tags {
		if m.Has(tag) {
			hits++
		}
	}
	return float64(hits) / float64(len(tags))
}

// preferenceAlignment rewards cheap and fast models for cost and speed
// preferences and penalizes cheap models for quality.
func preferenceAlignment(p Preference, m catalog.Model) float64 {
	cheap := 1 - float64(m.CostTier.Rank())/maxCostRank
	fast := 1 - float64(m.SpeedTier.Rank())/maxSpeedRank
	switch p {
	case PreferCost:
		return cheap
	case PreferSpeed:
		return fast
	case PreferQuality:
		return 1 - cheap
	default:
		return (cheap + fast) / 2
	}
}

// budgetPenalty is zero up to the low tier and negative above it.
func budgetPenalty(m catalog.Model) float64 {
	steps := m.CostTier.Rank() - catalog.CostLow.Rank()
	if steps <= 0 {
		return 0
	}
	return -budgetStep * float64(steps)
}

func scoreModel(m catalog.Model, order int, needs []string, task Task) Candidate {
	tags := task.TaskType.Tags()
	c := Candidate{
		ModelID:             m.ID,
		CapabilityMatch:     capabilityMatch(m, needs, tags),
		PreferenceAlignment: preferenceAlignment(task.Preference, m),
		SecondaryMatch:      secondaryMatch(m, tags),
		BudgetPenalty:       budgetPenalty(m),
		CostTier:            m.CostTier.String(),
		SpeedTier:           m.SpeedTier.String(),
		cost:                m.CostTier.Rank(),
		order:               order,
	}
	c.Score = weightCapability*c.CapabilityMatch +
		weightPreference*c.PreferenceAlignment +
		weightSecondary*c.SecondaryMatch +
		weightBudget*c.BudgetPenalty
	c.Score = math.Round(c.Score*1e6) / 1e6
	c.Reasons = []string{
		fmt.Sprintf("capability %.2f", c.CapabilityMatch),
		fmt.Sprintf("%s alignment %.2f (cost %s, speed %s)", task.Preference, c.PreferenceAlignment, c.CostTier, c.SpeedTier),
		fmt.Sprintf("secondary %.2f", c.SecondaryMatch),
	}
	if c.BudgetPenalty < 0 {
		c.Reasons = append(c.Reasons, fmt.Sprintf("budget penalty %.2f", c.BudgetPenalty))
	}
	return c
}

// rank orders candidates by score desc, cost tier asc, then catalog order.
func rank(candidates []Candidate) {
	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if math.Abs(a.Score-b.Score) > scoreEpsilon {
			return a.Score > b.Score
		}
		if a.cost != b.cost {
			return a.cost < b.cost
		}
		return a.order < b.order
	})
}
