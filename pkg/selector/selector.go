package selector

import (
	"errors"
	"fmt"

	"github.com/zen-systems/modelgate/pkg/catalog"
)

// ErrNoEligibleModel is returned when tier and availability filtering leave
// nothing to choose from. The catalog guarantees a free model exists, so this
// only happens when credentials are missing for every free provider.
var ErrNoEligibleModel = errors.New("no eligible model")

// DefaultCeilings are the per-tier limits on distinct models in one request.
var DefaultCeilings = map[catalog.Tier]int{
	catalog.TierFree: 2,
	catalog.TierPro:  4,
}

// RoleChoice is the model picked for one role.
type RoleChoice struct {
	Role    Role        `json:"role"`
	ModelID string      `json:"model_id"`
	Score   float64     `json:"score"`
	Reasons []string    `json:"reasons,omitempty"`
	Ranking []Candidate `json:"candidates,omitempty"`
}

// Assignment maps the three roles to models.
type Assignment struct {
	Planner  RoleChoice `json:"planner"`
	Executor RoleChoice `json:"executor"`
	Reviewer RoleChoice `json:"reviewer"`
	// Fallback is set when one model was reused for every role.
	Fallback bool     `json:"fallback"`
	Reasons  []string `json:"reasons,omitempty"`
}

// Model returns the model id bound to role.
func (a Assignment) Model(role Role) string {
	switch role {
	case RolePlanner:
		return a.Planner.ModelID
	case RoleExecutor:
		return a.Executor.ModelID
	case RoleReviewer:
		return a.Reviewer.ModelID
	}
	return ""
}

// Distinct returns the distinct model ids in role order.
func (a Assignment) Distinct() []string {
	var out []string
	seen := make(map[string]bool)
	for _, role := range Roles() {
		id := a.Model(role)
		if id != "" && !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}

func (a *Assignment) set(choice RoleChoice) {
	switch choice.Role {
	case RolePlanner:
		a.Planner = choice
	case RoleExecutor:
		a.Executor = choice
	case RoleReviewer:
		a.Reviewer = choice
	}
}

// Selector scores catalog models against tasks. It holds no mutable state.
type Selector struct {
	catalog   *catalog.Catalog
	available func(catalog.Model) bool
	ceilings  map[catalog.Tier]int
}

// Option configures a Selector.
type Option func(*Selector)

// WithAvailability restricts selection to models for which fn returns true.
func WithAvailability(fn func(catalog.Model) bool) Option {
	return func(s *Selector) {
		s.available = fn
	}
}

// WithCeilings overrides the per-tier distinct model limits.
func WithCeilings(ceilings map[catalog.Tier]int) Option {
	return func(s *Selector) {
		if len(ceilings) > 0 {
			s.ceilings = ceilings
		}
	}
}

// New creates a selector over cat.
func New(cat *catalog.Catalog, opts ...Option) *Selector {
	s := &Selector{catalog: cat, ceilings: DefaultCeilings}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Ceiling returns the distinct model limit for tier.
func (s *Selector) Ceiling(tier catalog.Tier) int {
	if n, ok := s.ceilings[tier]; ok && n > 0 {
		return n
	}
	return DefaultCeilings[catalog.TierFree]
}

// eligible returns tier-filtered available models with their catalog index.
// An empty tier disables tier filtering.
func (s *Selector) eligible(tier catalog.Tier) ([]catalog.Model, []int) {
	var models []catalog.Model
	var order []int
	for i, m := range s.catalog.All() {
		if tier != "" && !m.AvailableTo(tier) {
			continue
		}
		if s.available != nil && !s.available(m) {
			continue
		}
		models = append(models, m)
		order = append(order, i)
	}
	return models, order
}

// Recommend ranks models for a task without executing anything. Identical
// tasks over the same catalog always yield the same ranking.
func (s *Selector) Recommend(task Task) ([]Candidate, error) {
	filterTier := task.Tier != ""
	task, err := task.Normalize()
	if err != nil {
		return nil, err
	}
	var tier catalog.Tier
	if filterTier {
		tier = task.Tier
	}
	models, order := s.eligible(tier)
	out := make([]Candidate, 0, len(models))
	for i, m := range models {
		out = append(out, scoreModel(m, order[i], nil, task))
	}
	rank(out)
	return out, nil
}

// AssignRoles picks a model for each of planner, executor and reviewer.
func (s *Selector) AssignRoles(task Task) (Assignment, error) {
	task, err := task.Normalize()
	if err != nil {
		return Assignment{}, err
	}
	models, order := s.eligible(task.Tier)
	if len(models) == 0 {
		return Assignment{}, fmt.Errorf("%w for tier %s", ErrNoEligibleModel, task.Tier)
	}

	rankings := make(map[Role][]Candidate, 3)
	for _, role := range Roles() {
		candidates := make([]Candidate, 0, len(models))
		for i, m := range models {
			candidates = append(candidates, scoreModel(m, order[i], roleNeeds[role], task))
		}
		rank(candidates)
		rankings[role] = candidates
	}

	if len(models) < len(Roles()) {
		return fallbackAssignment(models, order, rankings), nil
	}

	var a Assignment
	ceiling := s.Ceiling(task.Tier)
	chosen := make(map[string]bool)
	for _, role := range Roles() {
		ranking := rankings[role]
		pick := ranking[0]
		if len(chosen) >= ceiling && !chosen[pick.ModelID] {
			for _, c := range ranking {
				if chosen[c.ModelID] {
					pick = c
					break
				}
			}
			a.Reasons = append(a.Reasons, fmt.Sprintf("%s reuses %s: tier %s allows %d distinct models", role, pick.ModelID, task.Tier, ceiling))
		}
		chosen[pick.ModelID] = true
		a.set(RoleChoice{Role: role, ModelID: pick.ModelID, Score: pick.Score, Reasons: pick.Reasons, Ranking: ranking})
	}
	return a, nil
}

// fallbackAssignment reuses the model with the best mean role score.
func fallbackAssignment(models []catalog.Model, order []int, rankings map[Role][]Candidate) Assignment {
	totals := make(map[string]float64, len(models))
	for _, ranking := range rankings {
		for _, c := range ranking {
			totals[c.ModelID] += c.Score
		}
	}
	means := make([]Candidate, 0, len(models))
	for i, m := range models {
		means = append(means, Candidate{
			ModelID: m.ID,
			Score:   totals[m.ID] / float64(len(rankings)),
			cost:    m.CostTier.Rank(),
			order:   order[i],
		})
	}
	rank(means)
	best := means[0]

	a := Assignment{
		Fallback: true,
		Reasons:  []string{fmt.Sprintf("only %d eligible model(s); %s serves every role", len(models), best.ModelID)},
	}
	for _, role := range Roles() {
		choice := RoleChoice{Role: role, ModelID: best.ModelID, Ranking: rankings[role]}
		for _, c := range rankings[role] {
			if c.ModelID == best.ModelID {
				choice.Score = c.Score
				choice.Reasons = c.Reasons
			}
		}
		a.set(choice)
	}
	return a
}
