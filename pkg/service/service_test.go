package service

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/zen-systems/modelgate/pkg/adapter"
	"github.com/zen-systems/modelgate/pkg/agent"
	"github.com/zen-systems/modelgate/pkg/catalog"
	"github.com/zen-systems/modelgate/pkg/config"
	"github.com/zen-systems/modelgate/pkg/engine"
	"github.com/zen-systems/modelgate/pkg/quota"
	"github.com/zen-systems/modelgate/pkg/selector"
)

type denyGate struct {
	err    error
	checks []quota.Check
}

func (g *denyGate) Allow(_ context.Context, c quota.Check) error {
	g.checks = append(g.checks, c)
	return g.err
}

func newService(t *testing.T, gate quota.Gate) (*Service, *adapter.MockAdapter, *adapter.MockAdapter) {
	t.Helper()
	groq := adapter.NewMockAdapter("groq")
	mistral := adapter.NewMockAdapter("mistral")
	adapters := map[catalog.Provider]adapter.Adapter{
		catalog.ProviderGroq:    groq,
		catalog.ProviderMistral: mistral,
	}
	cat := catalog.Default()
	eng := engine.New(cat, adapters)
	sel := selector.New(cat, selector.WithAvailability(func(m catalog.Model) bool { return adapters[m.Provider] != nil }))
	svc := New(eng, sel, agent.New(sel, eng), WithGate(gate))
	return svc, groq, mistral
}

func TestExecuteAppliesCallerTier(t *testing.T) {
	gate := &denyGate{}
	svc, groq, _ := newService(t, gate)

	res, err := svc.Execute(context.Background(), Caller{Subject: "alice", Tier: catalog.TierFree}, engine.Request{
		Mode:   engine.ModeSingle,
		Models: []string{"llama"},
		Prompt: "Say OK",
		Tier:   catalog.TierPro,
	})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !res.Success || groq.TotalCalls() != 1 {
		t.Fatalf("expected one successful call, got %+v", res)
	}
	if len(gate.checks) != 1 || gate.checks[0].Subject != "alice" || gate.checks[0].Tier != catalog.TierFree || gate.checks[0].Calls != 1 {
		t.Fatalf("unexpected gate checks %+v", gate.checks)
	}

	_, err = svc.Execute(context.Background(), Caller{Tier: catalog.TierFree}, engine.Request{
		Mode:   engine.ModeSingle,
		Models: []string{"anthropic/claude-3.5-sonnet"},
		Prompt: "x",
		Tier:   catalog.TierPro,
	})
	if engine.RejectionKindOf(err) != engine.RejectTierRestricted {
		t.Fatalf("request tier must not override caller tier, got %v", err)
	}
}

func TestGateRejectionMakesNoCalls(t *testing.T) {
	cases := []struct {
		err  error
		want engine.RejectionKind
	}{
		{fmt.Errorf("%w: slow down", quota.ErrRateLimited), engine.RejectRateLimited},
		{fmt.Errorf("%w: come back tomorrow", quota.ErrQuotaExceeded), engine.RejectQuotaExceeded},
	}
	for _, tc := range cases {
		svc, groq, mistral := newService(t, &denyGate{err: tc.err})
		_, err := svc.Execute(context.Background(), Caller{Tier: catalog.TierFree}, engine.Request{
			Mode:   engine.ModeParallel,
			Models: []string{"groq/llama-3.3-70b", "mistral/codestral"},
			Prompt: "x",
		})
		if engine.RejectionKindOf(err) != tc.want {
			t.Fatalf("got %v, want %s", err, tc.want)
		}
		if groq.TotalCalls()+mistral.TotalCalls() != 0 {
			t.Fatal("rejected request reached a provider")
		}
	}
}

func TestInvalidRequestSkipsGate(t *testing.T) {
	gate := &denyGate{}
	svc, _, _ := newService(t, gate)
	_, err := svc.Execute(context.Background(), Caller{Tier: catalog.TierFree}, engine.Request{
		Mode:   engine.ModeParallel,
		Models: []string{"groq/llama-3.3-70b", "mistral/codestral", "google/gemini-1.5-flash"},
		Prompt: "x",
	})
	if engine.RejectionKindOf(err) != engine.RejectTooManyModels {
		t.Fatalf("expected too_many_models, got %v", err)
	}
	if len(gate.checks) != 0 {
		t.Fatal("invalid requests must not be charged")
	}
}

func TestGateFailureIsInternal(t *testing.T) {
	svc, _, _ := newService(t, &denyGate{err: errors.New("redis down")})
	_, err := svc.Execute(context.Background(), Caller{}, engine.Request{Mode: engine.ModeSingle, Models: []string{"llama"}, Prompt: "x"})
	if err == nil || engine.RejectionKindOf(err) != "" {
		t.Fatalf("expected a plain error, got %v", err)
	}
}

func TestPlanAgenticUsesAvailableModels(t *testing.T) {
	gate := &denyGate{}
	svc, groq, mistral := newService(t, gate)
	groq.Respond("llama-3.3-70b-versatile", "VERDICT: APPROVED")
	mistral.Respond("codestral-latest", "VERDICT: APPROVED")

	session := agent.NewSession("alice", 5)
	res, err := svc.PlanAgentic(context.Background(), Caller{Subject: "alice", Tier: catalog.TierFree}, session, selector.Task{
		Goal:     "add a retry to the client",
		TaskType: selector.TaskRefactor,
	})
	if err != nil {
		t.Fatalf("plan agentic: %v", err)
	}
	if res.Agentic == nil || !res.Success {
		t.Fatalf("unexpected result %+v", res)
	}
	for _, id := range res.Agentic.Assignment.Distinct() {
		if id != "groq/llama-3.3-70b" && id != "mistral/codestral" && id != "google/gemini-1.5-flash" {
			t.Fatalf("assigned model %s without an adapter", id)
		}
	}
	if len(res.Agentic.Assignment.Distinct()) > 2 {
		t.Fatalf("free tier allows 2 distinct models, got %v", res.Agentic.Assignment.Distinct())
	}
	if gate.checks[0].Calls != maxAgenticCalls || gate.checks[0].Mode != "agentic" {
		t.Fatalf("unexpected gate check %+v", gate.checks[0])
	}
	if session.Len() != 1 {
		t.Fatalf("expected session history, got %d", session.Len())
	}
}

func TestListModelsReportsAvailability(t *testing.T) {
	svc, _, _ := newService(t, nil)

	all := svc.ListModels(ModelFilter{})
	if len(all) != catalog.Default().Len() {
		t.Fatalf("expected full catalog, got %d", len(all))
	}
	for _, m := range all {
		want := m.Provider == catalog.ProviderGroq || m.Provider == catalog.ProviderMistral
		if m.Available != want {
			t.Fatalf("%s available = %v, want %v", m.ID, m.Available, want)
		}
	}

	for _, m := range svc.ListModels(ModelFilter{Tier: catalog.TierFree, Capability: catalog.CapCoding}) {
		if !m.AvailableTo(catalog.TierFree) || !m.Has(catalog.CapCoding) {
			t.Fatalf("filter leaked %s", m.ID)
		}
	}

	groq := svc.ListModels(ModelFilter{Provider: catalog.ProviderGroq})
	if len(groq) == 0 {
		t.Fatal("expected groq models")
	}
	for _, m := range groq {
		if m.Provider != catalog.ProviderGroq || !m.Available {
			t.Fatalf("provider filter returned %s (available %v)", m.ID, m.Available)
		}
	}
	if got := svc.ListModels(ModelFilter{Provider: catalog.ProviderAnthropic, Tier: catalog.TierFree}); len(got) != 1 || got[0].ID != "anthropic/claude-3-haiku" {
		t.Fatalf("unexpected free anthropic models %+v", got)
	}
}

func TestRecommend(t *testing.T) {
	svc, _, _ := newService(t, nil)
	ranked, err := svc.Recommend(selector.Task{TaskType: selector.TaskCodeReview, Preference: selector.PreferCost, Tier: catalog.TierFree})
	if err != nil {
		t.Fatalf("recommend: %v", err)
	}
	if len(ranked) == 0 {
		t.Fatal("expected candidates")
	}
	for i := 1; i < len(ranked); i++ {
		if ranked[i].Score > ranked[i-1].Score {
			t.Fatalf("ranking not sorted at %d", i)
		}
	}
	if _, err := svc.Recommend(selector.Task{Preference: "cheapest"}); engine.RejectionKindOf(err) != engine.RejectInvalid {
		t.Fatalf("expected invalid_request, got %v", err)
	}
}

func TestBuildFromConfig(t *testing.T) {
	cfg := &config.Config{
		Providers: map[string]config.ProviderConfig{
			"groq":   {APIKey: "gsk-test"},
			"openai": {APIKey: "sk-test", BaseURL: "http://localhost:1/v1/"},
		},
		Engine: config.EngineConfig{Ceilings: map[string]int{"free": 2, "pro": 4}, MaxTokens: 1024, Temperature: 0.3},
		Quota:  config.QuotaConfig{Backend: "memory"},
		Ledger: config.LedgerConfig{Backend: "sqlite", Path: t.TempDir() + "/usage.db"},
	}
	rt, err := Build(cfg, zerolog.Nop(), prometheus.NewRegistry())
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	defer rt.Close()

	if !rt.Engine.HasAdapter(catalog.ProviderGroq) || !rt.Engine.HasAdapter(catalog.ProviderOpenAI) {
		t.Fatal("configured providers should have adapters")
	}
	if rt.Engine.HasAdapter(catalog.ProviderAnthropic) {
		t.Fatal("anthropic has no key")
	}
	if _, ok := rt.Querier(); !ok {
		t.Fatal("sqlite ledger should support usage queries")
	}
	if rt.Metrics == nil {
		t.Fatal("metrics should be registered")
	}

	cfg.Ledger.Backend = "tape"
	if _, err := Build(cfg, zerolog.Nop(), nil); err == nil {
		t.Fatal("expected error for unknown ledger backend")
	}
}

func TestInvalidAgenticTaskIsNotCharged(t *testing.T) {
	gate := quota.NewMemoryGate(nil)
	svc, groq, mistral := newService(t, gate)

	_, err := svc.PlanAgentic(context.Background(), Caller{Subject: "bob", Tier: catalog.TierFree}, nil, selector.Task{Goal: "   "})
	if engine.RejectionKindOf(err) != engine.RejectInvalid {
		t.Fatalf("expected invalid_request, got %v", err)
	}
	_, err = svc.PlanAgentic(context.Background(), Caller{Subject: "bob", Tier: catalog.TierFree}, nil, selector.Task{Goal: "x", TaskType: "poetry"})
	if engine.RejectionKindOf(err) != engine.RejectInvalid {
		t.Fatalf("expected invalid_request for unknown task type, got %v", err)
	}
	if used := gate.Used("bob"); used != 0 {
		t.Fatalf("invalid agentic requests must not be charged, used = %d", used)
	}
	if groq.TotalCalls()+mistral.TotalCalls() != 0 {
		t.Fatal("invalid request reached a provider")
	}

	if _, err := svc.PlanAgentic(context.Background(), Caller{Subject: "bob", Tier: catalog.TierFree}, nil, selector.Task{Goal: "add logging"}); err != nil {
		t.Fatalf("plan agentic: %v", err)
	}
	if used := gate.Used("bob"); used != maxAgenticCalls {
		t.Fatalf("valid run should charge %d calls, used = %d", maxAgenticCalls, used)
	}
}
