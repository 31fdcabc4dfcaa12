package catalog

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultCatalogIsValid(t *testing.T) {
	c := Default()
	if c.Len() == 0 {
		t.Fatal("default catalog is empty")
	}
	if len(c.FilterByTier(TierFree)) == 0 {
		t.Fatal("default catalog needs a free model")
	}
	seen := make(map[Provider]bool)
	for _, m := range c.All() {
		seen[m.Provider] = true
	}
	for _, p := range Providers() {
		if !seen[p] {
			t.Errorf("provider %s has no model in the default catalog", p)
		}
	}
}

func TestGetNotFound(t *testing.T) {
	_, err := Default().Get("nope/none")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestResolve(t *testing.T) {
	c := Default()
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{name: "exact id", input: "anthropic/claude-3.5-sonnet", want: "anthropic/claude-3.5-sonnet"},
		{name: "alias", input: "sonnet", want: "anthropic/claude-3.5-sonnet"},
		{name: "alias case", input: "Opus", want: "openrouter/anthropic/claude-3-opus"},
		{name: "short id", input: "llama-3.3-70b", want: "groq/llama-3.3-70b"},
		{name: "upstream name", input: "llama-3.3-70b-versatile", want: "groq/llama-3.3-70b"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := c.Resolve(tt.input)
			if err != nil {
				t.Fatalf("Resolve(%q): %v", tt.input, err)
			}
			if m.ID != tt.want {
				t.Errorf("Resolve(%q) = %q, want %q", tt.input, m.ID, tt.want)
			}
		})
	}

	if _, err := c.Resolve("gpt-9"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown name, got %v", err)
	}
}

func TestFilters(t *testing.T) {
	c := Default()
	for _, m := range c.FilterByCapability(CapReasoning) {
		if !m.Has(CapReasoning) {
			t.Errorf("%s lacks reasoning", m.ID)
		}
	}
	for _, m := range c.FilterByTier(TierFree) {
		if !m.AvailableTo(TierFree) {
			t.Errorf("%s not free", m.ID)
		}
	}
	if got := c.FilterByCapability("teleportation"); len(got) != 0 {
		t.Errorf("expected no models, got %d", len(got))
	}
}

func TestAllReturnsCopies(t *testing.T) {
	c := Default()
	all := c.All()
	all[0].Capabilities[0] = "mutated"
	again, _ := c.Get(all[0].ID)
	if again.Capabilities[0] == "mutated" {
		t.Fatal("catalog was mutated through All()")
	}
}

func TestValidateRejectsBadCatalogs(t *testing.T) {
	base := Model{ID: "groq/a", Provider: ProviderGroq, Name: "a", ContextWindow: 1000, Tiers: []Tier{TierFree}}

	dup := base
	noFree := base
	noFree.Tiers = []Tier{TierPro}
	badProvider := base
	badProvider.Provider = "acme"

	cases := map[string][]Model{
		"empty":        nil,
		"duplicate id": {base, dup},
		"no free":      {noFree},
		"bad provider": {badProvider},
	}
	for name, models := range cases {
		if _, err := New(models); err == nil {
			t.Errorf("%s: expected validation error", name)
		}
	}
}

func TestLoadYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "models.yaml")
	content := `models:
  - id: groq/llama-3.3-70b
    provider: groq
    name: llama-3.3-70b-versatile
    cost_tier: very-low
    speed_tier: ultra-fast
    capabilities: [coding, general]
    context_window: 128000
    tiers: [free, pro]
  - id: openrouter/anthropic/claude-3-opus
    provider: openrouter
    name: anthropic/claude-3-opus
    cost_tier: premium
    speed_tier: slow
    capabilities: [reasoning]
    context_window: 200000
    tiers: [pro]
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}

	c, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	m, err := c.Get("openrouter/anthropic/claude-3-opus")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if m.CostTier != CostPremium || m.SpeedTier != SpeedSlow {
		t.Errorf("unexpected tiers: %s / %s", m.CostTier, m.SpeedTier)
	}
	if c.Index("groq/llama-3.3-70b") != 0 {
		t.Errorf("catalog order not preserved")
	}
}

func TestLoadRejectsUnknownTier(t *testing.T) {
	path := filepath.Join(t.TempDir(), "models.yaml")
	content := "models:\n  - id: groq/a\n    provider: groq\n    name: a\n    cost_tier: astronomical\n"
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestParseTier(t *testing.T) {
	if tier, err := ParseTier(""); err != nil || tier != TierFree {
		t.Fatalf("empty tier should be free, got %q %v", tier, err)
	}
	if tier, err := ParseTier("PRO"); err != nil || tier != TierPro {
		t.Fatalf("PRO should be pro, got %q %v", tier, err)
	}
	if _, err := ParseTier("enterprise"); err == nil {
		t.Fatal("expected error for unknown tier")
	}
}
