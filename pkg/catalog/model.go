package catalog

import (
	"fmt"
	"strings"
)

// Provider identifies an upstream LLM vendor.
type Provider string

const (
	ProviderOpenAI     Provider = "openai"
	ProviderAnthropic  Provider = "anthropic"
	ProviderGoogle     Provider = "google"
	ProviderGroq       Provider = "groq"
	ProviderDeepSeek   Provider = "deepseek"
	ProviderMistral    Provider = "mistral"
	ProviderXAI        Provider = "xai"
	ProviderOpenRouter Provider = "openrouter"
)

// Providers returns every supported provider in a stable order.
func Providers() []Provider {
	return []Provider{
		ProviderOpenAI,
		ProviderAnthropic,
		ProviderGoogle,
		ProviderGroq,
		ProviderDeepSeek,
		ProviderMistral,
		ProviderXAI,
		ProviderOpenRouter,
	}
}

// Valid reports whether p is a supported provider.
func (p Provider) Valid() bool {
	for _, known := range Providers() {
		if p == known {
			return true
		}
	}
	return false
}

// Tier is a subscription tier.
type Tier string

const (
	TierFree Tier = "free"
	TierPro  Tier = "pro"
)

// ParseTier parses a tier name. An empty string means free.
func ParseTier(s string) (Tier, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "free":
		return TierFree, nil
	case "pro", "paid":
		return TierPro, nil
	default:
		return "", fmt.Errorf("unknown tier %q", s)
	}
}

// CostTier orders models from cheapest to most expensive.
type CostTier int

const (
	CostVeryLow CostTier = iota
	CostLow
	CostMedium
	CostHigh
	CostPremium
)

var costTierNames = []string{"very-low", "low", "medium", "high", "premium"}

func (c CostTier) String() string {
	if c < 0 || int(c) >= len(costTierNames) {
		return fmt.Sprintf("cost-tier(%d)", int(c))
	}
	return costTierNames[c]
}

// Rank returns the zero-based position of c in the cost ordering.
func (c CostTier) Rank() int { return int(c) }

// MarshalText implements encoding.TextMarshaler.
func (c CostTier) MarshalText() ([]byte, error) {
	if c < 0 || int(c) >= len(costTierNames) {
		return nil, fmt.Errorf("invalid cost tier %d", int(c))
	}
	return []byte(c.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (c *CostTier) UnmarshalText(text []byte) error {
	name := strings.ToLower(strings.TrimSpace(string(text)))
	for i, n := range costTierNames {
		if n == name {
			*c = CostTier(i)
			return nil
		}
	}
	return fmt.Errorf("unknown cost tier %q", string(text))
}

// SpeedTier orders models from fastest to slowest.
type SpeedTier int

const (
	SpeedUltraFast SpeedTier = iota
	SpeedFast
	SpeedMedium
	SpeedSlow
)

var speedTierNames = []string{"ultra-fast", "fast", "medium", "slow"}

func (s SpeedTier) String() string {
	if s < 0 || int(s) >= len(speedTierNames) {
		return fmt.Sprintf("speed-tier(%d)", int(s))
	}
	return speedTierNames[s]
}

// Rank returns the zero-based position of s in the speed ordering.
func (s SpeedTier) Rank() int { return int(s) }

// MarshalText implements encoding.TextMarshaler.
func (s SpeedTier) MarshalText() ([]byte, error) {
	if s < 0 || int(s) >= len(speedTierNames) {
		return nil, fmt.Errorf("invalid speed tier %d", int(s))
	}
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *SpeedTier) UnmarshalText(text []byte) error {
	name := strings.ToLower(strings.TrimSpace(string(text)))
	for i, n := range speedTierNames {
		if n == name {
			*s = SpeedTier(i)
			return nil
		}
	}
	return fmt.Errorf("unknown speed tier %q", string(text))
}

// Capability tags used by the built-in catalog and the selector.
const (
	CapCoding       = "coding"
	CapReasoning    = "reasoning"
	CapGeneral      = "general"
	CapMultilingual = "multilingual"
	CapVision       = "vision"
	CapLongContext  = "long-context"
)

// Model describes one selectable upstream model.
type Model struct {
	// ID is provider-qualified, for example "anthropic/claude-3.5-sonnet".
	ID       string   `yaml:"id" json:"id"`
	Provider Provider `yaml:"provider" json:"provider"`
	// Name is the identifier sent to the provider API.
	Name          string    `yaml:"name" json:"name"`
	DisplayName   string    `yaml:"display_name,omitempty" json:"display_name,omitempty"`
	CostTier      CostTier  `yaml:"cost_tier" json:"cost_tier"`
	SpeedTier     SpeedTier `yaml:"speed_tier" json:"speed_tier"`
	Capabilities  []string  `yaml:"capabilities" json:"capabilities"`
	ContextWindow int       `yaml:"context_window" json:"context_window"`
	Tiers         []Tier    `yaml:"tiers" json:"tiers"`
	Aliases       []string  `yaml:"aliases,omitempty" json:"aliases,omitempty"`

	// Pricing in USD per 1k tokens, used for estimates only.
	PromptPer1K     float64 `yaml:"prompt_per_1k" json:"prompt_per_1k"`
	CompletionPer1K float64 `yaml:"completion_per_1k" json:"completion_per_1k"`
}

// Has reports whether the model carries a capability tag.
func (m Model) Has(capability string) bool {
	for _, c := range m.Capabilities {
		if c == capability {
			return true
		}
	}
	return false
}

// AvailableTo reports whether callers on tier t may select the model.
func (m Model) AvailableTo(t Tier) bool {
	for _, tier := range m.Tiers {
		if tier == t {
			return true
		}
	}
	return false
}

// ShortID returns the id without its provider prefix.
func (m Model) ShortID() string {
	return strings.TrimPrefix(m.ID, string(m.Provider)+"/")
}

func (m Model) clone() Model {
	out := m
	out.Capabilities = append([]string(nil), m.Capabilities...)
	out.Tiers = append([]Tier(nil), m.Tiers...)
	out.Aliases = append([]string(nil), m.Aliases...)
	return out
}
