package catalog

var (
	freeAndPro = []Tier{TierFree, TierPro}
	proOnly    = []Tier{TierPro}
)

// DefaultModels returns the built-in model list.
func DefaultModels() []Model {
	return []Model{
		{
			ID: "openai/gpt-4o", Provider: ProviderOpenAI, Name: "gpt-4o", DisplayName: "GPT-4o",
			CostTier: CostHigh, SpeedTier: SpeedFast,
			Capabilities:  []string{CapCoding, CapReasoning, CapGeneral, CapVision, CapMultilingual},
			ContextWindow: 128000, Tiers: proOnly, Aliases: []string{"gpt4o"},
			PromptPer1K: 0.0025, CompletionPer1K: 0.01,
		},
		{
			ID: "openai/gpt-4o-mini", Provider: ProviderOpenAI, Name: "gpt-4o-mini", DisplayName: "GPT-4o mini",
			CostTier: CostLow, SpeedTier: SpeedFast,
			Capabilities:  []string{CapCoding, CapGeneral, CapMultilingual},
			ContextWindow: 128000, Tiers: freeAndPro, Aliases: []string{"mini"},
			PromptPer1K: 0.00015, CompletionPer1K: 0.0006,
		},
		{
			ID: "anthropic/claude-3.5-sonnet", Provider: ProviderAnthropic, Name: "claude-3-5-sonnet-latest", DisplayName: "Claude 3.5 Sonnet",
			CostTier: CostHigh, SpeedTier: SpeedMedium,
			Capabilities:  []string{CapCoding, CapReasoning, CapGeneral, CapVision},
			ContextWindow: 200000, Tiers: proOnly, Aliases: []string{"sonnet"},
			PromptPer1K: 0.003, CompletionPer1K: 0.015,
		},
		{
			ID: "anthropic/claude-3-haiku", Provider: ProviderAnthropic, Name: "claude-3-haiku-20240307", DisplayName: "Claude 3 Haiku",
			CostTier: CostLow, SpeedTier: SpeedUltraFast,
			Capabilities:  []string{CapCoding, CapGeneral},
			ContextWindow: 200000, Tiers: freeAndPro, Aliases: []string{"haiku"},
			PromptPer1K: 0.00025, CompletionPer1K: 0.00125,
		},
		{
			ID: "google/gemini-1.5-pro", Provider: ProviderGoogle, Name: "gemini-1.5-pro", DisplayName: "Gemini 1.5 Pro",
			CostTier: CostMedium, SpeedTier: SpeedMedium,
			Capabilities:  []string{CapReasoning, CapGeneral, CapMultilingual, CapVision, CapLongContext},
			ContextWindow: 2000000, Tiers: proOnly,
			PromptPer1K: 0.00125, CompletionPer1K: 0.005,
		},
		{
			ID: "google/gemini-1.5-flash", Provider: ProviderGoogle, Name: "gemini-1.5-flash", DisplayName: "Gemini 1.5 Flash",
			CostTier: CostVeryLow, SpeedTier: SpeedFast,
			Capabilities:  []string{CapGeneral, CapMultilingual, CapLongContext},
			ContextWindow: 1000000, Tiers: freeAndPro, Aliases: []string{"flash"},
			PromptPer1K: 0.000075, CompletionPer1K: 0.0003,
		},
		{
			ID: "groq/llama-3.3-70b", Provider: ProviderGroq, Name: "llama-3.3-70b-versatile", DisplayName: "Llama 3.3 70B (Groq)",
			CostTier: CostVeryLow, SpeedTier: SpeedUltraFast,
			Capabilities:  []string{CapCoding, CapGeneral},
			ContextWindow: 128000, Tiers: freeAndPro, Aliases: []string{"llama"},
			PromptPer1K: 0.00059, CompletionPer1K: 0.00079,
		},
		{
			ID: "deepseek/deepseek-chat", Provider: ProviderDeepSeek, Name: "deepseek-chat", DisplayName: "DeepSeek V3",
			CostTier: CostVeryLow, SpeedTier: SpeedMedium,
			Capabilities:  []string{CapCoding, CapGeneral},
			ContextWindow: 64000, Tiers: freeAndPro, Aliases: []string{"cheap"},
			PromptPer1K: 0.00027, CompletionPer1K: 0.0011,
		},
		{
			ID: "deepseek/deepseek-reasoner", Provider: ProviderDeepSeek, Name: "deepseek-reasoner", DisplayName: "DeepSeek R1",
			CostTier: CostLow, SpeedTier: SpeedSlow,
			Capabilities:  []string{CapReasoning, CapCoding},
			ContextWindow: 64000, Tiers: proOnly, Aliases: []string{"reason"},
			PromptPer1K: 0.00055, CompletionPer1K: 0.00219,
		},
		{
			ID: "mistral/mistral-large", Provider: ProviderMistral, Name: "mistral-large-latest", DisplayName: "Mistral Large",
			CostTier: CostMedium, SpeedTier: SpeedMedium,
			Capabilities:  []string{CapReasoning, CapGeneral, CapMultilingual},
			ContextWindow: 128000, Tiers: proOnly,
			PromptPer1K: 0.002, CompletionPer1K: 0.006,
		},
		{
			ID: "mistral/codestral", Provider: ProviderMistral, Name: "codestral-latest", DisplayName: "Codestral",
			CostTier: CostLow, SpeedTier: SpeedFast,
			Capabilities:  []string{CapCoding},
			ContextWindow: 256000, Tiers: freeAndPro,
			PromptPer1K: 0.0003, CompletionPer1K: 0.0009,
		},
		{
			ID: "xai/grok-2", Provider: ProviderXAI, Name: "grok-2-latest", DisplayName: "Grok 2",
			CostTier: CostHigh, SpeedTier: SpeedMedium,
			Capabilities:  []string{CapReasoning, CapGeneral},
			ContextWindow: 131072, Tiers: proOnly, Aliases: []string{"grok"},
			PromptPer1K: 0.002, CompletionPer1K: 0.01,
		},
		{
			ID: "openrouter/anthropic/claude-3-opus", Provider: ProviderOpenRouter, Name: "anthropic/claude-3-opus", DisplayName: "Claude 3 Opus (OpenRouter)",
			CostTier: CostPremium, SpeedTier: SpeedSlow,
			Capabilities:  []string{CapReasoning, CapCoding, CapGeneral},
			ContextWindow: 200000, Tiers: proOnly, Aliases: []string{"opus"},
			PromptPer1K: 0.015, CompletionPer1K: 0.075,
		},
	}
}

// Default returns the built-in catalog.
func Default() *Catalog {
	c, err := New(DefaultModels())
	if err != nil {
		panic("catalog: invalid built-in catalog: " + err.Error())
	}
	return c
}
