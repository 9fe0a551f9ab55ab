package engine

import "strings"

// ModelLimits describes a model's context window and how much of it is held
// back for the response.
type ModelLimits struct {
	ContextWindow int // total tokens the model accepts
	ReserveOutput int // tokens held back for the completion
}

// GetModelLimits returns context limits for a specific model, matched by
// name substring so provider-prefixed identifiers still resolve.
func GetModelLimits(model string) ModelLimits {
	modelLower := strings.ToLower(model)

	switch {
	// Kimi K2 (200k context), small safety buffer
	case strings.Contains(modelLower, "kimi"):
		return ModelLimits{ContextWindow: 200000, ReserveOutput: 4000}

	// GPT-4o family (128k context)
	case strings.Contains(modelLower, "gpt-4o"):
		return ModelLimits{ContextWindow: 128000, ReserveOutput: 4000}

	// o-series reasoning models (128k context, larger completions)
	case strings.HasPrefix(modelLower, "o1") || strings.HasPrefix(modelLower, "o3"):
		return ModelLimits{ContextWindow: 128000, ReserveOutput: 8000}

	// Claude Sonnet / Opus / Haiku (200k context)
	case strings.Contains(modelLower, "claude") || strings.Contains(modelLower, "sonnet") || strings.Contains(modelLower, "opus") || strings.Contains(modelLower, "haiku"):
		return ModelLimits{ContextWindow: 200000, ReserveOutput: 4000}

	// DeepSeek (64k safe assumption when version unknown)
	case strings.Contains(modelLower, "deepseek"):
		return ModelLimits{ContextWindow: 64000, ReserveOutput: 3000}
	}

	// Conservative default for unknown models
	return ModelLimits{ContextWindow: 16000, ReserveOutput: 2000}
}
