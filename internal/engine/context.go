package engine

import (
	"fmt"
)

// WarningLevel grades context usage for observability. It never blocks a
// request.
type WarningLevel string

const (
	WarnNormal   WarningLevel = "normal"   // below 70%
	WarnElevated WarningLevel = "warning"  // 70% to 90%
	WarnCritical WarningLevel = "critical" // 90% and above
)

// TokenMetrics is derived before every model request, never stored.
type TokenMetrics struct {
	ContextUsed  int          `json:"contextUsed"`
	ContextMax   int          `json:"contextMax"`
	UsagePercent float64      `json:"usagePercent"`
	WarningLevel WarningLevel `json:"warningLevel"`
	Approximate  bool         `json:"approximate,omitempty"`
}

func warningLevelFor(percent float64) WarningLevel {
	switch {
	case percent >= 90:
		return WarnCritical
	case percent >= 70:
		return WarnElevated
	default:
		return WarnNormal
	}
}

// ContextManager counts tokens against a model's window and trims history
// when a request would not fit.
type ContextManager struct {
	model     string
	limits    ModelLimits
	tokenizer Tokenizer
	exact     bool

	// Tool results beyond this many characters are clamped head+tail before
	// counting; huge outputs would otherwise dominate the window.
	MaxToolResultChars int
}

// NewContextManager builds a manager for the given model, resolving the best
// available encoding.
func NewContextManager(model string) *ContextManager {
	tok, exact := GetTokenizerForModel(model)
	return &ContextManager{
		model:              model,
		limits:             GetModelLimits(model),
		tokenizer:          tok,
		exact:              exact,
		MaxToolResultChars: 8000,
	}
}

// Limits returns the model limits in effect.
func (cm *ContextManager) Limits() ModelLimits { return cm.limits }

// Metrics computes current usage for a message list.
func (cm *ContextManager) Metrics(msgs []ChatMessage) TokenMetrics {
	used, err := CountTokensForMessages(cm.tokenizer, msgs, cm.model)
	approx := !cm.exact
	if err != nil {
		used = 0
		for _, m := range msgs {
			used += EstimateTokens(m.Content) + tokensPerMessage
		}
		approx = true
	}
	max := cm.limits.ContextWindow
	percent := 0.0
	if max > 0 {
		percent = float64(used) / float64(max) * 100
	}
	return TokenMetrics{
		ContextUsed:  used,
		ContextMax:   max,
		UsagePercent: percent,
		WarningLevel: warningLevelFor(percent),
		Approximate:  approx,
	}
}

// Prepare returns the messages to send, truncating oldest interior history
// until the request fits under (window - reserve). The system message at
// index 0 and the two most recent messages always survive. The returned
// count is how many messages were removed.
func (cm *ContextManager) Prepare(history []ChatMessage) ([]ChatMessage, int, TokenMetrics) {
	msgs := make([]ChatMessage, len(history))
	copy(msgs, history)

	for i := range msgs {
		if msgs[i].Role == RoleTool && cm.MaxToolResultChars > 0 {
			msgs[i].Content = clampMiddle(msgs[i].Content, cm.MaxToolResultChars)
		}
	}

	budget := cm.limits.ContextWindow - cm.limits.ReserveOutput
	removed := 0
	metrics := cm.Metrics(msgs)

	for metrics.ContextUsed > budget && len(msgs) > 3 {
		// Interior window is everything between the system message and the
		// final two messages; drop its oldest entry.
		msgs = append(msgs[:1], msgs[2:]...)
		removed++
		metrics = cm.Metrics(msgs)
	}

	return msgs, removed, metrics
}

// clampMiddle keeps the head and tail of oversized text, marking the cut.
func clampMiddle(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	head := max * 2 / 3
	tail := max - head
	return s[:head] + fmt.Sprintf("\n... [%d chars elided] ...\n", len(s)-max) + s[len(s)-tail:]
}
