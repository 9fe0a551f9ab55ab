// Package engine drives autonomous coding agents for the desktop client.
// This file contains token counting interfaces and implementations.

package engine

import (
	"fmt"
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// Tokenizer provides token counting for text. Different models use different
// tokenization schemes, so the model name is required.
type Tokenizer interface {
	CountTokens(text string, model string) (int, error)
}

// EstimateTokens provides a rough token count estimation: ~4 characters per
// token for English/code, discounted for whitespace-heavy text. Approximate
// but useful when no encoding is available.
func EstimateTokens(text string) int {
	if len(text) == 0 {
		return 0
	}

	charCount := len([]rune(text))
	whitespaceCount := strings.Count(text, " ") + strings.Count(text, "\n") + strings.Count(text, "\t")

	estimated := (charCount / 4) + (whitespaceCount / 6)
	if estimated < 1 {
		return 1
	}
	return estimated
}

// HeuristicTokenizer counts by estimation only.
type HeuristicTokenizer struct{}

func (t HeuristicTokenizer) CountTokens(text string, model string) (int, error) {
	return EstimateTokens(text), nil
}

// encodingTokenizer wraps a tiktoken encoding.
type encodingTokenizer struct {
	enc *tiktoken.Tiktoken
}

func (t encodingTokenizer) CountTokens(text string, model string) (int, error) {
	return len(t.enc.Encode(text, nil, nil)), nil
}

var (
	genericOnce sync.Once
	genericEnc  *tiktoken.Tiktoken

	modelEncMu sync.Mutex
	modelEnc   = map[string]*tiktoken.Tiktoken{}
)

func genericEncoding() *tiktoken.Tiktoken {
	genericOnce.Do(func() {
		if enc, err := tiktoken.GetEncoding("cl100k_base"); err == nil {
			genericEnc = enc
		}
	})
	return genericEnc
}

// GetTokenizerForModel returns a tokenizer for the given model and whether
// its counts are exact. Resolution order: the model's own encoding, then the
// generic cl100k_base encoding, then the heuristic estimator. Only the first
// is exact; the caller flags everything else as approximate.
func GetTokenizerForModel(model string) (Tokenizer, bool) {
	modelEncMu.Lock()
	enc, cached := modelEnc[model]
	modelEncMu.Unlock()
	if !cached {
		var err error
		enc, err = tiktoken.EncodingForModel(model)
		if err != nil {
			enc = nil
		}
		modelEncMu.Lock()
		modelEnc[model] = enc
		modelEncMu.Unlock()
	}
	if enc != nil {
		return encodingTokenizer{enc: enc}, true
	}
	if g := genericEncoding(); g != nil {
		return encodingTokenizer{enc: g}, false
	}
	return HeuristicTokenizer{}, false
}

// Per-provider structural accounting: each message carries framing tokens for
// its role and delimiters, and the array itself is primed once.
const (
	tokensPerMessage = 4
	tokensPerRequest = 2
)

// CountTokensForMessages counts tokens for a message slice, including the
// formatting overhead providers charge for roles, separators and framing.
func CountTokensForMessages(tokenizer Tokenizer, messages []ChatMessage, model string) (int, error) {
	total := 0

	for _, msg := range messages {
		roleTokens, err := tokenizer.CountTokens(string(msg.Role), model)
		if err != nil {
			return 0, fmt.Errorf("failed to count role tokens: %w", err)
		}
		total += roleTokens

		contentTokens, err := tokenizer.CountTokens(msg.Content, model)
		if err != nil {
			return 0, fmt.Errorf("failed to count content tokens: %w", err)
		}
		total += contentTokens

		for _, tc := range msg.ToolCalls {
			nameTokens, err := tokenizer.CountTokens(tc.Name, model)
			if err != nil {
				return 0, fmt.Errorf("failed to count tool call name tokens: %w", err)
			}
			total += nameTokens

			argsStr := fmt.Sprintf("%v", tc.Args)
			argsTokens, err := tokenizer.CountTokens(argsStr, model)
			if err != nil {
				return 0, fmt.Errorf("failed to count tool call args tokens: %w", err)
			}
			total += argsTokens
		}

		total += tokensPerMessage
	}

	if len(messages) > 0 {
		total += tokensPerRequest
	}
	return total, nil
}
