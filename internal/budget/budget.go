// Package budget provides token budget estimation and context trimming for
// the QA pipeline. Because the pipeline supports multiple LLM backends with
// different tokenizers, this package uses a conservative character-based
// heuristic: 1 token ≈ 4 characters (English prose). This deliberately
// under-estimates token counts to leave headroom for model-specific overhead.
package budget

import (
	"github.com/54b3r/docrag-go/internal/rag"
)

const (
	// charsPerToken is the conservative character-to-token ratio used for
	// estimation. 4 chars/token is standard for English; using 3 would be
	// more aggressive but risks overflowing context windows.
	charsPerToken = 4

	// DefaultMaxContextTokens is the default input context budget in tokens.
	// Conservative enough to fit within 8k-context models (Llama 3 8B, GPT-3.5)
	// while leaving room for the prompt scaffolding and the output.
	DefaultMaxContextTokens = 6000
)

// Estimate returns a rough token count for s using the character heuristic.
func Estimate(s string) int {
	n := len(s) / charsPerToken
	if n == 0 && len(s) > 0 {
		return 1
	}
	return n
}

// TrimResults drops whole results from the end of the ranked slice until the
// estimated token count of their joined context fits within maxTokens.
// Results arrive best match first, so the weakest matches are dropped first.
// A single result that alone exceeds the budget is kept rather than truncated
// mid-sentence. Result texts may themselves contain blank lines, so trimming
// operates on the slice, never on the joined context string.
func TrimResults(results []rag.SearchResult, maxTokens int) []rag.SearchResult {
	if maxTokens <= 0 {
		maxTokens = DefaultMaxContextTokens
	}
	for len(results) > 1 && Estimate(rag.FormatContext(results)) > maxTokens {
		results = results[:len(results)-1]
	}
	return results
}
