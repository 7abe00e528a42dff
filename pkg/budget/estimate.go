package budget

import (
	"unicode/utf8"

	"github.com/veritas-engine/veritas/pkg/models"
)

// charsPerToken is the estimation heuristic for the deployed model family.
// Token budgets carry a safety factor downstream, so the estimate does not
// need tokenizer precision.
const charsPerToken = 4

// EstimateTokens approximates the token count of a text span.
func EstimateTokens(s string) int {
	if s == "" {
		return 0
	}
	n := utf8.RuneCountInString(s)
	return (n + charsPerToken - 1) / charsPerToken
}

// EstimateChunkTokens approximates the prompt cost of one evidence chunk,
// including its identifier framing in the evidence block.
func EstimateChunkTokens(c models.EvidenceChunk) int {
	const framing = 12 // chunk header line with IDs and score
	return EstimateTokens(c.Content) + framing
}

// EstimatePromptTokens sums the prompt cost of the fixed blocks and the
// evidence block.
func EstimatePromptTokens(system, user string, chunks []models.EvidenceChunk) int {
	total := EstimateTokens(system) + EstimateTokens(user)
	for _, c := range chunks {
		total += EstimateChunkTokens(c)
	}
	return total
}
