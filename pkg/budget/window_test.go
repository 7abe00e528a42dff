package budget

import (
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veritas-engine/veritas/pkg/config"
	"github.com/veritas-engine/veritas/pkg/models"
)

func testWindowManager() *WindowManager {
	return NewWindowManager(config.DefaultBudgetConfig())
}

var smallWindowModel = models.ModelSpec{ModelName: "phi3:medium", ContextWindow: 4096}

func evidenceChunks(n, contentChars int) []models.EvidenceChunk {
	chunks := make([]models.EvidenceChunk, n)
	for i := range chunks {
		chunks[i] = models.EvidenceChunk{
			ChunkID:    fmt.Sprintf("c%d", i),
			DocumentID: "doc-1",
			Content:    strings.Repeat("a", contentChars),
			FusedScore: 1.0 - float64(i)*0.1,
		}
	}
	return chunks
}

func TestFitWithoutOverflow(t *testing.T) {
	res := testWindowManager().Fit(&FitRequest{
		Model:     models.ModelSpec{ModelName: "qwen2.5:14b", ContextWindow: 32768},
		Requested: 1000,
		System:    "s",
		User:      "u",
		Chunks:    evidenceChunks(5, 400),
	})

	assert.Equal(t, 1000, res.Granted)
	assert.Nil(t, res.Decision)
	assert.Equal(t, 1, res.Parts)
	assert.Len(t, res.Chunks, 5)
}

func TestFitReranksChunksFirst(t *testing.T) {
	res := testWindowManager().Fit(&FitRequest{
		Model:     smallWindowModel,
		Requested: 780,
		System:    "s",
		User:      "u",
		Chunks:    evidenceChunks(8, 1600),
	})

	require.NotNil(t, res.Decision)
	assert.Equal(t, models.OverflowRerankChunks, res.Decision.Strategy)
	assert.InDelta(t, 0.95, res.Decision.QualityFactor, 1e-9)
	assert.Positive(t, res.Decision.TokensSaved)
	assert.Equal(t, 780, res.Granted)

	assert.Less(t, len(res.Chunks), 8)
	assert.GreaterOrEqual(t, len(res.Chunks), minChunksAfterRerank)
	// Weakest scores go first; the survivors keep fused order.
	assert.Equal(t, "c0", res.Chunks[0].ChunkID)
}

func TestFitRerankGrantsPartialOutput(t *testing.T) {
	// The prompt nearly fills the window, so even the rerank floor cannot
	// host the full request. The grant shrinks instead of cascading into
	// harsher strategies.
	res := testWindowManager().Fit(&FitRequest{
		Model:     smallWindowModel,
		Requested: 3000,
		System:    "s",
		User:      "u",
		Chunks:    evidenceChunks(6, 2240),
	})

	require.NotNil(t, res.Decision)
	assert.Equal(t, models.OverflowRerankChunks, res.Decision.Strategy)
	assert.Less(t, res.Granted, 3000)
	assert.GreaterOrEqual(t, res.Granted, 250)
	assert.Len(t, res.Chunks, minChunksAfterRerank)
	assert.Equal(t, 1, res.Parts)
	assert.Equal(t, 0, res.Decision.ResidualBudget)
}

func TestFitSummarisesThinEvidence(t *testing.T) {
	long := strings.Repeat("Der Bescheid ist rechtswidrig und verletzt die Klägerin in ihren Rechten. ", 30)
	chunks := make([]models.EvidenceChunk, 4)
	for i := range chunks {
		chunks[i] = models.EvidenceChunk{ChunkID: fmt.Sprintf("c%d", i), Content: long, FusedScore: 0.5}
	}

	res := testWindowManager().Fit(&FitRequest{
		Model:     smallWindowModel,
		Requested: 2000,
		Chunks:    chunks,
	})

	require.NotNil(t, res.Decision)
	assert.Equal(t, models.OverflowSummarizeContext, res.Decision.Strategy)
	assert.InDelta(t, 0.80, res.Decision.QualityFactor, 1e-9)
	assert.Equal(t, 2000, res.Granted)
	for _, c := range res.Chunks {
		assert.Less(t, len(c.Content), len(long), "long chunks are summarised")
	}
}

func TestFitReducesAgents(t *testing.T) {
	big := json.RawMessage(`"` + strings.Repeat("x", 4000) + `"`)
	results := []models.StepResult{
		{AgentID: "analysis-agent", ResultData: big, Confidence: 0.9, Quality: 0.9},
		{AgentID: "document-agent", ResultData: big, Confidence: 0.5, Quality: 0.6},
		{AgentID: "baurecht-agent", ResultData: big, Confidence: 0.4, Quality: 0.5},
	}

	res := testWindowManager().Fit(&FitRequest{
		Model:        smallWindowModel,
		Requested:    1500,
		AgentResults: results,
	})

	require.NotNil(t, res.Decision)
	assert.Equal(t, models.OverflowReduceAgents, res.Decision.Strategy)
	assert.InDelta(t, 0.85, res.Decision.QualityFactor, 1e-9)
	require.NotEmpty(t, res.AgentResults)
	assert.Equal(t, "analysis-agent", res.AgentResults[0].AgentID, "strongest contribution survives")
}

func TestFitFallsBackToChunkedResponse(t *testing.T) {
	res := testWindowManager().Fit(&FitRequest{
		Model:     smallWindowModel,
		Requested: 4000,
		System:    "s",
		User:      "u",
	})

	require.NotNil(t, res.Decision)
	assert.Equal(t, models.OverflowChunkedResponse, res.Decision.Strategy)
	assert.InDelta(t, 1.0, res.Decision.QualityFactor, 1e-9)
	assert.Greater(t, res.Parts, 1)
	assert.Less(t, res.Granted, 4000)
	assert.Positive(t, res.Granted)
}

func TestSafeMaxOutputNeverNegative(t *testing.T) {
	spec := models.ModelSpec{ContextWindow: 4096}
	assert.Equal(t, 0, spec.SafeMaxOutput(10000, 0.8))
}

func TestLeadingSentences(t *testing.T) {
	s := "Erster Satz. Zweiter Satz. Dritter Satz."
	assert.Equal(t, "Erster Satz. Zweiter Satz.", leadingSentences(s, 2))
	assert.Equal(t, "kein Satzende", leadingSentences("kein Satzende", 2))
}
