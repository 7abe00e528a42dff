package budget

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/veritas-engine/veritas/pkg/config"
	"github.com/veritas-engine/veritas/pkg/models"
)

func testCalculator() *Calculator {
	return NewCalculator(config.DefaultBudgetConfig())
}

func intentRecord(class models.IntentClass, complexity float64) *models.IntentRecord {
	return &models.IntentRecord{IntentClass: class, ComplexityScore: complexity}
}

func TestCalculateMidRangeBreakdown(t *testing.T) {
	snap := testCalculator().Calculate(Input{
		Stage:       models.BudgetStageInitial,
		Intent:      intentRecord(models.IntentExplanation, 3),
		ChunkCount:  5,
		SourceKinds: 1,
		AgentCount:  1,
	})

	assert.Equal(t, 600, snap.BaseTokens)
	assert.InDelta(t, 0.8, snap.ComplexityFactor, 1e-9)
	assert.InDelta(t, 1.4, snap.ChunkBonus, 1e-9)
	assert.InDelta(t, 1.0, snap.SourceMultiplier, 1e-9)
	assert.InDelta(t, 1.15, snap.AgentFactor, 1e-9)
	assert.InDelta(t, 1.0, snap.IntentWeight, 1e-9)
	// 600 * 0.8 * 1.4 * 1.15 = 772.8
	assert.Equal(t, 773, snap.Allocated)
}

func TestCalculateClampsToFloor(t *testing.T) {
	snap := testCalculator().Calculate(Input{
		Stage:  models.BudgetStageInitial,
		Intent: intentRecord(models.IntentQuickAnswer, 2),
	})
	assert.Equal(t, 250, snap.Allocated, "quick answers bottom out at the floor")
}

func TestCalculateClampsToCeiling(t *testing.T) {
	snap := testCalculator().Calculate(Input{
		Stage:       models.BudgetStagePostRetrieval,
		Intent:      intentRecord(models.IntentAnalysis, 9.5),
		ChunkCount:  10,
		SourceKinds: 2,
		AgentCount:  2,
	})
	assert.Equal(t, 4000, snap.Allocated, "rich analysis requests hit the ceiling")
}

func TestCalculateIsIdempotent(t *testing.T) {
	in := Input{
		Stage:       models.BudgetStagePostRetrieval,
		Intent:      intentRecord(models.IntentResearch, 7),
		ChunkCount:  12,
		SourceKinds: 3,
		AgentCount:  3,
	}
	c := testCalculator()
	assert.Equal(t, c.Calculate(in), c.Calculate(in))
}

func TestUserPreferenceClamped(t *testing.T) {
	c := testCalculator()
	high := c.Calculate(Input{Intent: intentRecord(models.IntentExplanation, 5), UserPreference: 3.0})
	assert.InDelta(t, 2.0, high.UserPreference, 1e-9)

	low := c.Calculate(Input{Intent: intentRecord(models.IntentExplanation, 5), UserPreference: 0.2})
	assert.InDelta(t, 0.5, low.UserPreference, 1e-9)

	unset := c.Calculate(Input{Intent: intentRecord(models.IntentExplanation, 5)})
	assert.InDelta(t, 1.0, unset.UserPreference, 1e-9)
}

func TestConfidenceAdjustmentRange(t *testing.T) {
	c := testCalculator()
	zero, one := 0.0, 1.0

	snap := c.Calculate(Input{Intent: intentRecord(models.IntentExplanation, 5), ConfidenceHint: &zero})
	assert.InDelta(t, 0.8, snap.ConfidenceAdjust, 1e-9)

	snap = c.Calculate(Input{Intent: intentRecord(models.IntentExplanation, 5), ConfidenceHint: &one})
	assert.InDelta(t, 1.2, snap.ConfidenceAdjust, 1e-9)

	snap = c.Calculate(Input{Intent: intentRecord(models.IntentExplanation, 5)})
	assert.InDelta(t, 1.0, snap.ConfidenceAdjust, 1e-9)
}

func TestChunkBonusSaturates(t *testing.T) {
	snap := testCalculator().Calculate(Input{
		Intent:     intentRecord(models.IntentExplanation, 5),
		ChunkCount: 50,
	})
	assert.InDelta(t, 2.6, snap.ChunkBonus, 1e-9, "bonus saturates at 20 chunks")
}

func TestSourceMultiplierSteps(t *testing.T) {
	assert.InDelta(t, 1.0, sourceMultiplier(0), 1e-9)
	assert.InDelta(t, 1.0, sourceMultiplier(1), 1e-9)
	assert.InDelta(t, 1.2, sourceMultiplier(2), 1e-9)
	assert.InDelta(t, 1.4, sourceMultiplier(3), 1e-9)
}

func TestEstimateTokens(t *testing.T) {
	assert.Equal(t, 0, EstimateTokens(""))
	assert.Equal(t, 1, EstimateTokens("abc"))
	assert.Equal(t, 5, EstimateTokens(strings.Repeat("ab", 10)))
	assert.Equal(t, 2, EstimateTokens("Behörde"), "umlauts count as one rune")
}
