package budget

import (
	"log/slog"
	"math"

	"github.com/veritas-engine/veritas/pkg/config"
	"github.com/veritas-engine/veritas/pkg/intent"
	"github.com/veritas-engine/veritas/pkg/models"
)

// Calculator computes output-token budgets. It is stateless and safe for
// concurrent use; per-request history lives in the caller's BudgetHistory.
type Calculator struct {
	cfg *config.BudgetConfig
}

// NewCalculator builds a calculator over the budget configuration.
func NewCalculator(cfg *config.BudgetConfig) *Calculator {
	return &Calculator{cfg: cfg}
}

// Input carries everything one budget calculation depends on. The same input
// always produces the same snapshot.
type Input struct {
	Stage      models.BudgetStage
	Intent     *models.IntentRecord
	ChunkCount int
	// SourceKinds is the number of distinct retrieval source kinds that
	// contributed evidence (vector, sparse, graph).
	SourceKinds int
	AgentCount  int
	// UserPreference scales the budget per user setting, clamped to [0.5, 2.0].
	// Zero means no preference.
	UserPreference float64
	// ConfidenceHint optionally adjusts for retrieval confidence. Nil means
	// neutral.
	ConfidenceHint *float64
}

// Calculate produces one budget snapshot. The full factor breakdown is
// recorded so answers can explain their allocation.
func (c *Calculator) Calculate(in Input) models.BudgetSnapshot {
	snap := models.BudgetSnapshot{
		Stage:            in.Stage,
		BaseTokens:       c.cfg.TokenBase,
		ComplexityFactor: intent.ComplexityFactor(complexityOf(in.Intent)),
		ChunkBonus:       chunkBonus(in.ChunkCount),
		SourceMultiplier: sourceMultiplier(in.SourceKinds),
		AgentFactor:      1 + 0.15*float64(in.AgentCount),
		IntentWeight:     intentWeightOf(in.Intent),
		UserPreference:   clampRange(in.UserPreference, 0.5, 2.0, 1.0),
		ConfidenceAdjust: confidenceAdjustment(in.ConfidenceHint),
	}

	raw := float64(snap.BaseTokens) *
		snap.ComplexityFactor *
		snap.ChunkBonus *
		snap.SourceMultiplier *
		snap.AgentFactor *
		snap.IntentWeight *
		snap.UserPreference *
		snap.ConfidenceAdjust

	snap.Allocated = clampTokens(int(math.Round(raw)), c.cfg.TokenMin, c.cfg.TokenMax)

	slog.Debug("Token budget calculated",
		"stage", snap.Stage,
		"allocated", snap.Allocated,
		"complexity_factor", snap.ComplexityFactor,
		"chunk_bonus", snap.ChunkBonus,
		"agent_factor", snap.AgentFactor)
	return snap
}

func complexityOf(rec *models.IntentRecord) float64 {
	if rec == nil {
		return 1
	}
	return rec.ComplexityScore
}

func intentWeightOf(rec *models.IntentRecord) float64 {
	if rec == nil {
		return models.IntentExplanation.Weight()
	}
	return rec.IntentClass.Weight()
}

// chunkBonus rewards evidence volume, saturating at 20 chunks.
func chunkBonus(chunks int) float64 {
	if chunks > 20 {
		chunks = 20
	}
	if chunks < 0 {
		chunks = 0
	}
	return 1 + float64(chunks)*0.08
}

// sourceMultiplier rewards evidence diversity: a single source kind stays at
// 1.0, a second adds 1.2, a third 1.4.
func sourceMultiplier(kinds int) float64 {
	switch {
	case kinds >= 3:
		return 1.4
	case kinds == 2:
		return 1.2
	default:
		return 1.0
	}
}

// confidenceAdjustment maps a confidence hint onto [0.8, 1.2]. High
// confidence earns the full allocation; low confidence trims it.
func confidenceAdjustment(hint *float64) float64 {
	if hint == nil {
		return 1.0
	}
	h := clampRange(*hint, 0, 1, 1)
	return 0.8 + 0.4*h
}

func clampRange(v, lo, hi, zero float64) float64 {
	if v == 0 {
		return zero
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampTokens(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
