package models

// BudgetStage identifies when in the pipeline a snapshot was taken.
type BudgetStage string

const (
	BudgetStageInitial       BudgetStage = "initial"
	BudgetStagePostRetrieval BudgetStage = "post-retrieval"
	BudgetStageFinal         BudgetStage = "final"
)

// BudgetSnapshot is the immutable record of one token-budget calculation.
// The factor breakdown is recorded so answers can explain their allocation.
type BudgetSnapshot struct {
	Stage            BudgetStage `json:"stage"`
	BaseTokens       int         `json:"base_tokens"`
	ComplexityFactor float64     `json:"complexity_factor"` // [0.1, 2.0]
	ChunkBonus       float64     `json:"chunk_bonus"`
	SourceMultiplier float64     `json:"source_multiplier"` // [1.0, 1.4]
	AgentFactor      float64     `json:"agent_factor"`      // 1 + 0.15·N
	IntentWeight     float64     `json:"intent_weight"`
	UserPreference   float64     `json:"user_preference"` // [0.5, 2.0]
	ConfidenceAdjust float64     `json:"confidence_adjustment"`
	Allocated        int         `json:"allocated"` // clamped to [TOKEN_MIN, TOKEN_MAX]
}

// BudgetHistory holds the stage snapshots accumulated during one request.
type BudgetHistory struct {
	Snapshots []BudgetSnapshot  `json:"history"`
	Overflow  *OverflowDecision `json:"overflow_decision,omitempty"`
}

// Append adds a snapshot and returns the updated history.
func (h *BudgetHistory) Append(s BudgetSnapshot) {
	h.Snapshots = append(h.Snapshots, s)
}

// Latest returns the most recent snapshot, or a zero snapshot if none exist.
func (h *BudgetHistory) Latest() BudgetSnapshot {
	if len(h.Snapshots) == 0 {
		return BudgetSnapshot{}
	}
	return h.Snapshots[len(h.Snapshots)-1]
}

// OverflowStrategy is the tactic chosen when requested output exceeds the
// model's safe window.
type OverflowStrategy string

const (
	OverflowRerankChunks     OverflowStrategy = "rerank_chunks"
	OverflowSummarizeContext OverflowStrategy = "summarize_context"
	OverflowReduceAgents     OverflowStrategy = "reduce_agents"
	OverflowChunkedResponse  OverflowStrategy = "chunked_response"
)

// IsValid checks if the overflow strategy is a known variant.
func (s OverflowStrategy) IsValid() bool {
	switch s {
	case OverflowRerankChunks, OverflowSummarizeContext, OverflowReduceAgents, OverflowChunkedResponse:
		return true
	default:
		return false
	}
}

// OverflowDecision records how a context overflow was resolved.
type OverflowDecision struct {
	Strategy       OverflowStrategy `json:"strategy"`
	QualityFactor  float64          `json:"quality_factor"` // [0.8, 1.0]
	TokensSaved    int              `json:"tokens_saved"`
	ResidualBudget int              `json:"residual_budget"`
}

// ModelSpec describes an LLM the synthesiser may target.
type ModelSpec struct {
	ModelName     string `json:"model_name"`
	ContextWindow int    `json:"context_window"` // tokens
	Notes         string `json:"notes,omitempty"`
}

// SafeMaxOutput returns the largest output allocation that keeps the request
// within safetyFactor of the model's context window given promptTokens.
// Never negative.
func (m ModelSpec) SafeMaxOutput(promptTokens int, safetyFactor float64) int {
	safe := int(float64(m.ContextWindow)*safetyFactor) - promptTokens
	if safe < 0 {
		return 0
	}
	return safe
}
