package agents

import (
	"context"

	"github.com/veritas-engine/veritas/pkg/models"
)

// ExecutionInput is everything an agent receives for one step. Agents must
// not share mutable state with peers; all collaboration flows through step
// results.
type ExecutionInput struct {
	Query    string
	Step     *models.PlanStep
	Intent   *models.IntentRecord
	Evidence []models.EvidenceChunk

	// BudgetHint is the output-token allocation the budget calculator
	// granted this step. Agents treat it as a cap, not a target.
	BudgetHint int

	// PriorResults holds completed dependency results keyed by step ID.
	PriorResults map[string]*models.StepResult
}

// Description is the static routing metadata an agent declares.
type Description struct {
	ID           string               `json:"id"`
	Domain       string               `json:"domain"`
	Capabilities []string             `json:"capabilities"`
	Clearance    models.SecurityLevel `json:"clearance"`

	// MaxOutputTokens caps the budget hint for this agent. Zero means the
	// step budget applies unchanged.
	MaxOutputTokens int `json:"max_output_tokens,omitempty"`
}

// HasCapability reports whether the agent declares the capability.
func (d Description) HasCapability(cap string) bool {
	for _, c := range d.Capabilities {
		if c == cap {
			return true
		}
	}
	return false
}

// Covers reports whether the agent declares every required capability.
func (d Description) Covers(required []string) bool {
	for _, r := range required {
		if !d.HasCapability(r) {
			return false
		}
	}
	return true
}

// Agent executes plan steps. Implementations must be idempotent with
// respect to their own state: re-executing a step after a retry produces an
// equivalent result.
type Agent interface {
	Describe() Description
	Execute(ctx context.Context, in *ExecutionInput) (*models.StepResult, error)
	Health(ctx context.Context) error
}
