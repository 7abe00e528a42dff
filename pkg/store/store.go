// Package store persists research plans, steps, and results. The primary
// backend is PostgreSQL; a JSON append-only fallback keeps best-effort
// writes alive through database outages and can be replayed afterwards.
package store

import (
	"context"

	"github.com/veritas-engine/veritas/pkg/errkind"
	"github.com/veritas-engine/veritas/pkg/models"
)

// Consistency is the caller's durability requirement for one write.
type Consistency string

const (
	// BestEffort writes may divert to the JSON fallback when the primary
	// store is unavailable.
	BestEffort Consistency = "best_effort"

	// MustPersist writes fail loudly when the primary store cannot
	// acknowledge them. Used for terminal plan transitions.
	MustPersist Consistency = "must_persist"
)

// ErrNotFound marks lookups for records that do not exist.
var ErrNotFound = errkind.New(errkind.KindInput, "record not found")

// Store is the persistence contract of the engine. All writes receive
// copies; the pipeline retains exclusive ownership of live plan state.
type Store interface {
	SavePlan(ctx context.Context, plan *models.ResearchPlan, c Consistency) error
	GetPlan(ctx context.Context, planID string) (*models.ResearchPlan, error)
	ListPlans(ctx context.Context, filters models.PlanFilters) ([]models.ResearchPlan, error)

	SaveStep(ctx context.Context, step *models.PlanStep, c Consistency) error
	GetSteps(ctx context.Context, planID string) ([]models.PlanStep, error)

	SaveStepResult(ctx context.Context, result *models.StepResult, c Consistency) error
	GetStepResults(ctx context.Context, planID string) ([]models.StepResult, error)

	AppendLog(ctx context.Context, entry *models.ExecutionLogEntry) error
	GetLog(ctx context.Context, planID string) ([]models.ExecutionLogEntry, error)

	Close() error
}
