package store

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/veritas-engine/veritas/pkg/models"
)

// DualStore fronts the primary PostgreSQL store with the JSON fallback.
// Writes go to the primary; when it fails, best-effort writes divert to the
// fallback while must-persist writes fail loudly. Reads prefer the primary
// and fall back for plans that only exist on disk.
type DualStore struct {
	primary  Store
	fallback *FallbackStore
	logger   *slog.Logger
}

// NewDualStore wires the two backends together.
func NewDualStore(primary Store, fallback *FallbackStore, logger *slog.Logger) *DualStore {
	return &DualStore{primary: primary, fallback: fallback, logger: logger}
}

// Close releases both backends.
func (d *DualStore) Close() error {
	err := d.primary.Close()
	if ferr := d.fallback.Close(); err == nil {
		err = ferr
	}
	return err
}

// Health reports the primary's health when it supports the probe.
func (d *DualStore) Health(ctx context.Context) (*HealthStatus, error) {
	checker, ok := d.primary.(interface {
		Health(ctx context.Context) (*HealthStatus, error)
	})
	if !ok {
		return &HealthStatus{Status: "fallback-only"}, nil
	}
	return checker.Health(ctx)
}

// divert routes a failed primary write according to the consistency hint.
func (d *DualStore) divert(c Consistency, planID, op string, primaryErr error, write func() error) error {
	if c == MustPersist {
		return primaryErr
	}
	d.logger.Warn("primary store write diverted to fallback",
		"op", op, "plan_id", planID, "error", primaryErr)
	if err := write(); err != nil {
		return fmt.Errorf("primary failed (%v); fallback failed: %w", primaryErr, err)
	}
	return nil
}

func (d *DualStore) SavePlan(ctx context.Context, plan *models.ResearchPlan, c Consistency) error {
	err := d.primary.SavePlan(ctx, plan, c)
	if err == nil {
		return nil
	}
	return d.divert(c, plan.PlanID, "save_plan", err, func() error {
		return d.fallback.SavePlan(ctx, plan, c)
	})
}

func (d *DualStore) GetPlan(ctx context.Context, planID string) (*models.ResearchPlan, error) {
	plan, err := d.primary.GetPlan(ctx, planID)
	if err == nil {
		return plan, nil
	}
	if fbPlan, fbErr := d.fallback.GetPlan(ctx, planID); fbErr == nil {
		return fbPlan, nil
	}
	return nil, err
}

func (d *DualStore) ListPlans(ctx context.Context, filters models.PlanFilters) ([]models.ResearchPlan, error) {
	plans, err := d.primary.ListPlans(ctx, filters)
	if err == nil {
		return plans, nil
	}
	d.logger.Warn("primary store list failed, serving fallback", "error", err)
	return d.fallback.ListPlans(ctx, filters)
}

func (d *DualStore) SaveStep(ctx context.Context, step *models.PlanStep, c Consistency) error {
	err := d.primary.SaveStep(ctx, step, c)
	if err == nil {
		return nil
	}
	return d.divert(c, step.PlanID, "save_step", err, func() error {
		return d.fallback.SaveStep(ctx, step, c)
	})
}

func (d *DualStore) GetSteps(ctx context.Context, planID string) ([]models.PlanStep, error) {
	steps, err := d.primary.GetSteps(ctx, planID)
	if err == nil && len(steps) > 0 {
		return steps, nil
	}
	if fbSteps, fbErr := d.fallback.GetSteps(ctx, planID); fbErr == nil && len(fbSteps) > 0 {
		return fbSteps, nil
	}
	return steps, err
}

func (d *DualStore) SaveStepResult(ctx context.Context, result *models.StepResult, c Consistency) error {
	err := d.primary.SaveStepResult(ctx, result, c)
	if err == nil {
		return nil
	}
	return d.divert(c, result.PlanID, "save_step_result", err, func() error {
		return d.fallback.SaveStepResult(ctx, result, c)
	})
}

func (d *DualStore) GetStepResults(ctx context.Context, planID string) ([]models.StepResult, error) {
	results, err := d.primary.GetStepResults(ctx, planID)
	if err == nil && len(results) > 0 {
		return results, nil
	}
	if fbResults, fbErr := d.fallback.GetStepResults(ctx, planID); fbErr == nil && len(fbResults) > 0 {
		return fbResults, nil
	}
	return results, err
}

func (d *DualStore) AppendLog(ctx context.Context, entry *models.ExecutionLogEntry) error {
	err := d.primary.AppendLog(ctx, entry)
	if err == nil {
		return nil
	}
	return d.divert(BestEffort, entry.PlanID, "append_log", err, func() error {
		return d.fallback.AppendLog(ctx, entry)
	})
}

func (d *DualStore) GetLog(ctx context.Context, planID string) ([]models.ExecutionLogEntry, error) {
	entries, err := d.primary.GetLog(ctx, planID)
	if err == nil && len(entries) > 0 {
		return entries, nil
	}
	if fbEntries, fbErr := d.fallback.GetLog(ctx, planID); fbErr == nil && len(fbEntries) > 0 {
		return fbEntries, nil
	}
	return entries, err
}

// Replay pushes diverted fallback records back into the primary store in
// their original write order, dropping each plan's file once it is fully
// applied. Called at startup after the database comes back.
func (d *DualStore) Replay(ctx context.Context) error {
	ids, err := d.fallback.PlanIDs()
	if err != nil {
		return err
	}
	for _, id := range ids {
		recs, err := d.fallback.records(id)
		if err != nil {
			return err
		}
		if err := d.replayPlan(ctx, recs); err != nil {
			return fmt.Errorf("replay plan %s: %w", id, err)
		}
		if err := d.fallback.Drop(id); err != nil {
			return err
		}
		d.logger.Info("fallback records replayed", "plan_id", id, "records", len(recs))
	}
	return nil
}

func (d *DualStore) replayPlan(ctx context.Context, recs []fallbackRecord) error {
	for _, rec := range recs {
		var err error
		switch rec.Kind {
		case "plan":
			if rec.Plan != nil {
				err = d.primary.SavePlan(ctx, rec.Plan, MustPersist)
			}
		case "step":
			if rec.Step != nil {
				err = d.primary.SaveStep(ctx, rec.Step, MustPersist)
			}
		case "step_result":
			if rec.Result != nil {
				err = d.primary.SaveStepResult(ctx, rec.Result, MustPersist)
			}
		case "log":
			if rec.Log != nil {
				err = d.primary.AppendLog(ctx, rec.Log)
			}
		}
		if err != nil {
			return err
		}
	}
	return nil
}
