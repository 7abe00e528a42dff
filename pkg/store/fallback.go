package store

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/veritas-engine/veritas/pkg/errkind"
	"github.com/veritas-engine/veritas/pkg/models"
)

const fallbackExt = ".ndjson"

// fallbackRecord is one append-only line in a plan's fallback file. Exactly
// one of the typed payloads is set, selected by Kind.
type fallbackRecord struct {
	Kind   string                    `json:"kind"` // plan, step, step_result, log
	At     time.Time                 `json:"at"`
	Plan   *models.ResearchPlan      `json:"plan,omitempty"`
	Step   *models.PlanStep          `json:"step,omitempty"`
	Result *models.StepResult        `json:"result,omitempty"`
	Log    *models.ExecutionLogEntry `json:"log,omitempty"`
}

// FallbackStore keeps plan state in append-only NDJSON files, one per plan,
// so best-effort writes survive a database outage. Reads replay the file and
// return the latest state of each record.
type FallbackStore struct {
	mu  sync.Mutex
	dir string
}

// NewFallbackStore creates the fallback directory if needed.
func NewFallbackStore(dir string) (*FallbackStore, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, errkind.Wrap(errkind.KindResourceUnavailable, "create fallback directory", err)
	}
	return &FallbackStore{dir: dir}, nil
}

// Dir returns the fallback directory path.
func (f *FallbackStore) Dir() string { return f.dir }

// Close is a no-op; every append opens and closes its own file.
func (f *FallbackStore) Close() error { return nil }

func (f *FallbackStore) pathFor(planID string) string {
	// Plan IDs are engine-generated UUIDs, but never trust them as paths.
	safe := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, planID)
	return filepath.Join(f.dir, safe+fallbackExt)
}

func (f *FallbackStore) append(planID string, rec fallbackRecord) error {
	if planID == "" {
		return errkind.New(errkind.KindInput, "fallback write without plan id")
	}
	rec.At = time.Now()
	line, err := json.Marshal(rec)
	if err != nil {
		return errkind.Wrap(errkind.KindInternal, "encode fallback record", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	file, err := os.OpenFile(f.pathFor(planID), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
	if err != nil {
		return errkind.Wrap(errkind.KindResourceUnavailable, "open fallback file", err)
	}
	defer file.Close()
	if _, err := file.Write(append(line, '\n')); err != nil {
		return errkind.Wrap(errkind.KindResourceUnavailable, "append fallback record", err)
	}
	return file.Sync()
}

// records replays one plan's file in write order. A missing file yields nil.
func (f *FallbackStore) records(planID string) ([]fallbackRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.readFileLocked(f.pathFor(planID))
}

func (f *FallbackStore) readFileLocked(path string) ([]fallbackRecord, error) {
	file, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errkind.Wrap(errkind.KindResourceUnavailable, "open fallback file", err)
	}
	defer file.Close()

	var recs []fallbackRecord
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var rec fallbackRecord
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			return nil, errkind.Wrap(errkind.KindDataIntegrity,
				fmt.Sprintf("corrupt fallback record in %s", filepath.Base(path)), err)
		}
		recs = append(recs, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, errkind.Wrap(errkind.KindResourceUnavailable, "read fallback file", err)
	}
	return recs, nil
}

// SavePlan appends the full plan snapshot.
func (f *FallbackStore) SavePlan(_ context.Context, plan *models.ResearchPlan, _ Consistency) error {
	return f.append(plan.PlanID, fallbackRecord{Kind: "plan", Plan: plan})
}

// GetPlan returns the latest plan snapshot in the file.
func (f *FallbackStore) GetPlan(_ context.Context, planID string) (*models.ResearchPlan, error) {
	recs, err := f.records(planID)
	if err != nil {
		return nil, err
	}
	var latest *models.ResearchPlan
	for i := range recs {
		if recs[i].Kind == "plan" && recs[i].Plan != nil {
			latest = recs[i].Plan
		}
	}
	if latest == nil {
		return nil, ErrNotFound
	}
	return latest, nil
}

// ListPlans scans every fallback file and applies the filters in memory.
func (f *FallbackStore) ListPlans(ctx context.Context, filters models.PlanFilters) ([]models.ResearchPlan, error) {
	ids, err := f.PlanIDs()
	if err != nil {
		return nil, err
	}
	var plans []models.ResearchPlan
	for _, id := range ids {
		plan, err := f.GetPlan(ctx, id)
		if err == ErrNotFound {
			continue
		}
		if err != nil {
			return nil, err
		}
		if matchesFilters(plan, filters) {
			plans = append(plans, *plan)
		}
	}
	sort.Slice(plans, func(a, b int) bool {
		return plans[a].CreatedAt.After(plans[b].CreatedAt)
	})
	if filters.Offset > 0 {
		if filters.Offset >= len(plans) {
			return nil, nil
		}
		plans = plans[filters.Offset:]
	}
	limit := filters.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	if len(plans) > limit {
		plans = plans[:limit]
	}
	return plans, nil
}

func matchesFilters(plan *models.ResearchPlan, f models.PlanFilters) bool {
	if f.Status != "" && string(plan.Status) != f.Status {
		return false
	}
	if f.SessionID != "" && plan.SessionID != f.SessionID {
		return false
	}
	if f.UserIdentity != "" && plan.UserIdentity != f.UserIdentity {
		return false
	}
	if f.CreatedAfter != nil && plan.CreatedAt.Before(*f.CreatedAfter) {
		return false
	}
	if f.CreatedBefore != nil && plan.CreatedAt.After(*f.CreatedBefore) {
		return false
	}
	return true
}

// SaveStep appends the step snapshot.
func (f *FallbackStore) SaveStep(_ context.Context, step *models.PlanStep, _ Consistency) error {
	return f.append(step.PlanID, fallbackRecord{Kind: "step", Step: step})
}

// GetSteps replays the file and returns the latest state per step, ordered
// by step index.
func (f *FallbackStore) GetSteps(_ context.Context, planID string) ([]models.PlanStep, error) {
	recs, err := f.records(planID)
	if err != nil {
		return nil, err
	}
	latest := make(map[string]*models.PlanStep)
	for i := range recs {
		if recs[i].Kind == "step" && recs[i].Step != nil {
			latest[recs[i].Step.StepID] = recs[i].Step
		}
	}
	steps := make([]models.PlanStep, 0, len(latest))
	for _, st := range latest {
		steps = append(steps, *st)
	}
	sort.Slice(steps, func(a, b int) bool { return steps[a].Index < steps[b].Index })
	return steps, nil
}

// SaveStepResult appends the result snapshot.
func (f *FallbackStore) SaveStepResult(_ context.Context, result *models.StepResult, _ Consistency) error {
	return f.append(result.PlanID, fallbackRecord{Kind: "step_result", Result: result})
}

// GetStepResults returns the latest result per step.
func (f *FallbackStore) GetStepResults(_ context.Context, planID string) ([]models.StepResult, error) {
	recs, err := f.records(planID)
	if err != nil {
		return nil, err
	}
	latest := make(map[string]*models.StepResult)
	for i := range recs {
		if recs[i].Kind == "step_result" && recs[i].Result != nil {
			latest[recs[i].Result.StepID] = recs[i].Result
		}
	}
	results := make([]models.StepResult, 0, len(latest))
	for _, r := range latest {
		results = append(results, *r)
	}
	sort.Slice(results, func(a, b int) bool { return results[a].StepID < results[b].StepID })
	return results, nil
}

// AppendLog appends the log entry.
func (f *FallbackStore) AppendLog(_ context.Context, entry *models.ExecutionLogEntry) error {
	return f.append(entry.PlanID, fallbackRecord{Kind: "log", Log: entry})
}

// GetLog returns log entries in write order.
func (f *FallbackStore) GetLog(_ context.Context, planID string) ([]models.ExecutionLogEntry, error) {
	recs, err := f.records(planID)
	if err != nil {
		return nil, err
	}
	var entries []models.ExecutionLogEntry
	for i := range recs {
		if recs[i].Kind == "log" && recs[i].Log != nil {
			entries = append(entries, *recs[i].Log)
		}
	}
	return entries, nil
}

// PlanIDs lists the plans with fallback records on disk.
func (f *FallbackStore) PlanIDs() ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	entries, err := os.ReadDir(f.dir)
	if err != nil {
		return nil, errkind.Wrap(errkind.KindResourceUnavailable, "read fallback directory", err)
	}
	var ids []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), fallbackExt) {
			continue
		}
		ids = append(ids, strings.TrimSuffix(e.Name(), fallbackExt))
	}
	sort.Strings(ids)
	return ids, nil
}

// Drop removes a plan's fallback file after a successful replay.
func (f *FallbackStore) Drop(planID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	err := os.Remove(f.pathFor(planID))
	if err != nil && !os.IsNotExist(err) {
		return errkind.Wrap(errkind.KindResourceUnavailable, "remove fallback file", err)
	}
	return nil
}
