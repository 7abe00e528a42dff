package pipeline

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/veritas-engine/veritas/pkg/config"
	"github.com/veritas-engine/veritas/pkg/errkind"
	"github.com/veritas-engine/veritas/pkg/models"
	"github.com/veritas-engine/veritas/pkg/store"
	"github.com/veritas-engine/veritas/pkg/streaming"
)

// StepRunner executes one step attempt. The executor owns scheduling,
// retries, and state; runners own the work.
type StepRunner interface {
	RunStep(ctx context.Context, step *models.PlanStep, prior map[string]*models.StepResult) (*models.StepResult, error)
}

// Outcome is the final state of one executed plan.
type Outcome struct {
	Status  models.PlanStatus
	Steps   []models.PlanStep
	Results map[string]*models.StepResult
}

// completion carries one finished step attempt back to the scheduler.
type completion struct {
	stepID   string
	result   *models.StepResult
	err      error
	attempts int
	started  time.Time
}

// Executor schedules one plan's step graph: ready steps launch under a
// bounded worker pool, parallel groups run concurrently, ungrouped steps run
// one at a time. All step state transitions happen on the scheduler
// goroutine, never in workers.
type Executor struct {
	cfg    *config.PipelineConfig
	st     store.Store
	stream *streaming.Channel
	logger *slog.Logger

	mu        sync.Mutex
	cond      *sync.Cond
	paused    bool
	cancelled bool
	cancelRun context.CancelFunc
	plan      *models.ResearchPlan
}

// NewExecutor builds an executor for one plan run. Stream may be nil for
// non-streaming requests.
func NewExecutor(cfg *config.PipelineConfig, st store.Store, stream *streaming.Channel, logger *slog.Logger) *Executor {
	e := &Executor{cfg: cfg, st: st, stream: stream, logger: logger}
	e.cond = sync.NewCond(&e.mu)
	return e
}

// Pause stops launching new steps; running steps finish normally. The plan
// reports paused immediately so readers are not left watching "running".
func (e *Executor) Pause() {
	e.mu.Lock()
	e.paused = true
	snapshot := e.setPlanStatusLocked(models.PlanStatusRunning, models.PlanStatusPaused)
	e.mu.Unlock()
	e.cond.Broadcast()
	e.announceTransition(snapshot)
}

// Resume re-enters the scheduling loop after a pause.
func (e *Executor) Resume() {
	e.mu.Lock()
	e.paused = false
	snapshot := e.setPlanStatusLocked(models.PlanStatusPaused, models.PlanStatusRunning)
	e.mu.Unlock()
	e.cond.Broadcast()
	e.announceTransition(snapshot)
}

// setPlanStatusLocked flips the plan between from and to, returning a copy
// for persistence. Caller holds e.mu.
func (e *Executor) setPlanStatusLocked(from, to models.PlanStatus) *models.ResearchPlan {
	if e.plan == nil || e.plan.Status != from {
		return nil
	}
	e.plan.Status = to
	snapshot := *e.plan
	return &snapshot
}

// announceTransition persists and emits a pause or resume outside e.mu. The
// background context keeps the write alive past the caller's request.
func (e *Executor) announceTransition(snapshot *models.ResearchPlan) {
	if snapshot == nil {
		return
	}
	ctx := context.Background()
	e.persistPlan(ctx, snapshot)
	e.emitStatus(ctx, snapshot, nil, "")
}

// Cancel signals every running worker and stops the plan. Workers get the
// configured grace period to observe the cancellation.
func (e *Executor) Cancel() {
	e.mu.Lock()
	e.cancelled = true
	if e.cancelRun != nil {
		e.cancelRun()
	}
	e.mu.Unlock()
	e.cond.Broadcast()
}

// run-state shared between the scheduler methods of one Execute call.
type planRun struct {
	plan    *models.ResearchPlan
	byID    map[string]*models.PlanStep
	order   []string // step IDs in index order
	results map[string]*models.StepResult
	runner  StepRunner

	sem  chan struct{}
	done chan completion

	running          int
	ungroupedRunning bool
}

// Execute runs the plan to a terminal status. The steps slice is copied; the
// caller's view stays untouched until the outcome is returned.
func (e *Executor) Execute(ctx context.Context, plan *models.ResearchPlan, steps []models.PlanStep, runner StepRunner) (*Outcome, error) {
	if err := ValidateSteps(steps); err != nil {
		return nil, err
	}

	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()
	e.mu.Lock()
	e.cancelRun = cancelRun
	e.plan = plan
	e.mu.Unlock()

	run := &planRun{
		plan:    plan,
		byID:    make(map[string]*models.PlanStep, len(steps)),
		results: make(map[string]*models.StepResult, len(steps)),
		runner:  runner,
		sem:     make(chan struct{}, e.cfg.WorkerPoolSize),
		done:    make(chan completion, len(steps)),
	}
	owned := append([]models.PlanStep(nil), steps...)
	for i := range owned {
		run.byID[owned[i].StepID] = &owned[i]
		run.order = append(run.order, owned[i].StepID)
	}

	now := time.Now()
	e.mu.Lock()
	plan.Status = models.PlanStatusRunning
	plan.StartedAt = &now
	plan.TotalSteps = len(owned)
	snapshot := *plan
	e.mu.Unlock()
	e.persistPlan(ctx, &snapshot)
	e.emitStatus(ctx, &snapshot, nil, "")

	e.schedule(ctx, runCtx, run)

	e.mu.Lock()
	wasCancelled := e.cancelled
	e.mu.Unlock()
	if wasCancelled {
		e.drainCancelled(ctx, run)
	}

	e.finishPlan(ctx, run, wasCancelled)

	e.mu.Lock()
	finalStatus := plan.Status
	e.mu.Unlock()
	outcome := &Outcome{
		Status:  finalStatus,
		Results: run.results,
		Steps:   make([]models.PlanStep, 0, len(owned)),
	}
	for _, id := range run.order {
		outcome.Steps = append(outcome.Steps, *run.byID[id])
	}
	sort.SliceStable(outcome.Steps, func(a, b int) bool {
		return outcome.Steps[a].Index < outcome.Steps[b].Index
	})
	return outcome, nil
}

// schedule is the main loop: launch what is ready, then wait for one
// completion or a control transition.
func (e *Executor) schedule(ctx context.Context, runCtx context.Context, run *planRun) {
	for {
		e.mu.Lock()
		if e.cancelled {
			e.mu.Unlock()
			return
		}
		if !e.paused {
			e.launchReady(runCtx, run)
		}
		if run.running == 0 {
			if e.paused && e.hasPending(run) {
				// Nothing running: block until resume or cancel.
				e.cond.Wait()
				e.mu.Unlock()
				continue
			}
			e.mu.Unlock()
			return
		}
		e.mu.Unlock()

		// runCtx covers both caller cancellation and Cancel(), so a worker
		// that ignores its context cannot wedge the scheduler.
		select {
		case d := <-run.done:
			e.processCompletion(ctx, run, d)
		case <-runCtx.Done():
			e.Cancel()
		}
	}
}

func (e *Executor) hasPending(run *planRun) bool {
	for _, s := range run.byID {
		if s.Status == models.StepStatusPending {
			return true
		}
	}
	return false
}

// launchReady starts every launchable step. Caller holds e.mu.
func (e *Executor) launchReady(runCtx context.Context, run *planRun) {
	for _, id := range run.order {
		step := run.byID[id]
		if step.Status != models.StepStatusPending || !e.depsCompleted(run, step) {
			continue
		}
		// Ungrouped steps run sequentially relative to each other.
		if step.ParallelGroup == "" && run.ungroupedRunning {
			continue
		}
		// A step turns running only once it holds a worker slot, so the
		// reported state never exceeds the pool size. A full pool means
		// nothing else can launch this pass.
		select {
		case run.sem <- struct{}{}:
		default:
			return
		}
		if step.ParallelGroup == "" {
			run.ungroupedRunning = true
		}
		step.Status = models.StepStatusRunning
		started := time.Now()
		step.StartedAt = &started
		run.running++

		prior := make(map[string]*models.StepResult, len(step.Dependencies))
		for _, dep := range step.Dependencies {
			if res, ok := run.results[dep]; ok {
				prior[dep] = res
			}
		}
		stepCopy := *step
		go e.worker(runCtx, run, &stepCopy, prior, started)
	}
}

func (e *Executor) depsCompleted(run *planRun, step *models.PlanStep) bool {
	for _, dep := range step.Dependencies {
		if d, ok := run.byID[dep]; !ok || d.Status != models.StepStatusCompleted {
			return false
		}
	}
	return true
}

// worker runs one step with the retry policy and reports the outcome.
func (e *Executor) worker(runCtx context.Context, run *planRun, step *models.PlanStep, prior map[string]*models.StepResult, started time.Time) {
	var result *models.StepResult
	var err error
	attempts := 0
	backoff := e.cfg.BackoffBase
	for attempts < e.cfg.MaxAttempts {
		attempts++
		attemptCtx, cancel := context.WithTimeout(runCtx, e.cfg.StepTimeout)
		result, err = run.runner.RunStep(attemptCtx, step, prior)
		cancel()
		if err == nil || !errkind.Retryable(err) || runCtx.Err() != nil {
			break
		}
		if attempts == e.cfg.MaxAttempts {
			break
		}
		e.logger.Warn("Step attempt failed, retrying",
			"plan_id", step.PlanID, "step_id", step.StepID,
			"attempt", attempts, "backoff", backoff, "error", err)
		select {
		case <-time.After(backoff):
		case <-runCtx.Done():
		}
		backoff = time.Duration(float64(backoff) * e.cfg.BackoffFactor)
	}

	// The slot frees before the report, so the scheduler can relaunch on
	// the completion it is about to process.
	<-run.sem
	run.done <- completion{
		stepID:   step.StepID,
		result:   result,
		err:      err,
		attempts: attempts,
		started:  started,
	}
}

// processCompletion applies one finished attempt: terminal step state,
// descendant skipping on failure, persistence, progress.
func (e *Executor) processCompletion(ctx context.Context, run *planRun, d completion) {
	e.mu.Lock()
	step := run.byID[d.stepID]
	run.running--
	if step.ParallelGroup == "" {
		run.ungroupedRunning = false
	}

	finished := time.Now()
	step.CompletedAt = &finished
	step.ExecutionMS = finished.Sub(d.started).Milliseconds()
	step.Attempts = d.attempts

	if d.err == nil {
		step.Status = models.StepStatusCompleted
		if d.result != nil {
			run.results[step.StepID] = d.result
			step.Result = d.result.ResultData
			step.Confidence = d.result.Confidence
			step.QualityScore = d.result.Quality
		}
	} else {
		step.Status = models.StepStatusFailed
		step.Error = d.err.Error()
		e.skipDescendants(run, step.StepID)
		e.logger.Error("Step failed",
			"plan_id", step.PlanID, "step_id", step.StepID,
			"attempts", d.attempts, "error", d.err)
	}

	run.plan.CompletedSteps = e.countCompleted(run)
	run.plan.ProgressPercentage = models.Progress(run.plan.CompletedSteps, run.plan.TotalSteps)
	stepCopy := *step
	planCopy := *run.plan
	e.mu.Unlock()

	e.persistStep(ctx, &planCopy, &stepCopy, d.result, d.err)
	e.emitStatus(ctx, &planCopy, &stepCopy, "")
}

// skipDescendants marks every pending step downstream of a failure as
// skipped. Caller holds e.mu.
func (e *Executor) skipDescendants(run *planRun, failedID string) {
	terminal := map[string]bool{failedID: true}
	for changed := true; changed; {
		changed = false
		for _, s := range run.byID {
			if s.Status != models.StepStatusPending || terminal[s.StepID] {
				continue
			}
			for _, dep := range s.Dependencies {
				if terminal[dep] {
					s.Status = models.StepStatusSkipped
					terminal[s.StepID] = true
					changed = true
					break
				}
			}
		}
		// Skipped steps propagate the skip to their own dependents.
	}
}

func (e *Executor) countCompleted(run *planRun) int {
	n := 0
	for _, s := range run.byID {
		if s.Status == models.StepStatusCompleted {
			n++
		}
	}
	return n
}

// drainCancelled waits up to the grace period for workers to observe the
// cancellation, then marks the leftovers.
func (e *Executor) drainCancelled(ctx context.Context, run *planRun) {
	deadline := time.NewTimer(e.cfg.GracePeriod)
	defer deadline.Stop()
	for {
		e.mu.Lock()
		remaining := run.running
		e.mu.Unlock()
		if remaining == 0 {
			break
		}
		select {
		case <-run.done:
			e.mu.Lock()
			run.running--
			e.mu.Unlock()
		case <-deadline.C:
			e.logger.Warn("Grace period expired, abandoning running steps",
				"plan_id", run.plan.PlanID, "running", remaining)
			e.mu.Lock()
			run.running = 0
			e.mu.Unlock()
		}
	}

	e.mu.Lock()
	for _, s := range run.byID {
		switch s.Status {
		case models.StepStatusRunning:
			s.Status = models.StepStatusFailed
			s.Error = "cancelled"
		case models.StepStatusPending:
			s.Status = models.StepStatusSkipped
		}
	}
	e.mu.Unlock()
}

// finishPlan derives and persists the plan's terminal status.
func (e *Executor) finishPlan(ctx context.Context, run *planRun, cancelled bool) {
	e.mu.Lock()
	plan := run.plan
	allCompleted := true
	anyFailed := false
	for _, s := range run.byID {
		switch s.Status {
		case models.StepStatusCompleted:
		case models.StepStatusFailed, models.StepStatusSkipped:
			allCompleted = false
			anyFailed = true
		default:
			allCompleted = false
		}
	}
	switch {
	case cancelled:
		plan.Status = models.PlanStatusCancelled
	case e.isPausedLocked() && !allCompleted && !anyFailed:
		plan.Status = models.PlanStatusPaused
	case allCompleted:
		plan.Status = models.PlanStatusCompleted
	case anyFailed:
		plan.Status = models.PlanStatusFailed
	default:
		plan.Status = models.PlanStatusPaused
	}
	if plan.Status.IsTerminal() {
		now := time.Now()
		plan.CompletedAt = &now
	}
	plan.CompletedSteps = e.countCompleted(run)
	plan.ProgressPercentage = models.Progress(plan.CompletedSteps, plan.TotalSteps)
	snapshot := *plan
	e.mu.Unlock()

	// Terminal transitions must land in the primary store.
	consistency := store.BestEffort
	if snapshot.Status.IsTerminal() {
		consistency = store.MustPersist
	}
	persistCtx := context.WithoutCancel(ctx)
	if err := e.st.SavePlan(persistCtx, &snapshot, consistency); err != nil {
		e.logger.Error("Plan state not persisted",
			"plan_id", snapshot.PlanID, "status", snapshot.Status, "error", err)
	}
	e.emitStatus(ctx, &snapshot, nil, "")
}

func (e *Executor) isPausedLocked() bool { return e.paused }

// persistPlan saves plan state without blocking the schedule on store
// failures.
func (e *Executor) persistPlan(ctx context.Context, plan *models.ResearchPlan) {
	persistCtx := context.WithoutCancel(ctx)
	if err := e.st.SavePlan(persistCtx, plan, store.BestEffort); err != nil {
		e.logger.Warn("Plan state not persisted", "plan_id", plan.PlanID, "error", err)
	}
}

func (e *Executor) persistStep(ctx context.Context, plan *models.ResearchPlan, step *models.PlanStep, result *models.StepResult, stepErr error) {
	persistCtx := context.WithoutCancel(ctx)
	if err := e.st.SaveStep(persistCtx, step, store.BestEffort); err != nil {
		e.logger.Warn("Step state not persisted",
			"plan_id", step.PlanID, "step_id", step.StepID, "error", err)
	}
	if result != nil {
		if err := e.st.SaveStepResult(persistCtx, result, store.BestEffort); err != nil {
			e.logger.Warn("Step result not persisted",
				"plan_id", step.PlanID, "step_id", step.StepID, "error", err)
		}
	}
	eventType := "step_completed"
	errText := ""
	if stepErr != nil {
		eventType = "step_failed"
		errText = stepErr.Error()
	}
	entry := &models.ExecutionLogEntry{
		PlanID:    step.PlanID,
		StepID:    step.StepID,
		EventType: eventType,
		Error:     errText,
		CreatedAt: time.Now(),
	}
	if result != nil {
		entry.AgentID = result.AgentID
	}
	if err := e.st.AppendLog(persistCtx, entry); err != nil {
		e.logger.Warn("Execution log not persisted",
			"plan_id", step.PlanID, "step_id", step.StepID, "error", err)
	}
	if err := e.st.SavePlan(persistCtx, plan, store.BestEffort); err != nil {
		e.logger.Warn("Plan state not persisted", "plan_id", step.PlanID, "error", err)
	}
}

// emitStatus publishes a status event for the plan or one of its steps.
func (e *Executor) emitStatus(ctx context.Context, plan *models.ResearchPlan, step *models.PlanStep, detail string) {
	if e.stream == nil {
		return
	}
	payload := streaming.StatusPayload{
		PlanID:   plan.PlanID,
		Status:   string(plan.Status),
		Progress: plan.ProgressPercentage,
		Detail:   detail,
	}
	if step != nil {
		payload.StepID = step.StepID
		payload.Status = string(step.Status)
	}
	if err := e.stream.Publish(ctx, payload); err != nil {
		e.logger.Warn("Status event not delivered", "plan_id", plan.PlanID, "error", err)
	}
}
