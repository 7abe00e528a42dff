package pipeline

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/veritas-engine/veritas/pkg/agents"
	"github.com/veritas-engine/veritas/pkg/errkind"
	"github.com/veritas-engine/veritas/pkg/models"
)

// SynthesisFunc closes the step graph: it receives the accumulated evidence
// and agent results and produces the final answer step result.
type SynthesisFunc func(ctx context.Context, step *models.PlanStep, evidence []models.EvidenceChunk, results []models.StepResult) (*models.StepResult, error)

// agentRunner routes steps to registered agents and accumulates their
// outputs for the synthesis step. One instance serves one plan run.
type agentRunner struct {
	router     *agents.Router
	registry   *agents.Registry
	plan       *models.ResearchPlan
	intent     *models.IntentRecord
	query      string
	budgetHint int
	synthesize SynthesisFunc
	logger     *slog.Logger

	mu           sync.Mutex
	evidence     []models.EvidenceChunk
	seenChunks   map[string]bool
	agentResults []models.StepResult
}

func newAgentRunner(router *agents.Router, registry *agents.Registry, plan *models.ResearchPlan, rec *models.IntentRecord, query string, budgetHint int, synthesize SynthesisFunc, logger *slog.Logger) *agentRunner {
	return &agentRunner{
		router:     router,
		registry:   registry,
		plan:       plan,
		intent:     rec,
		query:      query,
		budgetHint: budgetHint,
		synthesize: synthesize,
		seenChunks: make(map[string]bool),
		logger:     logger,
	}
}

// retrievalPayload is the shape retrieval agents store in ResultData.
type retrievalPayload struct {
	Chunks []models.EvidenceChunk `json:"chunks"`
}

// RunStep executes one step: synthesis through the closing func, everything
// else through the best-ranked agent for the step's capability set.
func (r *agentRunner) RunStep(ctx context.Context, step *models.PlanStep, prior map[string]*models.StepResult) (*models.StepResult, error) {
	if step.Type == models.StepTypeSynthesis {
		evidence, results := r.collected()
		return r.synthesize(ctx, step, evidence, results)
	}

	selected, err := r.router.SelectFor(ctx, agents.Selection{
		Capabilities:    step.Capabilities,
		DetectedDomains: r.intent.DetectedDomains,
		SecurityLevel:   r.plan.SecurityLevel,
	})
	if err != nil {
		return nil, err
	}
	agent := selected[0]

	in := &agents.ExecutionInput{
		Query:        r.query,
		Step:         step,
		Intent:       r.intent,
		BudgetHint:   r.budgetHint,
		PriorResults: prior,
	}
	if step.Type == models.StepTypeAnalysis {
		in.Evidence, _ = r.collected()
	}

	started := time.Now()
	result, err := agent.Execute(ctx, in)
	r.registry.ReportResult(agent.Describe().ID, err == nil, time.Since(started))
	if err != nil {
		return nil, err
	}
	if result == nil {
		return nil, errkind.Newf(errkind.KindInternal, "agent %s returned no result", agent.Describe().ID)
	}

	r.record(step, result)
	return result, nil
}

// record accumulates agent output for the synthesis step.
func (r *agentRunner) record(step *models.PlanStep, result *models.StepResult) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if step.Type == models.StepTypeRetrieval || step.Type == models.StepTypeSearch {
		var payload retrievalPayload
		if err := json.Unmarshal(result.ResultData, &payload); err != nil {
			r.logger.Warn("Retrieval result not decodable",
				"plan_id", step.PlanID, "step_id", step.StepID, "error", err)
		}
		for _, c := range payload.Chunks {
			if r.seenChunks[c.Key()] {
				continue
			}
			r.seenChunks[c.Key()] = true
			r.evidence = append(r.evidence, c)
		}
		return
	}
	r.agentResults = append(r.agentResults, *result)
}

// collected returns copies of the accumulated evidence and agent results.
func (r *agentRunner) collected() ([]models.EvidenceChunk, []models.StepResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.EvidenceChunk(nil), r.evidence...),
		append([]models.StepResult(nil), r.agentResults...)
}
