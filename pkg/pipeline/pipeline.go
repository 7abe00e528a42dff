package pipeline

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/veritas-engine/veritas/pkg/budget"
	"github.com/veritas-engine/veritas/pkg/errkind"
	"github.com/veritas-engine/veritas/pkg/models"
	"github.com/veritas-engine/veritas/pkg/store"
	"github.com/veritas-engine/veritas/pkg/streaming"
	"github.com/veritas-engine/veritas/pkg/synthesis"
)

// Pipeline is one request's orchestration instance. It holds references to
// shared resources through the factory and exclusive ownership of its plan
// until a terminal status.
type Pipeline struct {
	factory *Factory
	req     *models.QueryRequest
	stream  *streaming.Channel
	exec    *Executor
	logger  *slog.Logger

	plan    *models.ResearchPlan
	history models.BudgetHistory
	answer  *models.Answer
}

// Plan returns the pipeline's plan once Run has built it.
func (p *Pipeline) Plan() *models.ResearchPlan { return p.plan }

// Pause stops launching new steps.
func (p *Pipeline) Pause() { p.exec.Pause() }

// Resume re-enters the scheduling loop.
func (p *Pipeline) Resume() { p.exec.Resume() }

// Cancel aborts the run within the configured grace period.
func (p *Pipeline) Cancel() { p.exec.Cancel() }

// Cleanup tears down the pipeline's request-scoped state. Shared resources
// are untouched.
func (p *Pipeline) Cleanup() {
	if p.plan != nil {
		p.factory.forget(p.plan.PlanID)
	}
	if p.stream != nil {
		p.factory.hub.Release(p.req.RequestID)
	}
}

// Run executes the full request: intent, budget, plan, DAG, synthesis. The
// answer is returned and, for streaming requests, mirrored on the event
// channel.
func (p *Pipeline) Run(ctx context.Context) (*models.Answer, error) {
	start := time.Now()
	f := p.factory

	rec := f.analyzer.Analyze(ctx, p.req.QueryText)

	initial := f.calculator.Calculate(budget.Input{
		Stage:          models.BudgetStageInitial,
		Intent:         rec,
		UserPreference: p.req.UserPreference,
	})
	p.history.Append(initial)

	// Blank input still gets a budgeted answer; the clamp floor applies.
	if strings.TrimSpace(p.req.QueryText) == "" {
		return p.emptyQueryAnswer(ctx, rec, start)
	}

	// The model must resolve before any step runs; an unknown model is the
	// caller's error, not a mid-plan failure.
	spec, err := f.models.Resolve(p.req.Model)
	if err != nil {
		return nil, err
	}

	plan, steps := BuildPlan(p.req, rec)
	if err := ValidateSteps(steps); err != nil {
		return nil, err
	}
	p.plan = plan
	f.remember(plan.PlanID, p)

	persistCtx := context.WithoutCancel(ctx)
	if err := f.store.SavePlan(persistCtx, plan, store.BestEffort); err != nil {
		p.logger.Warn("Plan not persisted at creation", "plan_id", plan.PlanID, "error", err)
	}
	for i := range steps {
		if err := f.store.SaveStep(persistCtx, &steps[i], store.BestEffort); err != nil {
			p.logger.Warn("Step not persisted at creation",
				"plan_id", plan.PlanID, "step_id", steps[i].StepID, "error", err)
		}
	}

	runner := newAgentRunner(
		f.router, f.registry, plan, rec, p.req.QueryText, initial.Allocated,
		p.synthesisFunc(rec, spec), p.logger,
	)

	outcome, err := p.exec.Execute(ctx, plan, steps, runner)
	if err != nil {
		return nil, err
	}

	switch outcome.Status {
	case models.PlanStatusCompleted:
		if p.answer == nil {
			return nil, errkind.New(errkind.KindInternal, "plan completed without an answer")
		}
		p.emitMetadata(ctx, rec, start)
		return p.answer, nil
	case models.PlanStatusCancelled:
		err := errkind.New(errkind.KindCancelled, "plan cancelled")
		p.emitError(ctx, err, "")
		return nil, err
	default:
		err := p.firstStepError(outcome)
		p.emitError(ctx, err, "")
		return nil, err
	}
}

// synthesisFunc builds the closure the runner invokes for the synthesis
// step: post-retrieval budget, window fit, synthesis, final snapshot.
func (p *Pipeline) synthesisFunc(rec *models.IntentRecord, spec models.ModelSpec) SynthesisFunc {
	f := p.factory
	return func(ctx context.Context, step *models.PlanStep, evidence []models.EvidenceChunk, results []models.StepResult) (*models.StepResult, error) {
		confidence := meanConfidence(results)
		post := f.calculator.Calculate(budget.Input{
			Stage:          models.BudgetStagePostRetrieval,
			Intent:         rec,
			ChunkCount:     len(evidence),
			SourceKinds:    distinctSources(evidence),
			AgentCount:     len(results),
			UserPreference: p.req.UserPreference,
			ConfidenceHint: confidence,
		})
		p.history.Append(post)

		fit := f.window.Fit(&budget.FitRequest{
			Model:        spec,
			Requested:    post.Allocated,
			System:       synthesis.SystemPrompt(p.plan.QueryLanguage),
			User:         p.req.QueryText,
			Chunks:       evidence,
			AgentResults: results,
		})

		final := post
		final.Stage = models.BudgetStageFinal
		if fit.Granted < final.Allocated {
			final.Allocated = fit.Granted
		}
		p.history.Append(final)
		p.history.Overflow = fit.Decision

		answer, err := f.synthesizer.Synthesize(ctx, &synthesis.Input{
			RequestID:    p.req.RequestID,
			PlanID:       p.plan.PlanID,
			Query:        p.req.QueryText,
			Language:     p.plan.QueryLanguage,
			Intent:       rec,
			Evidence:     fit.Chunks,
			AgentResults: fit.AgentResults,
			Budget:       final,
			Overflow:     fit.Decision,
			Model:        spec.ModelName,
			Temperature:  p.req.Temperature,
			Stream:       p.stream,
			Part:         1,
			TotalParts:   fit.Parts,
		})
		if err != nil {
			return nil, err
		}
		p.answer = answer

		data, merr := json.Marshal(answer)
		if merr != nil {
			return nil, errkind.Wrap(errkind.KindInternal, "encode answer", merr)
		}
		return &models.StepResult{
			PlanID:     step.PlanID,
			StepID:     step.StepID,
			ResultData: data,
			Summary:    "Antwort mit " + formatCitationCount(len(answer.Sources)),
			Confidence: answerConfidence(results),
			Quality:    qualityOf(fit),
		}, nil
	}
}

// emptyQueryAnswer is the short-circuit for blank input: a canned prompt to
// specify the question, no plan, no retrieval.
func (p *Pipeline) emptyQueryAnswer(ctx context.Context, rec *models.IntentRecord, start time.Time) (*models.Answer, error) {
	content := "Bitte präzisieren Sie Ihre Frage, damit eine Recherche möglich ist."
	if p.req.QueryLanguage != "" && p.req.QueryLanguage != "de" {
		content = "Please specify your question so a research run can start."
	}
	answer := &models.Answer{
		RequestID: p.req.RequestID,
		Content:   content,
		Sources:   []models.Citation{},
		Metadata: models.AnswerMetadata{
			Intent:          rec.IntentClass,
			Complexity:      rec.ComplexityScore,
			DurationMS:      time.Since(start).Milliseconds(),
			AllocatedTokens: p.history.Latest().Allocated,
			Breakdown:       p.history.Latest(),
		},
	}
	if p.stream != nil {
		if err := p.stream.Publish(ctx, streaming.TextChunkPayload{Content: content}); err != nil {
			return nil, err
		}
		p.emitMetadata(ctx, rec, start)
	}
	p.answer = answer
	return answer, nil
}

func (p *Pipeline) emitMetadata(ctx context.Context, rec *models.IntentRecord, start time.Time) {
	if p.stream == nil {
		return
	}
	payload := streaming.MetadataPayload{
		Intent:          string(rec.IntentClass),
		Complexity:      rec.ComplexityScore,
		DurationMS:      time.Since(start).Milliseconds(),
		AllocatedTokens: p.history.Latest().Allocated,
		Budget:          &p.history,
	}
	if p.plan != nil {
		payload.PlanID = p.plan.PlanID
	}
	if p.answer != nil {
		payload.Model = p.answer.Metadata.Model
	}
	if err := p.stream.Publish(ctx, payload); err != nil {
		p.logger.Warn("Metadata event not delivered", "request_id", p.req.RequestID, "error", err)
	}
}

func (p *Pipeline) emitError(ctx context.Context, err error, stepID string) {
	if p.stream == nil || err == nil {
		return
	}
	payload := streaming.ErrorPayload{
		Kind:    string(errkind.KindOf(err)),
		Message: err.Error(),
		StepID:  stepID,
	}
	if perr := p.stream.Publish(ctx, payload); perr != nil {
		p.logger.Warn("Error event not delivered", "request_id", p.req.RequestID, "error", perr)
	}
}

// firstStepError surfaces the first failed step's error as the plan error.
func (p *Pipeline) firstStepError(outcome *Outcome) error {
	for _, s := range outcome.Steps {
		if s.Status == models.StepStatusFailed && s.Error != "" {
			return errkind.Newf(errkind.KindInternal, "plan failed at step %s: %s", s.StepID, s.Error)
		}
	}
	return errkind.New(errkind.KindInternal, "plan failed")
}

func meanConfidence(results []models.StepResult) *float64 {
	if len(results) == 0 {
		return nil
	}
	sum := 0.0
	for _, r := range results {
		sum += r.Confidence
	}
	mean := sum / float64(len(results))
	return &mean
}

func distinctSources(chunks []models.EvidenceChunk) int {
	seen := make(map[models.RetrievalSource]bool, 3)
	for _, c := range chunks {
		if c.Source.IsValid() {
			seen[c.Source] = true
		}
	}
	return len(seen)
}

func answerConfidence(results []models.StepResult) float64 {
	if c := meanConfidence(results); c != nil {
		return *c
	}
	return 0.5
}

func qualityOf(fit *budget.FitResult) float64 {
	if fit.Decision == nil {
		return 1.0
	}
	return fit.Decision.QualityFactor
}

func formatCitationCount(n int) string {
	if n == 1 {
		return "1 Quelle"
	}
	return strconv.Itoa(n) + " Quellen"
}
