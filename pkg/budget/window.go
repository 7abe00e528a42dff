package budget

import (
	"log/slog"
	"sort"
	"strings"

	"github.com/veritas-engine/veritas/pkg/config"
	"github.com/veritas-engine/veritas/pkg/models"
)

// minChunksAfterRerank is the evidence floor the rerank strategy will not
// drop below; thinner evidence falls through to summarisation.
const minChunksAfterRerank = 3

// summariseAboveTokens marks a chunk as long enough to be worth summarising.
const summariseAboveTokens = 150

// keepSentences is how many leading sentences a summarised chunk keeps.
const keepSentences = 2

// WindowManager enforces model context limits. When the requested output
// does not fit within the safe window it walks the overflow strategies in
// priority order and records the decision.
type WindowManager struct {
	safetyFactor float64
	rerankMin    int
	minGrant     int
}

// NewWindowManager builds a manager from the budget configuration.
func NewWindowManager(cfg *config.BudgetConfig) *WindowManager {
	return &WindowManager{
		safetyFactor: cfg.SafetyFactor,
		rerankMin:    5,
		minGrant:     cfg.TokenMin,
	}
}

// FitRequest describes one synthesis call to be fitted into the model window.
type FitRequest struct {
	Model     models.ModelSpec
	Requested int // output tokens granted by the budget calculator

	System string
	User   string

	Chunks       []models.EvidenceChunk
	AgentResults []models.StepResult
}

// FitResult is the fitted call. Chunks and AgentResults reflect any
// reductions the chosen strategy applied.
type FitResult struct {
	Granted  int
	Decision *models.OverflowDecision

	Chunks       []models.EvidenceChunk
	AgentResults []models.StepResult

	// Parts is 1 unless the chunked_response strategy split the answer.
	Parts int
}

// Fit returns the largest grant that keeps the call inside the model's safe
// window, reducing the prompt via overflow strategies when necessary.
func (m *WindowManager) Fit(req *FitRequest) *FitResult {
	res := &FitResult{
		Chunks:       append([]models.EvidenceChunk(nil), req.Chunks...),
		AgentResults: append([]models.StepResult(nil), req.AgentResults...),
		Parts:        1,
	}

	promptBefore := m.promptTokens(req.System, req.User, res.Chunks, res.AgentResults)
	safe := req.Model.SafeMaxOutput(promptBefore, m.safetyFactor)
	if req.Requested <= safe {
		res.Granted = req.Requested
		return res
	}

	slog.Debug("Context overflow",
		"model", req.Model.ModelName,
		"requested", req.Requested,
		"safe_output", safe,
		"prompt_tokens", promptBefore)

	// rerank_chunks: drop the weakest evidence first.
	if len(res.Chunks) >= m.rerankMin {
		res.Chunks = m.dropWeakestChunks(req, res.Chunks)
		if dec, ok := m.fitted(req, res, promptBefore, models.OverflowRerankChunks, 0.95); ok {
			res.Decision = dec
			return res
		}
	}

	// summarize_context: shorten what evidence remains.
	res.Chunks = summariseChunks(res.Chunks)
	if dec, ok := m.fitted(req, res, promptBefore, models.OverflowSummarizeContext, 0.80); ok {
		res.Decision = dec
		return res
	}

	// reduce_agents: drop the weakest agent contributions.
	res.AgentResults = m.dropWeakestAgents(req, res)
	if dec, ok := m.fitted(req, res, promptBefore, models.OverflowReduceAgents, 0.85); ok {
		res.Decision = dec
		return res
	}

	// chunked_response: nothing left to cut, split the answer across turns.
	prompt := m.promptTokens(req.System, req.User, res.Chunks, res.AgentResults)
	safe = req.Model.SafeMaxOutput(prompt, m.safetyFactor)
	if safe < 1 {
		safe = 1
	}
	res.Granted = safe
	res.Parts = (req.Requested + safe - 1) / safe
	res.Decision = &models.OverflowDecision{
		Strategy:       models.OverflowChunkedResponse,
		QualityFactor:  1.0,
		TokensSaved:    promptBefore - prompt,
		ResidualBudget: safe,
	}
	return res
}

// fitted checks whether the current reductions achieve a fit and, if so,
// builds the decision record. A strategy that freed real window space but
// still cannot host the full request settles for a reduced grant, as long as
// the remaining window clears the minimum useful output.
func (m *WindowManager) fitted(req *FitRequest, res *FitResult, promptBefore int, strategy models.OverflowStrategy, quality float64) (*models.OverflowDecision, bool) {
	prompt := m.promptTokens(req.System, req.User, res.Chunks, res.AgentResults)
	safe := req.Model.SafeMaxOutput(prompt, m.safetyFactor)
	if req.Requested <= safe {
		res.Granted = req.Requested
		return &models.OverflowDecision{
			Strategy:       strategy,
			QualityFactor:  quality,
			TokensSaved:    promptBefore - prompt,
			ResidualBudget: safe - req.Requested,
		}, true
	}
	if prompt < promptBefore && safe >= m.minGrant {
		res.Granted = safe
		return &models.OverflowDecision{
			Strategy:       strategy,
			QualityFactor:  quality,
			TokensSaved:    promptBefore - prompt,
			ResidualBudget: 0,
		}, true
	}
	return nil, false
}

func (m *WindowManager) promptTokens(system, user string, chunks []models.EvidenceChunk, results []models.StepResult) int {
	total := EstimatePromptTokens(system, user, chunks)
	for _, r := range results {
		total += EstimateTokens(string(r.ResultData))
	}
	return total
}

// dropWeakestChunks removes lowest-scoring chunks until the request fits or
// the evidence floor is reached. Input order (fused rank) is preserved for
// the survivors.
func (m *WindowManager) dropWeakestChunks(req *FitRequest, chunks []models.EvidenceChunk) []models.EvidenceChunk {
	// Index by score ascending so the weakest go first.
	order := make([]int, len(chunks))
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(a, b int) bool {
		return chunks[order[a]].FusedScore < chunks[order[b]].FusedScore
	})

	dropped := make(map[int]bool)
	for _, idx := range order {
		if len(chunks)-len(dropped) <= minChunksAfterRerank {
			break
		}
		dropped[idx] = true
		kept := filterChunks(chunks, dropped)
		prompt := m.promptTokens(req.System, req.User, kept, req.AgentResults)
		if req.Requested <= req.Model.SafeMaxOutput(prompt, m.safetyFactor) {
			break
		}
	}
	return filterChunks(chunks, dropped)
}

func filterChunks(chunks []models.EvidenceChunk, dropped map[int]bool) []models.EvidenceChunk {
	kept := make([]models.EvidenceChunk, 0, len(chunks)-len(dropped))
	for i, c := range chunks {
		if !dropped[i] {
			kept = append(kept, c)
		}
	}
	return kept
}

// summariseChunks replaces long chunk bodies with their leading sentences.
// Rule-based: legal prose fronts the operative statement, so the head of a
// chunk carries most of its signal.
func summariseChunks(chunks []models.EvidenceChunk) []models.EvidenceChunk {
	out := make([]models.EvidenceChunk, len(chunks))
	for i, c := range chunks {
		if EstimateTokens(c.Content) > summariseAboveTokens {
			c.Content = leadingSentences(c.Content, keepSentences)
		}
		out[i] = c
	}
	return out
}

func leadingSentences(s string, n int) string {
	var end, count int
	for i := 0; i < len(s); i++ {
		if s[i] == '.' || s[i] == '!' || s[i] == '?' {
			count++
			end = i + 1
			if count >= n {
				break
			}
		}
	}
	if count == 0 {
		return s
	}
	return strings.TrimSpace(s[:end])
}

// dropWeakestAgents removes agent contributions in ascending
// confidence·quality order, keeping at least one.
func (m *WindowManager) dropWeakestAgents(req *FitRequest, res *FitResult) []models.StepResult {
	results := append([]models.StepResult(nil), res.AgentResults...)
	sort.SliceStable(results, func(a, b int) bool {
		return results[a].Confidence*results[a].Quality > results[b].Confidence*results[b].Quality
	})
	for len(results) > 1 {
		prompt := m.promptTokens(req.System, req.User, res.Chunks, results)
		if req.Requested <= req.Model.SafeMaxOutput(prompt, m.safetyFactor) {
			break
		}
		results = results[:len(results)-1]
	}
	return results
}
