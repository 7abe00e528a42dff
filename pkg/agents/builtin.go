package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/veritas-engine/veritas/pkg/config"
	"github.com/veritas-engine/veritas/pkg/errkind"
	"github.com/veritas-engine/veritas/pkg/llm"
	"github.com/veritas-engine/veritas/pkg/models"
	"github.com/veritas-engine/veritas/pkg/retrieval"
)

// EvidenceRetriever is the retrieval dependency injected into agents.
// Agents never reach a global; everything arrives through construction.
type EvidenceRetriever interface {
	Retrieve(ctx context.Context, req *retrieval.Request) (*retrieval.Result, error)
}

// agentTopK is how many chunks a retrieval agent pulls per step.
const agentTopK = 10

// RetrievalAgent serves search/retrieval steps by querying the hybrid
// retriever, scoped to its domain.
type RetrievalAgent struct {
	desc      Description
	retriever EvidenceRetriever
}

// NewRetrievalAgent builds a domain-scoped retrieval agent.
func NewRetrievalAgent(desc Description, retriever EvidenceRetriever) *RetrievalAgent {
	return &RetrievalAgent{desc: desc, retriever: retriever}
}

func (a *RetrievalAgent) Describe() Description { return a.desc }

// Health verifies the retrieval dependency is wired.
func (a *RetrievalAgent) Health(context.Context) error {
	if a.retriever == nil {
		return errkind.New(errkind.KindResourceUnavailable, "retriever not configured")
	}
	return nil
}

// Execute retrieves evidence for the step's query.
func (a *RetrievalAgent) Execute(ctx context.Context, in *ExecutionInput) (*models.StepResult, error) {
	filters := retrieval.Filters{}
	if a.desc.Domain != "" && a.desc.Domain != "allgemein" {
		filters.Domain = a.desc.Domain
	}

	res, err := a.retriever.Retrieve(ctx, &retrieval.Request{
		Query:   in.Query,
		TopK:    agentTopK,
		Filters: filters,
	})
	if err != nil {
		return nil, err
	}

	data, err := json.Marshal(struct {
		Chunks   []models.EvidenceChunk            `json:"chunks"`
		Degraded map[models.RetrievalSource]string `json:"degraded,omitempty"`
	}{res.Chunks, res.Degraded})
	if err != nil {
		return nil, err
	}

	result := &models.StepResult{
		PlanID:     in.Step.PlanID,
		StepID:     in.Step.StepID,
		AgentID:    a.desc.ID,
		ResultData: data,
		Summary:    fmt.Sprintf("%d chunks retrieved", len(res.Chunks)),
		Confidence: retrievalConfidence(res.Chunks),
		Quality:    retrievalQuality(res),
		Sources:    chunkSources(res.Chunks),
	}
	return result, nil
}

// retrievalConfidence is the mean confidence of the top three chunks.
func retrievalConfidence(chunks []models.EvidenceChunk) float64 {
	if len(chunks) == 0 {
		return 0
	}
	n := len(chunks)
	if n > 3 {
		n = 3
	}
	var sum float64
	for _, c := range chunks[:n] {
		sum += c.Confidence
	}
	return sum / float64(n)
}

// retrievalQuality degrades with every backend that failed this request.
func retrievalQuality(res *retrieval.Result) float64 {
	q := 1.0
	for range res.Degraded {
		q -= 0.2
	}
	if q < 0.2 {
		q = 0.2
	}
	return q
}

func chunkSources(chunks []models.EvidenceChunk) []models.SourceRef {
	out := make([]models.SourceRef, 0, len(chunks))
	seen := make(map[string]bool)
	for _, c := range chunks {
		if seen[c.DocumentID] {
			continue
		}
		seen[c.DocumentID] = true
		out = append(out, models.SourceRef{
			DocumentID: c.DocumentID,
			ChunkID:    c.ChunkID,
			Title:      c.Metadata.Title,
			URL:        c.Metadata.URL,
		})
	}
	return out
}

// AnalysisAgent serves analysis/comparison/validation steps with one LLM
// call over the step's evidence and dependency results.
type AnalysisAgent struct {
	desc   Description
	client llm.Client
	model  string
}

// NewAnalysisAgent builds an LLM-backed analysis agent.
func NewAnalysisAgent(desc Description, client llm.Client, model string) *AnalysisAgent {
	return &AnalysisAgent{desc: desc, client: client, model: model}
}

func (a *AnalysisAgent) Describe() Description { return a.desc }

// Health verifies the LLM dependency is wired.
func (a *AnalysisAgent) Health(context.Context) error {
	if a.client == nil {
		return errkind.New(errkind.KindResourceUnavailable, "llm client not configured")
	}
	return nil
}

const analysisSystemPrompt = `Du bist ein Fachanalyst für deutsches Verwaltungs-, Bau- und Umweltrecht.
Analysiere die Belege und Vorarbeiten zur gestellten Aufgabe.
Nenne Kernaussagen mit Verweis auf die Beleg-IDs in eckigen Klammern, z.B. [doc-1/c2].`

// Execute runs one analysis completion capped to the budget hint.
func (a *AnalysisAgent) Execute(ctx context.Context, in *ExecutionInput) (*models.StepResult, error) {
	maxTokens := in.BudgetHint
	if a.desc.MaxOutputTokens > 0 && (maxTokens == 0 || maxTokens > a.desc.MaxOutputTokens) {
		maxTokens = a.desc.MaxOutputTokens
	}

	out, err := a.client.Complete(ctx, &llm.GenerateInput{
		Model:           a.model,
		MaxOutputTokens: maxTokens,
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: analysisSystemPrompt},
			{Role: llm.RoleUser, Content: buildAnalysisPrompt(in)},
		},
	})
	if err != nil {
		return nil, err
	}

	data, err := json.Marshal(struct {
		Analysis string `json:"analysis"`
	}{out.Text})
	if err != nil {
		return nil, err
	}

	return &models.StepResult{
		PlanID:     in.Step.PlanID,
		StepID:     in.Step.StepID,
		AgentID:    a.desc.ID,
		ResultData: data,
		Summary:    firstLine(out.Text),
		Confidence: analysisConfidence(in),
		Quality:    0.9,
		Sources:    chunkSources(in.Evidence),
	}, nil
}

func buildAnalysisPrompt(in *ExecutionInput) string {
	var b strings.Builder
	b.WriteString("Aufgabe: ")
	b.WriteString(in.Query)
	b.WriteString("\n")

	if len(in.Evidence) > 0 {
		b.WriteString("\nBelege:\n")
		for _, c := range in.Evidence {
			fmt.Fprintf(&b, "[%s/%s] %s\n", c.DocumentID, c.ChunkID, c.Content)
		}
	}
	if len(in.PriorResults) > 0 {
		b.WriteString("\nVorarbeiten:\n")
		for stepID, r := range in.PriorResults {
			if r.Summary != "" {
				fmt.Fprintf(&b, "- %s: %s\n", stepID, r.Summary)
			}
		}
	}
	return b.String()
}

// analysisConfidence scales with available evidence; analysis without any
// grounding is flagged low.
func analysisConfidence(in *ExecutionInput) float64 {
	n := len(in.Evidence)
	switch {
	case n == 0:
		return 0.4
	case n < 3:
		return 0.7
	default:
		return 0.85
	}
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	if len(s) > 200 {
		s = s[:200]
	}
	return s
}

// BuildBuiltins instantiates the configured agent set. Agents whose
// capability set includes retrieval or search become retrieval agents; the
// rest run analysis through the LLM.
func BuildBuiltins(reg *config.AgentConfigRegistry, retriever EvidenceRetriever, client llm.Client, model string) []Agent {
	var out []Agent
	for _, name := range reg.Names() {
		cfg, err := reg.Get(name)
		if err != nil || cfg.Disabled {
			continue
		}
		desc := Description{
			ID:              name,
			Domain:          cfg.Domain,
			Capabilities:    cfg.Capabilities,
			Clearance:       clearanceOf(cfg),
			MaxOutputTokens: cfg.MaxOutputTokens,
		}
		if desc.HasCapability("retrieval") || desc.HasCapability("search") {
			out = append(out, NewRetrievalAgent(desc, retriever))
		} else {
			out = append(out, NewAnalysisAgent(desc, client, model))
		}
	}
	return out
}

func clearanceOf(cfg config.AgentConfig) models.SecurityLevel {
	level := models.SecurityLevel(cfg.Clearance)
	if !level.IsValid() {
		return models.SecurityInternal
	}
	return level
}
