package agents

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veritas-engine/veritas/pkg/config"
	"github.com/veritas-engine/veritas/pkg/llm"
	"github.com/veritas-engine/veritas/pkg/models"
	"github.com/veritas-engine/veritas/pkg/retrieval"
)

type fakeRetriever struct {
	result *retrieval.Result
	err    error

	lastRequest *retrieval.Request
}

func (f *fakeRetriever) Retrieve(_ context.Context, req *retrieval.Request) (*retrieval.Result, error) {
	f.lastRequest = req
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

type recordingLLM struct {
	text string
	err  error

	lastInput *llm.GenerateInput
}

func (r *recordingLLM) Generate(context.Context, *llm.GenerateInput) (<-chan llm.Chunk, error) {
	return nil, errors.New("not implemented")
}

func (r *recordingLLM) Complete(_ context.Context, in *llm.GenerateInput) (*llm.Completion, error) {
	r.lastInput = in
	if r.err != nil {
		return nil, r.err
	}
	return &llm.Completion{Text: r.text}, nil
}

func (r *recordingLLM) ListModels(context.Context) ([]string, error) { return nil, nil }
func (r *recordingLLM) Close() error                                 { return nil }

func testStep() *models.PlanStep {
	return &models.PlanStep{PlanID: "p1", StepID: "s1", Type: models.StepTypeRetrieval}
}

func TestRetrievalAgentExecute(t *testing.T) {
	retr := &fakeRetriever{result: &retrieval.Result{
		Chunks: []models.EvidenceChunk{
			{DocumentID: "d1", ChunkID: "c1", Confidence: 1.0, Metadata: models.ChunkMetadata{Title: "LBO Kommentar"}},
			{DocumentID: "d1", ChunkID: "c2", Confidence: 0.8},
			{DocumentID: "d2", ChunkID: "c1", Confidence: 0.6},
		},
	}}
	agent := NewRetrievalAgent(Description{ID: "baurecht-agent", Domain: "baurecht"}, retr)

	res, err := agent.Execute(context.Background(), &ExecutionInput{
		Query: "Abstandsflächen bei Grenzbebauung",
		Step:  testStep(),
	})
	require.NoError(t, err)

	assert.Equal(t, "baurecht", retr.lastRequest.Filters.Domain, "agent scopes retrieval to its domain")
	assert.Equal(t, "baurecht-agent", res.AgentID)
	assert.InDelta(t, 0.8, res.Confidence, 1e-9, "mean of top three chunk confidences")
	assert.InDelta(t, 1.0, res.Quality, 1e-9)
	// Sources deduplicate by document.
	require.Len(t, res.Sources, 2)
	assert.Equal(t, "LBO Kommentar", res.Sources[0].Title)
}

func TestRetrievalAgentQualityDegrades(t *testing.T) {
	retr := &fakeRetriever{result: &retrieval.Result{
		Chunks:   []models.EvidenceChunk{{DocumentID: "d1", ChunkID: "c1", Confidence: 0.9}},
		Degraded: map[models.RetrievalSource]string{models.SourceVector: "down"},
	}}
	agent := NewRetrievalAgent(Description{ID: "a", Domain: "allgemein"}, retr)

	res, err := agent.Execute(context.Background(), &ExecutionInput{Query: "q", Step: testStep()})
	require.NoError(t, err)
	assert.Empty(t, retr.lastRequest.Filters.Domain, "the general agent searches the whole corpus")
	assert.InDelta(t, 0.8, res.Quality, 1e-9)
}

func TestAnalysisAgentCapsOutputTokens(t *testing.T) {
	client := &recordingLLM{text: "Kernaussage.\nDetails folgen."}
	agent := NewAnalysisAgent(Description{ID: "analysis-agent", MaxOutputTokens: 512}, client, "qwen2.5:14b")

	res, err := agent.Execute(context.Background(), &ExecutionInput{
		Query:      "Vergleiche die Bescheide",
		Step:       testStep(),
		BudgetHint: 2000,
		Evidence: []models.EvidenceChunk{
			{DocumentID: "d1", ChunkID: "c1", Content: "Bescheid A"},
			{DocumentID: "d2", ChunkID: "c1", Content: "Bescheid B"},
			{DocumentID: "d3", ChunkID: "c1", Content: "Bescheid C"},
		},
	})
	require.NoError(t, err)

	assert.Equal(t, 512, client.lastInput.MaxOutputTokens, "agent cap wins over a larger budget hint")
	assert.Equal(t, "qwen2.5:14b", client.lastInput.Model)
	assert.Equal(t, "Kernaussage.", res.Summary)
	assert.InDelta(t, 0.85, res.Confidence, 1e-9)
}

func TestAnalysisAgentLowConfidenceWithoutEvidence(t *testing.T) {
	client := &recordingLLM{text: "Ohne Belege nur allgemeine Aussagen."}
	agent := NewAnalysisAgent(Description{ID: "analysis-agent"}, client, "")

	res, err := agent.Execute(context.Background(), &ExecutionInput{Query: "q", Step: testStep()})
	require.NoError(t, err)
	assert.InDelta(t, 0.4, res.Confidence, 1e-9)
}

func TestAnalysisAgentPromptIncludesPriorResults(t *testing.T) {
	client := &recordingLLM{text: "ok"}
	agent := NewAnalysisAgent(Description{ID: "analysis-agent"}, client, "")

	_, err := agent.Execute(context.Background(), &ExecutionInput{
		Query: "q",
		Step:  testStep(),
		PriorResults: map[string]*models.StepResult{
			"s0": {Summary: "12 chunks retrieved"},
		},
	})
	require.NoError(t, err)
	assert.Contains(t, client.lastInput.Messages[1].Content, "12 chunks retrieved")
}

func TestBuildBuiltinsFromDefaults(t *testing.T) {
	reg := config.NewAgentConfigRegistry(config.DefaultAgents())
	agents := BuildBuiltins(reg, &fakeRetriever{result: &retrieval.Result{}}, &recordingLLM{}, "qwen2.5:14b")
	require.Len(t, agents, 5)

	byID := make(map[string]Agent)
	for _, a := range agents {
		byID[a.Describe().ID] = a
	}
	assert.IsType(t, &RetrievalAgent{}, byID["document-agent"])
	assert.IsType(t, &AnalysisAgent{}, byID["analysis-agent"])
	assert.IsType(t, &RetrievalAgent{}, byID["verwaltungsrecht-agent"])
	assert.Equal(t, models.SecurityInternal, byID["baurecht-agent"].Describe().Clearance)
}
