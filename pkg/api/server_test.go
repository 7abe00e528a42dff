package api

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veritas-engine/veritas/pkg/agents"
	"github.com/veritas-engine/veritas/pkg/budget"
	"github.com/veritas-engine/veritas/pkg/config"
	"github.com/veritas-engine/veritas/pkg/intent"
	"github.com/veritas-engine/veritas/pkg/llm"
	"github.com/veritas-engine/veritas/pkg/models"
	"github.com/veritas-engine/veritas/pkg/pipeline"
	"github.com/veritas-engine/veritas/pkg/store"
	"github.com/veritas-engine/veritas/pkg/streaming"
	"github.com/veritas-engine/veritas/pkg/synthesis"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// memStore is a minimal in-memory Store for handler tests.
type memStore struct {
	mu      sync.Mutex
	plans   map[string]models.ResearchPlan
	steps   map[string][]models.PlanStep
	results map[string][]models.StepResult
	log     map[string][]models.ExecutionLogEntry
}

func newMemStore() *memStore {
	return &memStore{
		plans:   make(map[string]models.ResearchPlan),
		steps:   make(map[string][]models.PlanStep),
		results: make(map[string][]models.StepResult),
		log:     make(map[string][]models.ExecutionLogEntry),
	}
}

func (s *memStore) SavePlan(_ context.Context, plan *models.ResearchPlan, _ store.Consistency) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.plans[plan.PlanID] = *plan
	return nil
}

func (s *memStore) GetPlan(_ context.Context, planID string) (*models.ResearchPlan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.plans[planID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &p, nil
}

func (s *memStore) ListPlans(_ context.Context, filters models.PlanFilters) ([]models.ResearchPlan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.ResearchPlan, 0, len(s.plans))
	for _, p := range s.plans {
		if filters.Status != "" && string(p.Status) != filters.Status {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

func (s *memStore) SaveStep(_ context.Context, step *models.PlanStep, _ store.Consistency) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, existing := range s.steps[step.PlanID] {
		if existing.StepID == step.StepID {
			s.steps[step.PlanID][i] = *step
			return nil
		}
	}
	s.steps[step.PlanID] = append(s.steps[step.PlanID], *step)
	return nil
}

func (s *memStore) GetSteps(_ context.Context, planID string) ([]models.PlanStep, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.PlanStep(nil), s.steps[planID]...), nil
}

func (s *memStore) SaveStepResult(_ context.Context, result *models.StepResult, _ store.Consistency) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, existing := range s.results[result.PlanID] {
		if existing.StepID == result.StepID {
			s.results[result.PlanID][i] = *result
			return nil
		}
	}
	s.results[result.PlanID] = append(s.results[result.PlanID], *result)
	return nil
}

func (s *memStore) GetStepResults(_ context.Context, planID string) ([]models.StepResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.StepResult(nil), s.results[planID]...), nil
}

func (s *memStore) AppendLog(_ context.Context, entry *models.ExecutionLogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.log[entry.PlanID] = append(s.log[entry.PlanID], *entry)
	return nil
}

func (s *memStore) GetLog(_ context.Context, planID string) ([]models.ExecutionLogEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.ExecutionLogEntry(nil), s.log[planID]...), nil
}

func (s *memStore) Close() error { return nil }

// apiLLM streams one canned cited sentence.
type apiLLM struct{}

func (apiLLM) Generate(_ context.Context, _ *llm.GenerateInput) (<-chan llm.Chunk, error) {
	out := make(chan llm.Chunk, 1)
	out <- &llm.TextChunk{Content: "Maßgeblich ist die Wandhöhe {cite:E1}."}
	close(out)
	return out, nil
}

func (apiLLM) Complete(_ context.Context, _ *llm.GenerateInput) (*llm.Completion, error) {
	return nil, nil
}

func (apiLLM) ListModels(_ context.Context) ([]string, error) {
	return []string{"qwen2.5:14b"}, nil
}

func (apiLLM) Close() error { return nil }

// apiAgent serves retrieval and analysis steps with fixed output.
type apiAgent struct{}

func (apiAgent) Describe() agents.Description {
	return agents.Description{
		ID:           "agent-api-test",
		Domain:       "baurecht",
		Capabilities: []string{"retrieval", "analysis"},
		Clearance:    models.SecurityConfidential,
	}
}

func (apiAgent) Execute(_ context.Context, in *agents.ExecutionInput) (*models.StepResult, error) {
	chunk := models.EvidenceChunk{
		ChunkID:    "c1",
		DocumentID: "doc-lbo",
		Content:    "Die Tiefe der Abstandsfläche bemisst sich nach der Wandhöhe.",
		Metadata:   models.ChunkMetadata{Title: "LBO BW Kommentar", Tags: []string{"pdf"}, Year: 2023},
		Source:     models.SourceVector,
		FusedScore: 0.9,
		Confidence: 0.9,
	}
	data, _ := json.Marshal(map[string]any{"chunks": []models.EvidenceChunk{chunk}})
	return &models.StepResult{
		PlanID:     in.Step.PlanID,
		StepID:     in.Step.StepID,
		ResultData: data,
		Summary:    "1 Beleg",
		Confidence: 0.9,
		Quality:    0.9,
		AgentID:    "agent-api-test",
	}, nil
}

func (apiAgent) Health(_ context.Context) error { return nil }

func newTestServer(t *testing.T) (*Server, *memStore, *streaming.Hub) {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	registry := agents.NewRegistry()
	registry.Register(apiAgent{})
	modelReg := llm.NewModelRegistry(config.DefaultModelRegistryConfig(), "qwen2.5:14b")
	hub := streaming.NewHub(config.DefaultStreamingConfig())
	st := newMemStore()
	budgetCfg := config.DefaultBudgetConfig()

	factory := pipeline.NewFactory(pipeline.Deps{
		Analyzer:    intent.NewAnalyzer(config.DefaultDomainConfig()),
		Calculator:  budget.NewCalculator(budgetCfg),
		Window:      budget.NewWindowManager(budgetCfg),
		Registry:    registry,
		Router:      agents.NewRouter(registry),
		Synthesizer: synthesis.NewSynthesizer(apiLLM{}, logger),
		Store:       st,
		Models:      modelReg,
		Hub:         hub,
		Config:      config.DefaultPipelineConfig(),
		Logger:      logger,
	})
	return NewServer(factory, st, hub, registry, modelReg, logger), st, hub
}

func TestSubmitQuery_SynchronousAnswer(t *testing.T) {
	server, st, _ := newTestServer(t)
	router := server.Handler()

	body := `{"query_text": "Welche Abstandsflächen verlangt die LBO?"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/queries", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var answer models.Answer
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &answer))
	assert.Contains(t, answer.Content, "[1]")
	require.Len(t, answer.Sources, 1)
	assert.Equal(t, "doc-lbo", answer.Sources[0].DocumentID)

	plans, err := st.ListPlans(context.Background(), models.PlanFilters{})
	require.NoError(t, err)
	require.Len(t, plans, 1)
	assert.Equal(t, models.PlanStatusCompleted, plans[0].Status)
}

func TestSubmitQuery_RejectsMalformedBody(t *testing.T) {
	server, _, _ := newTestServer(t)
	router := server.Handler()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/queries", strings.NewReader("{not json"))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSubmitQuery_UnknownModelMapsToBadRequest(t *testing.T) {
	server, _, _ := newTestServer(t)
	router := server.Handler()

	body := `{"query_text": "Was regelt die LBO?", "model": "does-not-exist"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/queries", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "does-not-exist")
}

func TestSubmitQuery_StreamingReturnsAccepted(t *testing.T) {
	server, _, _ := newTestServer(t)
	router := server.Handler()

	body := `{"query_text": "Wie tief muss die Abstandsfläche sein?", "stream": true}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/queries", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(requestIDHeader, "req-stream-1")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)
	var resp struct {
		RequestID string `json:"request_id"`
		Stream    string `json:"stream"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "req-stream-1", resp.RequestID)
	assert.Equal(t, "/api/v1/queries/req-stream-1/stream", resp.Stream)
}

func TestStream_DeliversNDJSONLines(t *testing.T) {
	server, _, hub := newTestServer(t)
	router := server.Handler()

	channel := hub.Open("req-ndjson")
	require.NoError(t, channel.Publish(context.Background(), streaming.StatusPayload{
		PlanID: "plan-1", Status: "running",
	}))
	require.NoError(t, channel.Publish(context.Background(), streaming.TextChunkPayload{
		Content: "Welt",
	}))
	go func() {
		time.Sleep(20 * time.Millisecond)
		hub.Release("req-ndjson")
	}()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/queries/req-ndjson/stream", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/x-ndjson", rec.Header().Get("Content-Type"))

	scanner := bufio.NewScanner(rec.Body)
	var lines []map[string]any
	for scanner.Scan() {
		var line map[string]any
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &line))
		lines = append(lines, line)
	}
	require.Len(t, lines, 2)
	assert.Equal(t, "status", lines[0]["type"])
	assert.Equal(t, float64(1), lines[0]["seq"])
	assert.Equal(t, "text_chunk", lines[1]["type"])
	assert.Equal(t, "Welt", lines[1]["content"])
}

func TestStream_UnknownRequestIs404(t *testing.T) {
	server, _, _ := newTestServer(t)
	router := server.Handler()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/queries/unknown/stream", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetPlan_ReturnsStatusView(t *testing.T) {
	server, st, _ := newTestServer(t)
	router := server.Handler()

	ctx := context.Background()
	require.NoError(t, st.SavePlan(ctx, &models.ResearchPlan{
		PlanID:             "plan-view",
		Status:             models.PlanStatusCompleted,
		ProgressPercentage: 100,
	}, store.BestEffort))
	require.NoError(t, st.SaveStep(ctx, &models.PlanStep{
		PlanID: "plan-view", StepID: "s1", Name: "Recherche baurecht",
		Status: models.StepStatusCompleted, Confidence: 0.9,
	}, store.BestEffort))
	require.NoError(t, st.SaveStepResult(ctx, &models.StepResult{
		PlanID: "plan-view", StepID: "s1", AgentID: "agent-api-test",
	}, store.BestEffort))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/plans/plan-view", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var view models.PlanStatusView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	assert.Equal(t, models.PlanStatusCompleted, view.Status)
	require.Len(t, view.Steps, 1)
	assert.Equal(t, "agent-api-test", view.Steps[0].Agent)
	assert.Equal(t, "Recherche baurecht", view.Steps[0].Name)
}

func TestGetPlan_UnknownIs404(t *testing.T) {
	server, _, _ := newTestServer(t)
	router := server.Handler()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/plans/missing", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListPlans_RejectsInvalidLimit(t *testing.T) {
	server, _, _ := newTestServer(t)
	router := server.Handler()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/plans?limit=abc", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCancelPlan_NotRunningIsConflict(t *testing.T) {
	server, st, _ := newTestServer(t)
	router := server.Handler()

	require.NoError(t, st.SavePlan(context.Background(), &models.ResearchPlan{
		PlanID: "plan-done",
		Status: models.PlanStatusCompleted,
	}, store.BestEffort))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/plans/plan-done/cancel", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestCancelPlan_UnknownIs404(t *testing.T) {
	server, _, _ := newTestServer(t)
	router := server.Handler()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/plans/missing/cancel", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCapabilities_ListsAgentsAndModels(t *testing.T) {
	server, _, _ := newTestServer(t)
	router := server.Handler()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/capabilities", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Agents []agentView        `json:"agents"`
		Models []models.ModelSpec `json:"models"`
		Def    string             `json:"default_model"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Agents, 1)
	assert.Equal(t, "agent-api-test", resp.Agents[0].ID)
	assert.Contains(t, resp.Agents[0].Capabilities, "retrieval")
	assert.NotEmpty(t, resp.Models)
	assert.Equal(t, "qwen2.5:14b", resp.Def)
}

func TestHealthAndReadiness(t *testing.T) {
	server, _, _ := newTestServer(t)
	router := server.Handler()

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	// memStore has no primary database; readiness passes without one.
	req = httptest.NewRequest(http.MethodGet, "/readyz", nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ready"`)
}

func TestRequestIDHeaderIsEchoed(t *testing.T) {
	server, _, _ := newTestServer(t)
	router := server.Handler()

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(requestIDHeader, "fixed-id")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, "fixed-id", rec.Header().Get(requestIDHeader))
}
