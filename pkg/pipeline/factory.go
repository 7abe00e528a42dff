package pipeline

import (
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/veritas-engine/veritas/pkg/agents"
	"github.com/veritas-engine/veritas/pkg/budget"
	"github.com/veritas-engine/veritas/pkg/config"
	"github.com/veritas-engine/veritas/pkg/intent"
	"github.com/veritas-engine/veritas/pkg/llm"
	"github.com/veritas-engine/veritas/pkg/models"
	"github.com/veritas-engine/veritas/pkg/store"
	"github.com/veritas-engine/veritas/pkg/streaming"
	"github.com/veritas-engine/veritas/pkg/synthesis"
)

// Deps bundles the shared engine components a factory hands to every
// pipeline it creates.
type Deps struct {
	Analyzer    *intent.Analyzer
	Calculator  *budget.Calculator
	Window      *budget.WindowManager
	Registry    *agents.Registry
	Router      *agents.Router
	Synthesizer *synthesis.Synthesizer
	Store       store.Store
	Models      *llm.ModelRegistry
	Hub         *streaming.Hub
	Config      *config.PipelineConfig
	Logger      *slog.Logger
}

// Factory creates pipelines over shared components and tracks the active
// ones so lifecycle operations can reach a running plan by ID.
type Factory struct {
	analyzer    *intent.Analyzer
	calculator  *budget.Calculator
	window      *budget.WindowManager
	registry    *agents.Registry
	router      *agents.Router
	synthesizer *synthesis.Synthesizer
	store       store.Store
	models      *llm.ModelRegistry
	hub         *streaming.Hub
	cfg         *config.PipelineConfig
	logger      *slog.Logger

	mu     sync.RWMutex
	active map[string]*Pipeline // plan ID -> running pipeline
}

// NewFactory builds a factory over the shared components.
func NewFactory(deps Deps) *Factory {
	return &Factory{
		analyzer:    deps.Analyzer,
		calculator:  deps.Calculator,
		window:      deps.Window,
		registry:    deps.Registry,
		router:      deps.Router,
		synthesizer: deps.Synthesizer,
		store:       deps.Store,
		models:      deps.Models,
		hub:         deps.Hub,
		cfg:         deps.Config,
		logger:      deps.Logger,
		active:      make(map[string]*Pipeline),
	}
}

// CreatePipeline prepares a pipeline for one request. A missing request ID
// is assigned here; streaming requests get their event channel opened so the
// NDJSON endpoint can attach before the run produces events.
func (f *Factory) CreatePipeline(req *models.QueryRequest) *Pipeline {
	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}
	var stream *streaming.Channel
	if req.Stream {
		stream = f.hub.Open(req.RequestID)
	}
	logger := f.logger.With("request_id", req.RequestID)
	return &Pipeline{
		factory: f,
		req:     req,
		stream:  stream,
		exec:    NewExecutor(f.cfg, f.store, stream, logger),
		logger:  logger,
	}
}

// Lookup returns the active pipeline for a plan, if it is still running.
func (f *Factory) Lookup(planID string) (*Pipeline, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	p, ok := f.active[planID]
	return p, ok
}

// ActiveCount returns the number of plans currently executing.
func (f *Factory) ActiveCount() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.active)
}

func (f *Factory) remember(planID string, p *Pipeline) {
	f.mu.Lock()
	f.active[planID] = p
	f.mu.Unlock()
}

func (f *Factory) forget(planID string) {
	f.mu.Lock()
	delete(f.active, planID)
	f.mu.Unlock()
}
