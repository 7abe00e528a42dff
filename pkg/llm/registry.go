package llm

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/veritas-engine/veritas/pkg/config"
	"github.com/veritas-engine/veritas/pkg/errkind"
	"github.com/veritas-engine/veritas/pkg/models"
)

// ModelRegistry holds the model specs the synthesiser may target. Local
// config is the source of truth for context windows; the server's model list
// is cross-referenced at startup so requests for models the server does not
// serve fail early.
type ModelRegistry struct {
	mu        sync.RWMutex
	specs     map[string]models.ModelSpec
	served    map[string]bool // names advertised by the server; nil until synced
	defModel  string
}

// NewModelRegistry builds a registry from configuration.
func NewModelRegistry(cfg *config.ModelRegistryConfig, defaultModel string) *ModelRegistry {
	specs := make(map[string]models.ModelSpec, len(cfg.Models))
	for name, spec := range cfg.Models {
		specs[name] = models.ModelSpec{
			ModelName:     name,
			ContextWindow: spec.ContextWindow,
			Notes:         spec.Notes,
		}
	}
	return &ModelRegistry{specs: specs, defModel: defaultModel}
}

// Sync cross-references the registry against the server's model list.
// A server that cannot be reached leaves the registry usable (local specs
// only); a reachable server narrows Resolve to the intersection.
func (r *ModelRegistry) Sync(ctx context.Context, client Client) {
	names, err := client.ListModels(ctx)
	if err != nil {
		slog.Warn("Model list unavailable, using local registry only", "error", err)
		return
	}
	served := make(map[string]bool, len(names))
	for _, name := range names {
		served[name] = true
	}
	r.mu.Lock()
	r.served = served
	r.mu.Unlock()

	for name := range r.specsSnapshot() {
		if !served[name] {
			slog.Warn("Configured model not served by inference server", "model", name)
		}
	}
}

// Resolve returns the spec for the requested model name. An empty name
// resolves to the configured default. Unknown models are an input error.
func (r *ModelRegistry) Resolve(name string) (models.ModelSpec, error) {
	if name == "" {
		name = r.defModel
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	spec, ok := r.specs[name]
	if !ok {
		return models.ModelSpec{}, errkind.Newf(errkind.KindInput, "unknown model %q", name)
	}
	if r.served != nil && !r.served[name] {
		return models.ModelSpec{}, errkind.Newf(errkind.KindInput, "model %q not served by inference server", name)
	}
	return spec, nil
}

// Default returns the configured default model name.
func (r *ModelRegistry) Default() string { return r.defModel }

// List returns all registered specs sorted by name.
func (r *ModelRegistry) List() []models.ModelSpec {
	snapshot := r.specsSnapshot()
	out := make([]models.ModelSpec, 0, len(snapshot))
	for _, spec := range snapshot {
		out = append(out, spec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ModelName < out[j].ModelName })
	return out
}

func (r *ModelRegistry) specsSnapshot() map[string]models.ModelSpec {
	r.mu.RLock()
	defer r.mu.RUnlock()
	snapshot := make(map[string]models.ModelSpec, len(r.specs))
	for name, spec := range r.specs {
		snapshot[name] = spec
	}
	return snapshot
}

// String implements fmt.Stringer for startup logging.
func (r *ModelRegistry) String() string {
	return fmt.Sprintf("ModelRegistry(%d models, default=%s)", len(r.specs), r.defModel)
}
