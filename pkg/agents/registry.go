package agents

import (
	"sort"
	"sync"
	"time"

	"github.com/veritas-engine/veritas/pkg/errkind"
)

// latencyWindow is the rolling sample size per agent for p95 estimation.
const latencyWindow = 32

// Registry holds the live agents and their rolling health statistics.
// Reads take a snapshot; mutation during a request never affects routing
// decisions already made.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry
	rr      uint64 // round-robin counter shared across selections
}

type entry struct {
	agent    Agent
	disabled bool

	successes int
	failures  int
	latencies []time.Duration // ring, newest appended, capped to latencyWindow
}

// NewRegistry builds an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*entry)}
}

// Register adds or replaces an agent. Replacing resets its statistics.
func (r *Registry) Register(agent Agent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[agent.Describe().ID] = &entry{agent: agent}
}

// Deregister removes an agent. Unknown IDs are a no-op.
func (r *Registry) Deregister(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, id)
}

// SetDisabled toggles an agent without removing it.
func (r *Registry) SetDisabled(id string, disabled bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok {
		return errkind.Newf(errkind.KindInput, "unknown agent %q", id)
	}
	e.disabled = disabled
	return nil
}

// Get returns the agent by ID.
func (r *Registry) Get(id string) (Agent, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	if !ok {
		return nil, false
	}
	return e.agent, true
}

// ReportResult feeds one execution outcome into the agent's rolling stats.
func (r *Registry) ReportResult(id string, ok bool, latency time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, found := r.entries[id]
	if !found {
		return
	}
	if ok {
		e.successes++
	} else {
		e.failures++
	}
	e.latencies = append(e.latencies, latency)
	if len(e.latencies) > latencyWindow {
		e.latencies = e.latencies[len(e.latencies)-latencyWindow:]
	}
}

// Candidate is one routable agent with the statistics the router ranks by.
type Candidate struct {
	Agent       Agent
	Description Description
	Disabled    bool
	SuccessRate float64
	P95Latency  time.Duration
}

// Snapshot returns all candidates sorted by agent ID. The slice is owned by
// the caller.
func (r *Registry) Snapshot() []Candidate {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Candidate, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, Candidate{
			Agent:       e.agent,
			Description: e.agent.Describe(),
			Disabled:    e.disabled,
			SuccessRate: successRate(e),
			P95Latency:  p95(e.latencies),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Description.ID < out[j].Description.ID
	})
	return out
}

// nextRR increments the shared round-robin counter.
func (r *Registry) nextRR() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rr++
	return r.rr
}

// successRate defaults to 1.0 for agents with no history so new agents are
// not starved.
func successRate(e *entry) float64 {
	total := e.successes + e.failures
	if total == 0 {
		return 1.0
	}
	return float64(e.successes) / float64(total)
}

func p95(samples []time.Duration) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	sorted := append([]time.Duration(nil), samples...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	idx := (len(sorted) * 95) / 100
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}
