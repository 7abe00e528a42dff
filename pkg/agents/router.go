package agents

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/veritas-engine/veritas/pkg/errkind"
	"github.com/veritas-engine/veritas/pkg/models"
)

// healthProbeTimeout bounds the liveness check the router runs on otherwise
// qualified agents.
const healthProbeTimeout = 500 * time.Millisecond

// Router selects agents for plan steps from the live registry.
type Router struct {
	registry *Registry
}

// NewRouter builds a router over the registry.
func NewRouter(registry *Registry) *Router {
	return &Router{registry: registry}
}

// Selection describes one routing request.
type Selection struct {
	// Capabilities the step requires; an agent must cover all of them.
	Capabilities []string
	// DetectedDomains from the intent analyser, strongest first; used for
	// proximity tie-breaking.
	DetectedDomains []string
	// SecurityLevel of the plan; agents with lower clearance are excluded.
	SecurityLevel models.SecurityLevel
	// Limit caps how many agents are returned. Zero means one.
	Limit int
}

// SelectFor returns the best-ranked agents for the selection. Ties break by
// domain proximity, rolling success rate, p95 latency, then round-robin.
//
// No agent declaring the required capabilities is an input error (the plan
// asks for something the deployment does not provide); qualified agents all
// being disabled or unhealthy is a resource error (retryable).
func (r *Router) SelectFor(ctx context.Context, sel Selection) ([]Agent, error) {
	limit := sel.Limit
	if limit <= 0 {
		limit = 1
	}

	var declared, available []Candidate
	for _, c := range r.registry.Snapshot() {
		if !c.Description.Covers(sel.Capabilities) {
			continue
		}
		declared = append(declared, c)
		if c.Disabled {
			continue
		}
		if sel.SecurityLevel != "" && !c.Description.Clearance.AtLeast(sel.SecurityLevel) {
			continue
		}
		available = append(available, c)
	}
	if len(declared) == 0 {
		return nil, errkind.Newf(errkind.KindInput, "no agent declares capabilities %v", sel.Capabilities)
	}

	healthy := available[:0]
	for _, c := range available {
		hctx, cancel := context.WithTimeout(ctx, healthProbeTimeout)
		err := c.Agent.Health(hctx)
		cancel()
		if err != nil {
			slog.Warn("Agent excluded from routing", "agent", c.Description.ID, "error", err)
			continue
		}
		healthy = append(healthy, c)
	}
	if len(healthy) == 0 {
		return nil, errkind.Newf(errkind.KindResourceUnavailable, "no healthy agent for capabilities %v", sel.Capabilities)
	}

	r.rank(healthy, sel.DetectedDomains)
	if len(healthy) > limit {
		healthy = healthy[:limit]
	}
	out := make([]Agent, len(healthy))
	for i, c := range healthy {
		out[i] = c.Agent
	}
	return out, nil
}

// rank orders candidates best-first: domain proximity, success rate, p95
// latency, with a round-robin rotation across fully tied leaders.
func (r *Router) rank(candidates []Candidate, domains []string) {
	if len(candidates) < 2 {
		return
	}
	proximity := func(c Candidate) int {
		for i, d := range domains {
			if c.Description.Domain == d {
				return i
			}
		}
		return len(domains) + 1
	}
	sort.SliceStable(candidates, func(a, b int) bool {
		pa, pb := proximity(candidates[a]), proximity(candidates[b])
		if pa != pb {
			return pa < pb
		}
		if candidates[a].SuccessRate != candidates[b].SuccessRate {
			return candidates[a].SuccessRate > candidates[b].SuccessRate
		}
		if candidates[a].P95Latency != candidates[b].P95Latency {
			return candidates[a].P95Latency < candidates[b].P95Latency
		}
		return candidates[a].Description.ID < candidates[b].Description.ID
	})

	// Fully tied leaders rotate across selections so load spreads.
	tied := 1
	for tied < len(candidates) &&
		proximity(candidates[tied]) == proximity(candidates[0]) &&
		candidates[tied].SuccessRate == candidates[0].SuccessRate &&
		candidates[tied].P95Latency == candidates[0].P95Latency {
		tied++
	}
	if tied > 1 {
		k := int(r.registry.nextRR() % uint64(tied))
		rotated := append(append([]Candidate(nil), candidates[k:tied]...), candidates[:k]...)
		copy(candidates, rotated)
	}
}
