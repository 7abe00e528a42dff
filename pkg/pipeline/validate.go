// Package pipeline is the request-scoped orchestration core: it plans the
// step graph for a query, executes it under a bounded worker pool, and turns
// the collected evidence into the final cited answer.
package pipeline

import (
	"fmt"
	"sort"
	"strings"

	"github.com/veritas-engine/veritas/pkg/errkind"
	"github.com/veritas-engine/veritas/pkg/models"
)

// ErrCycle marks plans whose dependency graph is not a DAG.
var ErrCycle = errkind.New(errkind.KindInternal, "dependency cycle in plan")

// ValidateSteps rejects plans the executor cannot schedule: duplicate step
// IDs, references to unknown steps, and dependency cycles.
func ValidateSteps(steps []models.PlanStep) error {
	byID := make(map[string]*models.PlanStep, len(steps))
	for i := range steps {
		s := &steps[i]
		if s.StepID == "" {
			return errkind.New(errkind.KindInput, "step without id")
		}
		if _, dup := byID[s.StepID]; dup {
			return errkind.Newf(errkind.KindInput, "duplicate step id %q", s.StepID)
		}
		byID[s.StepID] = s
	}

	indegree := make(map[string]int, len(steps))
	children := make(map[string][]string, len(steps))
	for _, s := range steps {
		for _, dep := range s.Dependencies {
			if _, ok := byID[dep]; !ok {
				return errkind.Newf(errkind.KindInput, "step %q depends on unknown step %q", s.StepID, dep)
			}
			if dep == s.StepID {
				return errkind.Wrap(errkind.KindInternal,
					fmt.Sprintf("step %q depends on itself", s.StepID), ErrCycle)
			}
			indegree[s.StepID]++
			children[dep] = append(children[dep], s.StepID)
		}
	}

	// Kahn's algorithm; whatever survives is part of a cycle.
	var queue []string
	for _, s := range steps {
		if indegree[s.StepID] == 0 {
			queue = append(queue, s.StepID)
		}
	}
	visited := 0
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		visited++
		for _, child := range children[id] {
			indegree[child]--
			if indegree[child] == 0 {
				queue = append(queue, child)
			}
		}
	}
	if visited != len(steps) {
		var cyclic []string
		for id, deg := range indegree {
			if deg > 0 {
				cyclic = append(cyclic, id)
			}
		}
		sort.Strings(cyclic)
		return errkind.Wrap(errkind.KindInternal,
			fmt.Sprintf("steps %s form a cycle", strings.Join(cyclic, ", ")), ErrCycle)
	}
	return nil
}
