package models

import (
	"encoding/json"
	"time"
)

// StepStatus represents the lifecycle state of a plan step.
type StepStatus string

const (
	StepStatusPending   StepStatus = "pending"
	StepStatusRunning   StepStatus = "running"
	StepStatusCompleted StepStatus = "completed"
	StepStatusFailed    StepStatus = "failed"
	StepStatusSkipped   StepStatus = "skipped"
)

// IsValid checks if the step status is a known variant.
func (s StepStatus) IsValid() bool {
	switch s {
	case StepStatusPending, StepStatusRunning, StepStatusCompleted,
		StepStatusFailed, StepStatusSkipped:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether the step can no longer transition.
func (s StepStatus) IsTerminal() bool {
	return s == StepStatusCompleted || s == StepStatusFailed || s == StepStatusSkipped
}

// StepType classifies the work a step performs. Orthogonal to agent
// capabilities: the router matches required capability, never step class.
type StepType string

const (
	StepTypeSearch      StepType = "search"
	StepTypeRetrieval   StepType = "retrieval"
	StepTypeAnalysis    StepType = "analysis"
	StepTypeSynthesis   StepType = "synthesis"
	StepTypeComparison  StepType = "comparison"
	StepTypeCalculation StepType = "calculation"
	StepTypeValidation  StepType = "validation"
	StepTypeAggregation StepType = "aggregation"
)

// IsValid checks if the step type is a known variant.
func (t StepType) IsValid() bool {
	switch t {
	case StepTypeSearch, StepTypeRetrieval, StepTypeAnalysis, StepTypeSynthesis,
		StepTypeComparison, StepTypeCalculation, StepTypeValidation, StepTypeAggregation:
		return true
	default:
		return false
	}
}

// PlanStep is one atomic unit of work within a research plan. Steps form a
// flat list; the dependency graph is expressed through Dependencies only
// (no nested children).
type PlanStep struct {
	StepID        string          `json:"step_id"`
	PlanID        string          `json:"plan_id"`
	Index         int             `json:"index"`
	Name          string          `json:"name"`
	Type          StepType        `json:"type"`
	Capabilities  []string        `json:"agent_capability_req,omitempty"`
	Status        StepStatus      `json:"status"`
	Dependencies  []string        `json:"dependencies,omitempty"` // step IDs
	ParallelGroup string          `json:"parallel_group,omitempty"`
	InputRef      string          `json:"input_ref,omitempty"` // fingerprint of the step input
	Result        json.RawMessage `json:"result,omitempty"`
	Confidence    float64         `json:"confidence,omitempty"`
	QualityScore  float64         `json:"quality_score,omitempty"`
	Error         string          `json:"error,omitempty"`
	Attempts      int             `json:"attempts,omitempty"`
	StartedAt     *time.Time      `json:"started_at,omitempty"`
	CompletedAt   *time.Time      `json:"completed_at,omitempty"`
	ExecutionMS   int64           `json:"execution_ms,omitempty"`
}

// StepResult is the typed outcome an agent returns for a step. Replaying a
// step on retry replaces the prior result atomically.
type StepResult struct {
	PlanID     string          `json:"plan_id"`
	StepID     string          `json:"step_id"`
	ResultData json.RawMessage `json:"result_data"`
	Summary    string          `json:"summary,omitempty"`
	Confidence float64         `json:"confidence"` // [0,1]
	Quality    float64         `json:"quality"`    // [0,1]
	Sources    []SourceRef     `json:"sources,omitempty"`
	AgentID    string          `json:"agent_id,omitempty"`
}

// SourceRef links a step result back to a retrievable document.
type SourceRef struct {
	DocumentID string `json:"document_id"`
	ChunkID    string `json:"chunk_id,omitempty"`
	Title      string `json:"title,omitempty"`
	URL        string `json:"url,omitempty"`
}
