// Package models contains the typed records exchanged between VERITAS core
// components: research plans, steps, intent records, budget snapshots,
// evidence chunks and answers. Enumerated variants are typed constants with
// IsValid checks; string discriminants are never passed around raw.
package models

import (
	"encoding/json"
	"math"
	"time"
)

// PlanStatus represents the lifecycle state of a research plan.
type PlanStatus string

const (
	PlanStatusPending   PlanStatus = "pending"
	PlanStatusRunning   PlanStatus = "running"
	PlanStatusPaused    PlanStatus = "paused"
	PlanStatusCompleted PlanStatus = "completed"
	PlanStatusFailed    PlanStatus = "failed"
	PlanStatusCancelled PlanStatus = "cancelled"
)

// IsValid checks if the plan status is a known variant.
func (s PlanStatus) IsValid() bool {
	switch s {
	case PlanStatusPending, PlanStatusRunning, PlanStatusPaused,
		PlanStatusCompleted, PlanStatusFailed, PlanStatusCancelled:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether the plan can no longer transition.
func (s PlanStatus) IsTerminal() bool {
	return s == PlanStatusCompleted || s == PlanStatusFailed || s == PlanStatusCancelled
}

// SecurityLevel classifies plans and their stored artefacts.
// Every artefact inherits at least the security level of its plan.
type SecurityLevel string

const (
	SecurityPublic       SecurityLevel = "public"
	SecurityInternal     SecurityLevel = "internal"
	SecurityConfidential SecurityLevel = "confidential"
	SecuritySecret       SecurityLevel = "secret"
)

// IsValid checks if the security level is a known variant.
func (l SecurityLevel) IsValid() bool {
	switch l {
	case SecurityPublic, SecurityInternal, SecurityConfidential, SecuritySecret:
		return true
	default:
		return false
	}
}

// Rank orders security levels for comparisons (public < internal < confidential < secret).
func (l SecurityLevel) Rank() int {
	switch l {
	case SecurityPublic:
		return 0
	case SecurityInternal:
		return 1
	case SecurityConfidential:
		return 2
	case SecuritySecret:
		return 3
	default:
		return -1
	}
}

// AtLeast reports whether l grants clearance for artefacts at level other.
func (l SecurityLevel) AtLeast(other SecurityLevel) bool {
	return l.Rank() >= other.Rank()
}

// ResearchPlan is the full step graph and metadata persisted for one query.
type ResearchPlan struct {
	PlanID             string          `json:"plan_id"`
	RequestID          string          `json:"request_id"`
	SessionID          string          `json:"session_id,omitempty"`
	UserIdentity       string          `json:"user_identity,omitempty"`
	ResearchQuestion   string          `json:"research_question"`
	QueryLanguage      string          `json:"query_language"` // ISO code, default "de"
	Status             PlanStatus      `json:"status"`
	Databases          []string        `json:"uds3_databases,omitempty"`
	SecurityLevel      SecurityLevel   `json:"security_level"`
	ProgressPercentage float64         `json:"progress_percentage"`
	TotalSteps         int             `json:"total_steps"`
	CompletedSteps     int             `json:"completed_steps"`
	PlanDocument       json.RawMessage `json:"plan_document,omitempty"` // serialised step graph
	ErrorMessage       string          `json:"error_message,omitempty"`
	CreatedAt          time.Time       `json:"created_at"`
	StartedAt          *time.Time      `json:"started_at,omitempty"`
	CompletedAt        *time.Time      `json:"completed_at,omitempty"`
}

// Progress computes the progress percentage from completed vs total steps,
// rounded to two decimal places. Zero total steps yields zero.
func Progress(completed, total int) float64 {
	if total <= 0 {
		return 0
	}
	return math.Round(float64(completed)/float64(total)*100*100) / 100
}

// ExecutionLogEntry is one structured log row persisted per transition or failure.
type ExecutionLogEntry struct {
	ID        int64           `json:"id,omitempty"`
	PlanID    string          `json:"plan_id"`
	StepID    string          `json:"step_id,omitempty"`
	EventType string          `json:"event_type"` // step_started, step_completed, step_failed, plan_status, retrieval, …
	AgentID   string          `json:"agent_id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Error     string          `json:"error,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}
