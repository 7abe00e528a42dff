package models

import "time"

// QueryRequest contains fields for submitting a query to the engine.
type QueryRequest struct {
	RequestID      string  `json:"request_id,omitempty"` // assigned when empty
	SessionID      string  `json:"session_id,omitempty"`
	UserIdentity   string  `json:"user_identity,omitempty"` // validated principal from external auth
	QueryText      string  `json:"query_text"`
	QueryLanguage  string  `json:"query_language,omitempty"` // default "de"
	Model          string  `json:"model,omitempty"`
	Temperature    float64 `json:"temperature,omitempty"`
	Stream         bool    `json:"stream,omitempty"`
	UserPreference float64 `json:"user_preference,omitempty"` // budget slider, clamped to [0.5, 2.0]
	SecurityLevel  string  `json:"security_level,omitempty"`  // defaults to internal
}

// PlanFilters contains filtering options for listing plans.
type PlanFilters struct {
	Status        string     `json:"status,omitempty"`
	SessionID     string     `json:"session_id,omitempty"`
	UserIdentity  string     `json:"user_identity,omitempty"`
	CreatedAfter  *time.Time `json:"created_after,omitempty"`
	CreatedBefore *time.Time `json:"created_before,omitempty"`
	Limit         int        `json:"limit,omitempty"`
	Offset        int        `json:"offset,omitempty"`
}

// PlanStatusView is the per-plan status payload returned by the control plane.
type PlanStatusView struct {
	PlanID             string           `json:"plan_id"`
	Status             PlanStatus       `json:"status"`
	ProgressPercentage float64          `json:"progress_percentage"`
	Steps              []StepStatusView `json:"steps"`
}

// StepStatusView is the per-step slice of a PlanStatusView.
type StepStatusView struct {
	StepID     string     `json:"step_id"`
	Name       string     `json:"name"`
	Agent      string     `json:"agent,omitempty"`
	Status     StepStatus `json:"status"`
	Confidence float64    `json:"confidence,omitempty"`
}
