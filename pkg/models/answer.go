package models

// SourceKind classifies a cited source for IEEE formatting.
type SourceKind string

const (
	SourceKindPDF     SourceKind = "pdf"
	SourceKindWeb     SourceKind = "web"
	SourceKindBook    SourceKind = "book"
	SourceKindDB      SourceKind = "db"
	SourceKindGeneric SourceKind = "generic"
)

// Citation is one resolved source in an answer. Numbers are assigned in
// first-appearance order and are contiguous starting at 1.
type Citation struct {
	SourceID   string     `json:"source_id"` // opaque, unique per answer
	Number     int        `json:"number"`    // 1..N
	Kind       SourceKind `json:"kind"`
	Reference  string     `json:"reference"` // IEEE-formatted reference string
	DocumentID string     `json:"document_id,omitempty"`
	URL        string     `json:"url,omitempty"`
}

// AnswerMetadata carries aggregate request information alongside the answer.
type AnswerMetadata struct {
	Model           string            `json:"model"`
	Intent          IntentClass       `json:"intent"`
	Complexity      float64           `json:"complexity"`
	DurationMS      int64             `json:"duration_ms"`
	AllocatedTokens int               `json:"allocated_tokens"`
	Breakdown       BudgetSnapshot    `json:"breakdown"`
	Overflow        *OverflowDecision `json:"overflow,omitempty"`
	AgentsUsed      []string          `json:"agents_used,omitempty"`
	ChunksRetrieved int               `json:"chunks_retrieved"`
}

// Answer is the synthesised, cited response. Content contains
// {cite:source_id} markers at claim sites; every marker resolves to exactly
// one element of Sources.
type Answer struct {
	RequestID string         `json:"request_id"`
	PlanID    string         `json:"plan_id,omitempty"`
	Content   string         `json:"content"`
	Sources   []Citation     `json:"sources"`
	Metadata  AnswerMetadata `json:"metadata"`
}
