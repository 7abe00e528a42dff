package streaming

import (
	"encoding/json"
	"time"

	"github.com/veritas-engine/veritas/pkg/models"
)

// EventType identifies one streamed event shape.
type EventType string

const (
	EventStatus    EventType = "status"
	EventTextChunk EventType = "text_chunk"
	EventWidget    EventType = "widget"
	EventForm      EventType = "form"
	EventSources   EventType = "sources"
	EventMetadata  EventType = "metadata"
	EventError     EventType = "error"
	EventHeartbeat EventType = "heartbeat"
)

// Payload is one typed event body. The envelope flattens payload fields
// into the NDJSON line next to type/seq/timestamp.
type Payload interface {
	eventType() EventType
}

// StatusPayload reports a plan or step state transition.
type StatusPayload struct {
	PlanID   string            `json:"plan_id"`
	StepID   string            `json:"step_id,omitempty"`
	Status   string            `json:"status"`
	Progress float64           `json:"progress"`
	Detail   string            `json:"detail,omitempty"`
	Counts   map[string]int    `json:"counts,omitempty"`
	Extra    map[string]string `json:"extra,omitempty"`
}

func (StatusPayload) eventType() EventType { return EventStatus }

// TextChunkPayload carries one partial synthesis fragment.
type TextChunkPayload struct {
	StepID  string `json:"step_id,omitempty"`
	Content string `json:"content"`
	Part    int    `json:"part,omitempty"` // >0 only for chunked responses
}

func (TextChunkPayload) eventType() EventType { return EventTextChunk }

// WidgetPayload carries a structured sub-answer.
type WidgetPayload struct {
	WidgetType string          `json:"widget_type"`
	Data       json.RawMessage `json:"data"`
}

func (WidgetPayload) eventType() EventType { return EventWidget }

// FormPayload asks the user for clarification mid-plan.
type FormPayload struct {
	Reason string      `json:"reason"`
	Fields []FormField `json:"fields"`
}

// FormField is one requested input.
type FormField struct {
	Name     string   `json:"name"`
	Label    string   `json:"label"`
	Kind     string   `json:"kind"` // text, select, date
	Options  []string `json:"options,omitempty"`
	Required bool     `json:"required,omitempty"`
}

func (FormPayload) eventType() EventType { return EventForm }

// SourcesPayload delivers the resolved citation list.
type SourcesPayload struct {
	Sources []models.Citation `json:"sources"`
}

func (SourcesPayload) eventType() EventType { return EventSources }

// MetadataPayload is the final event with aggregate timings and budgets.
type MetadataPayload struct {
	PlanID          string                 `json:"plan_id"`
	Model           string                 `json:"model,omitempty"`
	Intent          string                 `json:"intent,omitempty"`
	Complexity      float64                `json:"complexity,omitempty"`
	DurationMS      int64                  `json:"duration_ms"`
	AllocatedTokens int                    `json:"allocated_tokens,omitempty"`
	Budget          *models.BudgetHistory  `json:"budget,omitempty"`
	Timings         map[string]int64       `json:"timings,omitempty"`
	Extra           map[string]any         `json:"extra,omitempty"`
}

func (MetadataPayload) eventType() EventType { return EventMetadata }

// ErrorPayload reports a failure to the consumer.
type ErrorPayload struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
	StepID  string `json:"step_id,omitempty"`
}

func (ErrorPayload) eventType() EventType { return EventError }

// HeartbeatPayload keeps an idle stream alive.
type HeartbeatPayload struct{}

func (HeartbeatPayload) eventType() EventType { return EventHeartbeat }

// Event is the envelope written to the NDJSON stream. Sequence numbers are
// per request, gapless, starting at 1.
type Event struct {
	Type      EventType
	RequestID string
	Sequence  uint64
	Timestamp time.Time
	Payload   Payload
}

// MarshalJSON flattens the payload fields into the envelope so consumers
// see one object per line.
func (e Event) MarshalJSON() ([]byte, error) {
	body, err := json.Marshal(e.Payload)
	if err != nil {
		return nil, err
	}
	var flat map[string]any
	if err := json.Unmarshal(body, &flat); err != nil {
		return nil, err
	}
	if flat == nil {
		flat = make(map[string]any, 4)
	}
	flat["type"] = e.Type
	flat["request_id"] = e.RequestID
	flat["seq"] = e.Sequence
	flat["ts"] = e.Timestamp.UTC().Format(time.RFC3339Nano)
	return json.Marshal(flat)
}
