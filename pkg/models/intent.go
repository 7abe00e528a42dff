package models

// IntentClass is the coarse classification of what the user wants back.
type IntentClass string

const (
	IntentQuickAnswer IntentClass = "quick_answer"
	IntentExplanation IntentClass = "explanation"
	IntentAnalysis    IntentClass = "analysis"
	IntentResearch    IntentClass = "research"
)

// IsValid checks if the intent class is a known variant.
func (c IntentClass) IsValid() bool {
	switch c {
	case IntentQuickAnswer, IntentExplanation, IntentAnalysis, IntentResearch:
		return true
	default:
		return false
	}
}

// Weight returns the intent weight used by the token budget formula.
func (c IntentClass) Weight() float64 {
	switch c {
	case IntentQuickAnswer:
		return 0.5
	case IntentExplanation:
		return 1.0
	case IntentAnalysis:
		return 1.5
	case IntentResearch:
		return 2.0
	default:
		return 1.0
	}
}

// ClassifyMethod records how the intent was determined.
type ClassifyMethod string

const (
	MethodRule   ClassifyMethod = "rule"
	MethodLLM    ClassifyMethod = "llm"
	MethodHybrid ClassifyMethod = "hybrid"
)

// QuestionType is the interrogative shape of the query.
type QuestionType string

const (
	QuestionWhat      QuestionType = "what"
	QuestionWho       QuestionType = "who"
	QuestionWhere     QuestionType = "where"
	QuestionWhen      QuestionType = "when"
	QuestionHow       QuestionType = "how"
	QuestionWhy       QuestionType = "why"
	QuestionWhich     QuestionType = "which"
	QuestionHowMuch   QuestionType = "how_much"
	QuestionStatement QuestionType = "statement"
)

// EntityKind classifies extracted entities.
type EntityKind string

const (
	EntityDate      EntityKind = "date"
	EntityAmount    EntityKind = "amount"
	EntitySection   EntityKind = "section" // legal references like "§ 58 LBO BW"
	EntityPlace     EntityKind = "place"
	EntityOrg       EntityKind = "organization"
	EntityLawCode   EntityKind = "law_code" // statute abbreviations like "VwVfG"
	EntityReference EntityKind = "reference"
)

// Entity is one typed span extracted from the query text.
type Entity struct {
	Kind  EntityKind `json:"kind"`
	Value string     `json:"value"`
}

// IntentRecord is the analyser output consumed by the budget calculator,
// the router, and the synthesiser.
type IntentRecord struct {
	IntentClass     IntentClass    `json:"intent_class"`
	Confidence      float64        `json:"confidence"` // [0,1]
	Method          ClassifyMethod `json:"method"`
	ComplexityScore float64        `json:"complexity_score"` // [1,10]
	DetectedDomains []string       `json:"detected_domains,omitempty"`
	QuestionType    QuestionType   `json:"question_type"`
	Entities        []Entity       `json:"entities,omitempty"`
}
