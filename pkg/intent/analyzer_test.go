package intent

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veritas-engine/veritas/pkg/config"
	"github.com/veritas-engine/veritas/pkg/llm"
	"github.com/veritas-engine/veritas/pkg/models"
)

// stubLLM satisfies llm.Client with a canned completion.
type stubLLM struct {
	text string
	err  error
}

func (s *stubLLM) Generate(context.Context, *llm.GenerateInput) (<-chan llm.Chunk, error) {
	return nil, errors.New("not implemented")
}

func (s *stubLLM) Complete(context.Context, *llm.GenerateInput) (*llm.Completion, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &llm.Completion{Text: s.text}, nil
}

func (s *stubLLM) ListModels(context.Context) ([]string, error) { return nil, nil }
func (s *stubLLM) Close() error                                 { return nil }

func newTestAnalyzer(opts ...Option) *Analyzer {
	return NewAnalyzer(config.DefaultDomainConfig(), opts...)
}

func TestAnalyzeAdministrativeLawQuery(t *testing.T) {
	a := newTestAnalyzer()
	rec := a.Analyze(context.Background(),
		"Analysiere die Ermessensfehler im Bescheid des Landratsamts nach § 40 VwVfG und erläutere die Verhältnismäßigkeitsprüfung.")

	assert.Equal(t, models.IntentAnalysis, rec.IntentClass)
	assert.Equal(t, models.MethodRule, rec.Method)
	assert.GreaterOrEqual(t, rec.ComplexityScore, 7.5, "dense legal query rates high")
	require.NotEmpty(t, rec.DetectedDomains)
	assert.Equal(t, "verwaltungsrecht", rec.DetectedDomains[0])

	assert.Contains(t, rec.Entities, models.Entity{Kind: models.EntitySection, Value: "§ 40 VwVfG"})
	assert.Contains(t, rec.Entities, models.Entity{Kind: models.EntityLawCode, Value: "VwVfG"})
}

func TestAnalyzeSimpleLookup(t *testing.T) {
	a := newTestAnalyzer()
	rec := a.Analyze(context.Background(), "Was ist eine Baugenehmigung?")

	assert.Equal(t, models.IntentQuickAnswer, rec.IntentClass)
	assert.Equal(t, models.QuestionWhat, rec.QuestionType)
	assert.LessOrEqual(t, rec.ComplexityScore, 4.0)
	assert.Contains(t, rec.DetectedDomains, "baurecht")
}

func TestAnalyzeEmptyQuery(t *testing.T) {
	a := newTestAnalyzer()
	rec := a.Analyze(context.Background(), "   ")

	assert.Equal(t, models.IntentQuickAnswer, rec.IntentClass)
	assert.Zero(t, rec.Confidence)
	assert.Equal(t, 1.0, rec.ComplexityScore)
	assert.Equal(t, models.QuestionStatement, rec.QuestionType)
	assert.Empty(t, rec.Entities)
}

func TestAnalyzeQuestionTypes(t *testing.T) {
	a := newTestAnalyzer()
	cases := map[string]models.QuestionType{
		"Wann gilt die Genehmigungspflicht?":           models.QuestionWhen,
		"Wie viel Abstandsfläche ist einzuhalten?":     models.QuestionHowMuch,
		"Welche Behörde ist zuständig?":                models.QuestionWhich,
		"Warum wurde der Bauantrag abgelehnt?":         models.QuestionWhy,
		"Der Gemeinderat beschließt die Hauptsatzung.": models.QuestionStatement,
	}
	for query, want := range cases {
		rec := a.Analyze(context.Background(), query)
		assert.Equal(t, want, rec.QuestionType, "query: %s", query)
	}
}

func TestExtractEntities(t *testing.T) {
	got := extractEntities(
		"Das Landratsamt Karlsruhe forderte am 15.03.2024 eine Nachzahlung von 2.500 € nach § 58 LBO BW.")

	assert.Contains(t, got, models.Entity{Kind: models.EntitySection, Value: "§ 58 LBO BW"})
	assert.Contains(t, got, models.Entity{Kind: models.EntityDate, Value: "15.03.2024"})
	assert.Contains(t, got, models.Entity{Kind: models.EntityAmount, Value: "2.500 €"})
	assert.Contains(t, got, models.Entity{Kind: models.EntityLawCode, Value: "LBO"})
	assert.Contains(t, got, models.Entity{Kind: models.EntityPlace, Value: "Karlsruhe"})
	assert.Contains(t, got, models.Entity{Kind: models.EntityOrg, Value: "Landratsamt"})
}

func TestLawCodeNeedsWordBoundary(t *testing.T) {
	got := extractEntities("Der Kolbenhub des Motors beträgt 80 mm.")
	for _, e := range got {
		assert.NotEqual(t, models.EntityLawCode, e.Kind, "no statute in this query")
	}
}

func TestComplexityFactorCurve(t *testing.T) {
	assert.InDelta(t, 0.5, ComplexityFactor(1), 1e-9)
	assert.InDelta(t, 0.8, ComplexityFactor(3), 1e-9)
	assert.InDelta(t, 1.5, ComplexityFactor(7), 1e-9)
	assert.InDelta(t, 2.0, ComplexityFactor(10), 1e-9)
	assert.Less(t, ComplexityFactor(2), ComplexityFactor(5))
}

func TestFallbackRefinesLowConfidenceVerdict(t *testing.T) {
	stub := &stubLLM{text: `{"intent_class": "research", "confidence": 0.9, "domains": ["umweltrecht"]}`}
	a := newTestAnalyzer(WithLLMFallback(stub, "qwen2.5:14b"))

	rec := a.Analyze(context.Background(),
		"Langfristige Auswirkungen der Flächenversiegelung auf kommunale Entwässerungssysteme")

	assert.Equal(t, models.MethodHybrid, rec.Method)
	assert.Equal(t, models.IntentResearch, rec.IntentClass)
	assert.InDelta(t, 0.9, rec.Confidence, 1e-9)
	assert.Contains(t, rec.DetectedDomains, "umweltrecht")
}

func TestFallbackHandlesFencedReply(t *testing.T) {
	stub := &stubLLM{text: "```json\n{\"intent_class\": \"explanation\", \"confidence\": 0.8}\n```"}
	a := newTestAnalyzer(WithLLMFallback(stub, ""))

	rec := a.Analyze(context.Background(),
		"Langfristige Auswirkungen der Flächenversiegelung auf kommunale Entwässerungssysteme")

	assert.Equal(t, models.MethodHybrid, rec.Method)
	assert.Equal(t, models.IntentExplanation, rec.IntentClass)
}

func TestFallbackFailureKeepsRuleVerdict(t *testing.T) {
	stub := &stubLLM{err: errors.New("connection refused")}
	a := newTestAnalyzer(WithLLMFallback(stub, ""))

	rec := a.Analyze(context.Background(),
		"Langfristige Auswirkungen der Flächenversiegelung auf kommunale Entwässerungssysteme")

	assert.Equal(t, models.MethodRule, rec.Method)
	assert.Equal(t, models.IntentQuickAnswer, rec.IntentClass)
}

func TestFallbackRejectsMalformedReply(t *testing.T) {
	stub := &stubLLM{text: `{"intent_class": "world_domination", "confidence": 0.99}`}
	a := newTestAnalyzer(WithLLMFallback(stub, ""))

	rec := a.Analyze(context.Background(),
		"Langfristige Auswirkungen der Flächenversiegelung auf kommunale Entwässerungssysteme")

	assert.Equal(t, models.MethodRule, rec.Method, "schema violation discards the verdict")
}
