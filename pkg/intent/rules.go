package intent

import (
	"strings"

	"github.com/veritas-engine/veritas/pkg/models"
)

// intentPattern is one curated keyword set voting for an intent class.
type intentPattern struct {
	class    models.IntentClass
	weight   float64
	keywords []string
}

// Rule-stage patterns. German keywords carry the bulk of the matching, with
// English equivalents so mixed-language queries still classify.
var intentPatterns = []intentPattern{
	{
		class:  models.IntentResearch,
		weight: 1.0,
		keywords: []string{
			"recherchiere", "untersuche umfassend", "umfassende analyse",
			"literatur", "forschungsstand", "rechtsprechung und literatur",
			"research", "comprehensive", "survey",
		},
	},
	{
		class:  models.IntentAnalysis,
		weight: 1.0,
		keywords: []string{
			"analysiere", "analyse", "beurteile", "bewerte", "vergleiche",
			"prüfe", "abwägung", "zu beurteilen", "würdige",
			"analyze", "analyse the", "assess", "evaluate", "compare",
		},
	},
	{
		class:  models.IntentExplanation,
		weight: 1.0,
		keywords: []string{
			"erkläre", "erläutere", "erklärung", "wie funktioniert",
			"warum", "wieso", "weshalb", "begründe",
			"explain", "how does", "why",
		},
	},
	{
		class:  models.IntentQuickAnswer,
		weight: 0.8,
		keywords: []string{
			"was ist", "wer ist", "was bedeutet", "definition", "definiere",
			"wann gilt", "wie hoch ist", "wie viel",
			"what is", "who is", "define", "how much",
		},
	},
}

// questionPrefixes maps leading interrogatives to question types.
// Ordered: more specific prefixes first ("wie viel" before "wie").
var questionPrefixes = []struct {
	prefix string
	qtype  models.QuestionType
}{
	{"wie viel", models.QuestionHowMuch},
	{"wieviel", models.QuestionHowMuch},
	{"how much", models.QuestionHowMuch},
	{"how many", models.QuestionHowMuch},
	{"was", models.QuestionWhat},
	{"what", models.QuestionWhat},
	{"wer", models.QuestionWho},
	{"who", models.QuestionWho},
	{"wo", models.QuestionWhere},
	{"where", models.QuestionWhere},
	{"wann", models.QuestionWhen},
	{"when", models.QuestionWhen},
	{"wie", models.QuestionHow},
	{"how", models.QuestionHow},
	{"warum", models.QuestionWhy},
	{"wieso", models.QuestionWhy},
	{"weshalb", models.QuestionWhy},
	{"why", models.QuestionWhy},
	{"welche", models.QuestionWhich},
	{"welcher", models.QuestionWhich},
	{"welches", models.QuestionWhich},
	{"which", models.QuestionWhich},
}

// classifyRules runs the keyword stage and returns the winning class with a
// confidence derived from the vote margin.
func classifyRules(normalized string) (models.IntentClass, float64) {
	scores := make(map[models.IntentClass]float64, 4)
	for _, p := range intentPatterns {
		for _, kw := range p.keywords {
			if strings.Contains(normalized, kw) {
				scores[p.class] += p.weight
			}
		}
	}

	if len(scores) == 0 {
		// No pattern hit: short queries default to quick answers, long ones
		// to explanations.
		if len(strings.Fields(normalized)) <= 8 {
			return models.IntentQuickAnswer, 0.5
		}
		return models.IntentExplanation, 0.4
	}

	var best models.IntentClass
	var bestScore, total float64
	// Deterministic tie-break: iterate in pattern declaration order
	// (research > analysis > explanation > quick_answer).
	for _, p := range intentPatterns {
		if s := scores[p.class]; s > bestScore {
			best, bestScore = p.class, s
		}
	}
	for _, s := range scores {
		total += s
	}

	confidence := 0.55 + 0.15*bestScore
	if total > bestScore {
		// Competing classes reduce confidence proportionally.
		confidence -= 0.2 * (total - bestScore) / total
	}
	if confidence > 0.95 {
		confidence = 0.95
	}
	return best, confidence
}

// classifyQuestionType inspects the leading interrogative of the query.
func classifyQuestionType(normalized string) models.QuestionType {
	for _, qp := range questionPrefixes {
		if strings.HasPrefix(normalized, qp.prefix+" ") || normalized == qp.prefix {
			return qp.qtype
		}
	}
	// Interrogatives after a comma ("…, wie ist das Ermessen zu beurteilen?")
	if strings.Contains(normalized, "?") {
		for _, qp := range questionPrefixes {
			if strings.Contains(normalized, " "+qp.prefix+" ") {
				return qp.qtype
			}
		}
	}
	return models.QuestionStatement
}
