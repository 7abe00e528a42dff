package intent

import (
	"math"
	"sort"
	"strings"

	"github.com/veritas-engine/veritas/pkg/config"
)

// domainHit records one matched domain vocabulary for the intent record.
type domainHit struct {
	Domain string
	Weight float64
	Hits   int
}

// scoreDomains counts configured domain keywords in the normalized query and
// returns hits sorted by weighted hit count, strongest first. Ties break by
// name so the detected-domain list is stable across runs.
func scoreDomains(normalized string, domains *config.DomainConfig) []domainHit {
	var hits []domainHit
	for name, keywords := range domains.Vocabulary {
		n := 0
		for _, kw := range keywords {
			if strings.Contains(normalized, strings.ToLower(kw)) {
				n++
			}
		}
		if n == 0 {
			continue
		}
		w, ok := domains.Weights[name]
		if !ok {
			w = 1.0
		}
		hits = append(hits, domainHit{Domain: name, Weight: w, Hits: n})
	}
	sort.Slice(hits, func(i, j int) bool {
		wi, wj := weighted(hits[i]), weighted(hits[j])
		if wi != wj {
			return wi > wj
		}
		return hits[i].Domain < hits[j].Domain
	})
	return hits
}

func weighted(h domainHit) float64 { return float64(h.Hits) * h.Weight }

// scoreComplexity rates a query on a 1..10 scale. The score feeds the token
// budget, so it must be deterministic for a given query and configuration.
//
// Signals, in decreasing influence:
//   - domain vocabulary density, weighted per domain
//   - sentence and clause structure
//   - enumerations and multi-part questions
func scoreComplexity(normalized string, hits []domainHit) float64 {
	if normalized == "" {
		return 1
	}
	score := 1.0

	// Weighted domain vocabulary, capped so keyword stuffing cannot push a
	// trivial query into research territory.
	var domainSum float64
	for _, h := range hits {
		domainSum += weighted(h) * 0.9
	}
	score += math.Min(domainSum, 4.5)

	words := strings.Fields(normalized)
	sentences := countSentences(normalized)
	if sentences > 1 {
		score += math.Min(float64(sentences-1)*0.7, 1.4)
	}

	// Long clauses signal legal prose rather than a lookup.
	clauses := sentences + strings.Count(normalized, ",") + strings.Count(normalized, ";")
	if clauses > 0 {
		avgClause := float64(len(words)) / float64(clauses)
		switch {
		case avgClause >= 14:
			score += 1.5
		case avgClause >= 9:
			score += 0.8
		}
	}

	if hasEnumeration(normalized) {
		score += 0.6
	}

	// Compound asks ("analysiere X und erläutere Y") raise depth.
	for _, marker := range []string{" und erläutere", " und begründe", " und vergleiche", " sowie ", " unter berücksichtigung"} {
		if strings.Contains(normalized, marker) {
			score += 0.8
		}
	}

	if len(words) >= 25 {
		score += 1.0
	} else if len(words) >= 15 {
		score += 0.5
	}

	return clampScore(score)
}

func countSentences(s string) int {
	n := strings.Count(s, ".") + strings.Count(s, "?") + strings.Count(s, "!")
	// Section references like "§ 40 VwVfG." are not sentence boundaries when
	// they end the whole query.
	if n == 0 {
		return 1
	}
	return n
}

func hasEnumeration(s string) bool {
	if strings.Count(s, ",") >= 2 {
		return true
	}
	for _, m := range []string{"1.", "2.", "a)", "b)", "erstens", "zweitens"} {
		if strings.Contains(s, m) {
			return true
		}
	}
	return false
}

func clampScore(score float64) float64 {
	if score < 1 {
		return 1
	}
	if score > 10 {
		return 10
	}
	// Round to one decimal so persisted records are stable.
	return math.Round(score*10) / 10
}

// ComplexityFactor maps a 1..10 complexity score onto the 0.1..2.0 budget
// multiplier. Piecewise linear: flat for lookups, steep in the analysis band.
func ComplexityFactor(score float64) float64 {
	switch {
	case score <= 1:
		return 0.5
	case score <= 3:
		return 0.5 + (score-1)*0.15 // 1 -> 0.5, 3 -> 0.8
	case score <= 7:
		return 0.8 + (score-3)*0.175 // 7 -> 1.5
	case score <= 10:
		return 1.5 + (score-7)*(0.5/3) // 10 -> 2.0
	default:
		return 2.0
	}
}
