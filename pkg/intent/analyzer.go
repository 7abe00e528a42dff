package intent

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/veritas-engine/veritas/pkg/config"
	"github.com/veritas-engine/veritas/pkg/llm"
	"github.com/veritas-engine/veritas/pkg/models"
)

// fallbackThreshold is the rule-stage confidence below which the analyser
// consults the model for a second opinion.
const fallbackThreshold = 0.7

// defaultFallbackTimeout bounds the fallback call so a slow model cannot
// stall query admission.
const defaultFallbackTimeout = 5 * time.Second

// Analyzer classifies incoming queries. The rule stage always runs and always
// produces a result; the optional LLM stage refines low-confidence verdicts.
type Analyzer struct {
	domains         *config.DomainConfig
	client          llm.Client
	model           string
	fallbackTimeout time.Duration
}

// Option configures an Analyzer.
type Option func(*Analyzer)

// WithLLMFallback enables the model-backed second stage. model may be empty
// to use the client's default.
func WithLLMFallback(client llm.Client, model string) Option {
	return func(a *Analyzer) {
		a.client = client
		a.model = model
	}
}

// WithFallbackTimeout overrides the per-call fallback deadline.
func WithFallbackTimeout(d time.Duration) Option {
	return func(a *Analyzer) { a.fallbackTimeout = d }
}

// NewAnalyzer builds an analyser over the configured domain vocabulary.
func NewAnalyzer(domains *config.DomainConfig, opts ...Option) *Analyzer {
	a := &Analyzer{
		domains:         domains,
		fallbackTimeout: defaultFallbackTimeout,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Analyze classifies the query. It never fails: a degraded or unreachable
// model leaves the rule-stage verdict in place.
func (a *Analyzer) Analyze(ctx context.Context, query string) *models.IntentRecord {
	query = strings.TrimSpace(query)
	if query == "" {
		return &models.IntentRecord{
			IntentClass:     models.IntentQuickAnswer,
			Confidence:      0,
			Method:          models.MethodRule,
			ComplexityScore: 1,
			QuestionType:    models.QuestionStatement,
		}
	}

	normalized := strings.ToLower(query)
	class, confidence := classifyRules(normalized)
	hits := scoreDomains(normalized, a.domains)

	record := &models.IntentRecord{
		IntentClass:     class,
		Confidence:      confidence,
		Method:          models.MethodRule,
		ComplexityScore: scoreComplexity(normalized, hits),
		DetectedDomains: domainNames(hits),
		QuestionType:    classifyQuestionType(normalized),
		Entities:        extractEntities(query),
	}

	if confidence >= fallbackThreshold || a.client == nil {
		return record
	}

	fbCtx, cancel := context.WithTimeout(ctx, a.fallbackTimeout)
	defer cancel()
	verdict, err := classifyWithLLM(fbCtx, a.client, a.model, query)
	if err != nil {
		slog.Debug("Intent fallback unavailable, keeping rule verdict",
			"error", err,
			"rule_class", class)
		return record
	}

	record.Method = models.MethodHybrid
	if verdict.IntentClass.IsValid() {
		record.IntentClass = verdict.IntentClass
	}
	if verdict.Confidence > record.Confidence {
		record.Confidence = verdict.Confidence
	}
	record.DetectedDomains = mergeDomains(record.DetectedDomains, verdict.Domains)
	return record
}

func domainNames(hits []domainHit) []string {
	if len(hits) == 0 {
		return nil
	}
	names := make([]string, 0, len(hits))
	for _, h := range hits {
		names = append(names, h.Domain)
	}
	return names
}

// mergeDomains appends model-detected domains the rule stage missed,
// preserving rule-stage order.
func mergeDomains(rule, extra []string) []string {
	seen := make(map[string]bool, len(rule))
	for _, d := range rule {
		seen[d] = true
	}
	out := rule
	for _, d := range extra {
		if !seen[d] {
			seen[d] = true
			out = append(out, d)
		}
	}
	return out
}
