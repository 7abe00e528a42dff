package retrieval

import (
	"context"
	"strings"

	"github.com/veritas-engine/veritas/pkg/llm"
)

// QueryExpander rewrites a query with synonyms and related statute names
// before retrieval. Optional; adds one LLM round-trip.
type QueryExpander interface {
	Expand(ctx context.Context, query string) (string, error)
}

const expandSystemPrompt = `Du erweiterst Suchanfragen für ein juristisches Retrievalsystem.
Gib die Anfrage neu formuliert zurück, ergänzt um Synonyme und einschlägige Normbezeichnungen.
Eine Zeile, keine Aufzählung, keine Erklärungen.`

// LLMQueryExpander implements QueryExpander with one short completion.
type LLMQueryExpander struct {
	client llm.Client
	model  string
}

// NewLLMQueryExpander builds an expander using the given model.
func NewLLMQueryExpander(client llm.Client, model string) *LLMQueryExpander {
	return &LLMQueryExpander{client: client, model: model}
}

// Expand returns the rewritten query. The original query is always kept as a
// prefix so expansion can only add recall, never lose the user's terms.
func (e *LLMQueryExpander) Expand(ctx context.Context, query string) (string, error) {
	out, err := e.client.Complete(ctx, &llm.GenerateInput{
		Model:           e.model,
		MaxOutputTokens: 96,
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: expandSystemPrompt},
			{Role: llm.RoleUser, Content: query},
		},
	})
	if err != nil {
		return "", err
	}
	expanded := strings.TrimSpace(out.Text)
	if expanded == "" || expanded == query {
		return query, nil
	}
	return query + " " + expanded, nil
}
