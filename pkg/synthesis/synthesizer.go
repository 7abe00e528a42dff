// Package synthesis turns retrieved evidence and agent results into the
// final cited answer. Text streams out through the request's stream channel
// while citation markers are rewritten to bracketed numbers on the fly.
package synthesis

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/veritas-engine/veritas/pkg/errkind"
	"github.com/veritas-engine/veritas/pkg/llm"
	"github.com/veritas-engine/veritas/pkg/models"
	"github.com/veritas-engine/veritas/pkg/streaming"
)

const maxEvidenceInPrompt = 20

const systemPromptTemplate = `Du bist VERITAS, ein Rechercheassistent für deutsches Verwaltungs-, Bau- und Umweltrecht.
Antworte auf %s, präzise und fachlich korrekt.
Stütze jede Tatsachenbehauptung auf die nummerierten Belege und markiere die Stelle mit {cite:<Beleg-ID>} direkt hinter der Aussage.
Verwende ausschließlich die IDs aus den Abschnitten BELEGE und AGENTENERGEBNISSE. Erfinde keine Quellen.`

// Input carries everything one synthesis call needs.
type Input struct {
	RequestID    string
	PlanID       string
	Query        string
	Language     string // ISO code, default "de"
	Intent       *models.IntentRecord
	Evidence     []models.EvidenceChunk
	AgentResults []models.StepResult
	Budget       models.BudgetSnapshot
	Overflow     *models.OverflowDecision
	Model        string
	Temperature  float64

	// Stream receives text_chunk and sources events when set. A nil stream
	// means a synchronous answer without progressive delivery.
	Stream *streaming.Channel

	// Part/TotalParts label the answer for the chunked_response overflow
	// strategy. Zero means a single-part answer.
	Part       int
	TotalParts int
}

// Synthesizer produces cited answers through the shared LLM client.
type Synthesizer struct {
	client llm.Client
	logger *slog.Logger
}

// NewSynthesizer builds a synthesiser on the shared client.
func NewSynthesizer(client llm.Client, logger *slog.Logger) *Synthesizer {
	return &Synthesizer{client: client, logger: logger}
}

// Synthesize builds the prompt, streams the model output, validates the
// citation markers, and returns the finished answer. Unresolved markers fail
// the whole answer; they are never dropped silently.
func (s *Synthesizer) Synthesize(ctx context.Context, in *Input) (*models.Answer, error) {
	start := time.Now()

	if len(in.Evidence) == 0 && len(in.AgentResults) == 0 {
		return s.noEvidenceAnswer(ctx, in, start)
	}

	evidence := in.Evidence
	if len(evidence) > maxEvidenceInPrompt {
		evidence = evidence[:maxEvidenceInPrompt]
	}
	sources := evidenceSources(evidence)
	sources = append(sources, agentSources(in.AgentResults)...)
	rewriter := newCitationRewriter(sources)

	input := &llm.GenerateInput{
		RequestID: in.RequestID,
		Model:     in.Model,
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: SystemPrompt(in.Language)},
			{Role: llm.RoleUser, Content: buildUserPrompt(in, sources)},
		},
		MaxOutputTokens: in.Budget.Allocated,
		Temperature:     in.Temperature,
	}

	stream, err := s.client.Generate(ctx, input)
	if err != nil {
		return nil, errkind.Wrap(errkind.KindResourceUnavailable, "synthesis call failed", err)
	}

	var content strings.Builder
	for chunk := range stream {
		switch c := chunk.(type) {
		case *llm.TextChunk:
			if err := s.emitText(ctx, in, rewriter.Feed(c.Content), &content); err != nil {
				return nil, err
			}
		case *llm.ErrorChunk:
			kind := errkind.KindResourceUnavailable
			if !c.Retryable {
				kind = errkind.KindInternal
			}
			return nil, errkind.Newf(kind, "synthesis stream failed: %s", c.Message)
		}
	}
	if err := s.emitText(ctx, in, rewriter.Flush(), &content); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, errkind.Wrap(errkind.KindOf(err), "synthesis interrupted", err)
	}

	if err := rewriter.Err(); err != nil {
		s.logger.Error("citation validation failed",
			"request_id", in.RequestID, "error", err)
		return nil, err
	}

	citations := rewriter.Citations()
	if in.Stream != nil {
		if err := in.Stream.Publish(ctx, streaming.SourcesPayload{Sources: citations}); err != nil {
			return nil, err
		}
	}

	return s.finishAnswer(in, content.String(), citations, start), nil
}

// emitText appends sanitized text and forwards it to the stream.
func (s *Synthesizer) emitText(ctx context.Context, in *Input, text string, content *strings.Builder) error {
	if text == "" {
		return nil
	}
	content.WriteString(text)
	if in.Stream == nil {
		return nil
	}
	return in.Stream.Publish(ctx, streaming.TextChunkPayload{Content: text, Part: in.Part})
}

// noEvidenceAnswer is the zero-evidence path: a fixed statement, no markers,
// no sources, no model call.
func (s *Synthesizer) noEvidenceAnswer(ctx context.Context, in *Input, start time.Time) (*models.Answer, error) {
	text := "Zu dieser Frage wurden keine belastbaren Belege gefunden. " +
		"Bitte formulieren Sie die Frage um oder grenzen Sie das Rechtsgebiet ein."
	if in.Language != "" && in.Language != "de" {
		text = "No supporting evidence was found for this question. " +
			"Please rephrase the question or narrow the subject area."
	}
	s.logger.Warn("synthesis without evidence", "request_id", in.RequestID, "plan_id", in.PlanID)
	if in.Stream != nil {
		if err := in.Stream.Publish(ctx, streaming.TextChunkPayload{Content: text}); err != nil {
			return nil, err
		}
		if err := in.Stream.Publish(ctx, streaming.SourcesPayload{Sources: []models.Citation{}}); err != nil {
			return nil, err
		}
	}
	return s.finishAnswer(in, text, []models.Citation{}, start), nil
}

func (s *Synthesizer) finishAnswer(in *Input, content string, citations []models.Citation, start time.Time) *models.Answer {
	meta := models.AnswerMetadata{
		Model:           in.Model,
		DurationMS:      time.Since(start).Milliseconds(),
		AllocatedTokens: in.Budget.Allocated,
		Breakdown:       in.Budget,
		Overflow:        in.Overflow,
		ChunksRetrieved: len(in.Evidence),
	}
	if in.Intent != nil {
		meta.Intent = in.Intent.IntentClass
		meta.Complexity = in.Intent.ComplexityScore
	}
	for _, res := range in.AgentResults {
		if res.AgentID != "" {
			meta.AgentsUsed = append(meta.AgentsUsed, res.AgentID)
		}
	}
	return &models.Answer{
		RequestID: in.RequestID,
		PlanID:    in.PlanID,
		Content:   content,
		Sources:   citations,
		Metadata:  meta,
	}
}

// SystemPrompt returns the synthesis system prompt for the language. The
// window manager uses it for prompt-token accounting.
func SystemPrompt(language string) string {
	lang := "Deutsch"
	if language != "" && language != "de" {
		lang = "Englisch"
	}
	return fmt.Sprintf(systemPromptTemplate, lang)
}

// buildUserPrompt assembles the evidence, agent-result and task blocks.
func buildUserPrompt(in *Input, sources []sourceRecord) string {
	var b strings.Builder

	b.WriteString("BELEGE:\n")
	hasEvidence := false
	for _, src := range sources {
		if src.Content == "" {
			continue
		}
		hasEvidence = true
		fmt.Fprintf(&b, "[%s] %s\n", src.ID, src.Content)
	}
	if !hasEvidence {
		b.WriteString("(keine)\n")
	}

	if len(in.AgentResults) > 0 {
		b.WriteString("\nAGENTENERGEBNISSE:\n")
		for _, res := range in.AgentResults {
			summary := res.Summary
			if summary == "" {
				summary = string(res.ResultData)
			}
			fmt.Fprintf(&b, "- %s (Konfidenz %.2f): %s\n", res.AgentID, res.Confidence, summary)
		}
		for _, src := range sources {
			if src.Content == "" && src.Title != "" {
				fmt.Fprintf(&b, "  [%s] %s\n", src.ID, src.Title)
			}
		}
	}

	b.WriteString("\nFRAGE:\n")
	b.WriteString(in.Query)
	if in.TotalParts > 1 {
		fmt.Fprintf(&b, "\n\nBeantworte Teil %d von %d der Antwort.", in.Part, in.TotalParts)
	}
	return b.String()
}
