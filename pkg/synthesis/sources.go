package synthesis

import (
	"fmt"
	"strings"

	"github.com/veritas-engine/veritas/pkg/models"
)

// sourceRecord is one citable input the model may reference. Source IDs are
// assigned when the prompt is assembled and stay stable for the whole call.
type sourceRecord struct {
	ID         string
	Kind       models.SourceKind
	Title      string
	Author     string
	Year       int
	Page       int
	URL        string
	DocumentID string
	Content    string
}

// classifyKind derives the citation kind from chunk metadata. Explicit tags
// win; a URL without tags means a web source.
func classifyKind(meta models.ChunkMetadata) models.SourceKind {
	for _, tag := range meta.Tags {
		switch strings.ToLower(tag) {
		case "pdf":
			return models.SourceKindPDF
		case "book", "buch", "kommentar":
			return models.SourceKindBook
		case "db", "database", "datenbank":
			return models.SourceKindDB
		case "web":
			return models.SourceKindWeb
		}
	}
	if meta.URL != "" {
		return models.SourceKindWeb
	}
	return models.SourceKindGeneric
}

// evidenceSources assigns stable IDs (E1, E2, …) to the evidence chunks in
// ranked order.
func evidenceSources(chunks []models.EvidenceChunk) []sourceRecord {
	records := make([]sourceRecord, 0, len(chunks))
	for i, c := range chunks {
		records = append(records, sourceRecord{
			ID:         fmt.Sprintf("E%d", i+1),
			Kind:       classifyKind(c.Metadata),
			Title:      c.Metadata.Title,
			Author:     c.Metadata.Author,
			Year:       c.Metadata.Year,
			Page:       c.Metadata.Page,
			URL:        c.Metadata.URL,
			DocumentID: c.DocumentID,
			Content:    c.Content,
		})
	}
	return records
}

// agentSources assigns IDs (A1, A2, …) to the sources the agent results
// carry, deduplicated by document.
func agentSources(results []models.StepResult) []sourceRecord {
	var records []sourceRecord
	seen := make(map[string]bool)
	for _, res := range results {
		for _, ref := range res.Sources {
			if ref.DocumentID == "" || seen[ref.DocumentID] {
				continue
			}
			seen[ref.DocumentID] = true
			kind := models.SourceKindGeneric
			if ref.URL != "" {
				kind = models.SourceKindWeb
			}
			records = append(records, sourceRecord{
				ID:         fmt.Sprintf("A%d", len(records)+1),
				Kind:       kind,
				Title:      ref.Title,
				URL:        ref.URL,
				DocumentID: ref.DocumentID,
			})
		}
	}
	return records
}

// formatReference renders the IEEE-style reference string for one source.
func formatReference(s sourceRecord) string {
	title := s.Title
	if title == "" {
		title = s.DocumentID
	}
	var b strings.Builder
	if s.Author != "" {
		b.WriteString(s.Author)
		b.WriteString(", ")
	}
	switch s.Kind {
	case models.SourceKindBook:
		// Book titles are set unquoted in IEEE style.
		b.WriteString(title)
	default:
		fmt.Fprintf(&b, "%q", title)
	}
	if s.Year > 0 {
		fmt.Fprintf(&b, ", %d", s.Year)
	}
	if s.Page > 0 {
		fmt.Fprintf(&b, ", S. %d", s.Page)
	}
	switch s.Kind {
	case models.SourceKindWeb:
		if s.URL != "" {
			b.WriteString(". Online: ")
			b.WriteString(s.URL)
		}
	case models.SourceKindDB:
		if s.DocumentID != "" {
			b.WriteString(". Datenbankeintrag ")
			b.WriteString(s.DocumentID)
		}
	}
	b.WriteString(".")
	return b.String()
}

// toCitation converts a resolved source into the answer citation record.
func toCitation(s sourceRecord, number int) models.Citation {
	return models.Citation{
		SourceID:   s.ID,
		Number:     number,
		Kind:       s.Kind,
		Reference:  formatReference(s),
		DocumentID: s.DocumentID,
		URL:        s.URL,
	}
}
