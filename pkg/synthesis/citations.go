package synthesis

import (
	"fmt"
	"sort"
	"strings"

	"github.com/veritas-engine/veritas/pkg/errkind"
	"github.com/veritas-engine/veritas/pkg/models"
)

const (
	citeOpen  = "{cite:"
	citeClose = "}"
)

// citationRewriter turns {cite:source_id} markers into bracketed numbers as
// streamed text arrives. Numbers are assigned in first-appearance order and
// repeated markers reuse their number. Incomplete markers at a fragment
// boundary are held back until the closing brace arrives.
type citationRewriter struct {
	available map[string]sourceRecord

	assigned   map[string]int
	order      []string
	unresolved map[string]bool
	pending    string
}

func newCitationRewriter(sources []sourceRecord) *citationRewriter {
	available := make(map[string]sourceRecord, len(sources))
	for _, s := range sources {
		available[s.ID] = s
	}
	return &citationRewriter{
		available:  available,
		assigned:   make(map[string]int),
		unresolved: make(map[string]bool),
	}
}

// Feed consumes one text fragment and returns the displayable output with
// complete markers rewritten. A trailing partial marker is buffered.
func (r *citationRewriter) Feed(fragment string) string {
	text := r.pending + fragment
	r.pending = ""

	var out strings.Builder
	for {
		start := strings.Index(text, citeOpen)
		if start < 0 {
			// Hold back a suffix that could be the start of a marker.
			keep := partialMarkerSuffix(text)
			out.WriteString(text[:len(text)-keep])
			r.pending = text[len(text)-keep:]
			return out.String()
		}
		out.WriteString(text[:start])
		rest := text[start:]
		end := strings.Index(rest, citeClose)
		if end < 0 {
			r.pending = rest
			return out.String()
		}
		id := rest[len(citeOpen):end]
		out.WriteString(r.rewrite(id))
		text = rest[end+len(citeClose):]
	}
}

// Flush returns whatever is still buffered; an unterminated marker is
// treated as an unresolved citation.
func (r *citationRewriter) Flush() string {
	if strings.HasPrefix(r.pending, citeOpen) {
		r.unresolved[strings.TrimPrefix(r.pending, citeOpen)] = true
		r.pending = ""
		return "[?]"
	}
	out := r.pending
	r.pending = ""
	return out
}

func (r *citationRewriter) rewrite(id string) string {
	if _, ok := r.available[id]; !ok {
		r.unresolved[id] = true
		return "[?]"
	}
	n, ok := r.assigned[id]
	if !ok {
		n = len(r.order) + 1
		r.assigned[id] = n
		r.order = append(r.order, id)
	}
	return fmt.Sprintf("[%d]", n)
}

// Citations returns the resolved sources numbered 1..N in first-appearance
// order.
func (r *citationRewriter) Citations() []models.Citation {
	citations := make([]models.Citation, 0, len(r.order))
	for i, id := range r.order {
		citations = append(citations, toCitation(r.available[id], i+1))
	}
	return citations
}

// Err reports unresolved markers. The answer must fail rather than ship
// citations that point nowhere.
func (r *citationRewriter) Err() error {
	if len(r.unresolved) == 0 {
		return nil
	}
	ids := make([]string, 0, len(r.unresolved))
	for id := range r.unresolved {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return errkind.Newf(errkind.KindDataIntegrity,
		"unresolved citation markers: %s", strings.Join(ids, ", "))
}

// partialMarkerSuffix returns how many trailing bytes of text could still be
// the beginning of a citation marker.
func partialMarkerSuffix(text string) int {
	max := len(citeOpen) - 1
	if max > len(text) {
		max = len(text)
	}
	for n := max; n > 0; n-- {
		if strings.HasPrefix(citeOpen, text[len(text)-n:]) {
			return n
		}
	}
	return 0
}
