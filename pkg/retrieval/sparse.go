package retrieval

import (
	"context"
	"math"
	"sort"
	"strings"
	"sync"
	"unicode"

	"github.com/veritas-engine/veritas/pkg/models"
)

// SparseStore is the lexical search backend.
type SparseStore interface {
	Search(ctx context.Context, query string, topK int) ([]models.EvidenceChunk, error)
}

// germanStopwords are dropped during tokenisation. Short curated list; the
// corpus is legal prose where function words carry no retrieval signal.
var germanStopwords = map[string]bool{
	"der": true, "die": true, "das": true, "den": true, "dem": true, "des": true,
	"ein": true, "eine": true, "einer": true, "eines": true, "einem": true, "einen": true,
	"und": true, "oder": true, "aber": true, "nicht": true, "kein": true,
	"ist": true, "sind": true, "war": true, "wird": true, "werden": true, "wurde": true,
	"in": true, "im": true, "an": true, "am": true, "auf": true, "für": true, "von": true,
	"vom": true, "zu": true, "zum": true, "zur": true, "mit": true, "bei": true, "nach": true,
	"als": true, "auch": true, "es": true, "sich": true, "dass": true,
	"the": true, "of": true, "to": true, "and": true, "is": true,
}

// BM25Index is an in-memory Okapi BM25 index over evidence chunks. Safe for
// concurrent use; writes take the exclusive lock.
type BM25Index struct {
	mu sync.RWMutex

	k1 float64
	b  float64

	docs     []indexedChunk
	byKey    map[string]int
	df       map[string]int // term -> number of chunks containing it
	totalLen int
}

type indexedChunk struct {
	chunk  models.EvidenceChunk
	terms  map[string]int
	length int
}

// NewBM25Index builds an empty index with the given Okapi parameters.
func NewBM25Index(k1, b float64) *BM25Index {
	return &BM25Index{
		k1:    k1,
		b:     b,
		byKey: make(map[string]int),
		df:    make(map[string]int),
	}
}

// Add indexes one chunk. Re-adding a chunk with the same (document, chunk)
// identity replaces its content.
func (idx *BM25Index) Add(chunk models.EvidenceChunk) {
	tokens := tokenize(chunk.Content + " " + chunk.Metadata.Title)
	terms := make(map[string]int, len(tokens))
	for _, t := range tokens {
		terms[t]++
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()

	if pos, ok := idx.byKey[chunk.Key()]; ok {
		old := idx.docs[pos]
		for t := range old.terms {
			idx.df[t]--
			if idx.df[t] == 0 {
				delete(idx.df, t)
			}
		}
		idx.totalLen -= old.length
		idx.docs[pos] = indexedChunk{chunk: chunk, terms: terms, length: len(tokens)}
	} else {
		idx.byKey[chunk.Key()] = len(idx.docs)
		idx.docs = append(idx.docs, indexedChunk{chunk: chunk, terms: terms, length: len(tokens)})
	}
	for t := range terms {
		idx.df[t]++
	}
	idx.totalLen += len(tokens)
}

// Len returns the number of indexed chunks.
func (idx *BM25Index) Len() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.docs)
}

// Search scores all indexed chunks against the query and returns the topK by
// descending BM25 score. Chunks with zero overlap are omitted.
func (idx *BM25Index) Search(_ context.Context, query string, topK int) ([]models.EvidenceChunk, error) {
	queryTerms := tokenize(query)
	if len(queryTerms) == 0 || topK <= 0 {
		return nil, nil
	}

	idx.mu.RLock()
	defer idx.mu.RUnlock()

	n := len(idx.docs)
	if n == 0 {
		return nil, nil
	}
	avgLen := float64(idx.totalLen) / float64(n)

	type scored struct {
		pos   int
		score float64
	}
	var hits []scored
	for pos, doc := range idx.docs {
		var score float64
		for _, term := range queryTerms {
			tf := doc.terms[term]
			if tf == 0 {
				continue
			}
			df := idx.df[term]
			// Okapi IDF with the +1 shift to keep it positive for common terms.
			idf := math.Log(1 + (float64(n)-float64(df)+0.5)/(float64(df)+0.5))
			norm := float64(tf) * (idx.k1 + 1) /
				(float64(tf) + idx.k1*(1-idx.b+idx.b*float64(doc.length)/avgLen))
			score += idf * norm
		}
		if score > 0 {
			hits = append(hits, scored{pos: pos, score: score})
		}
	}

	sort.Slice(hits, func(a, b int) bool {
		if hits[a].score != hits[b].score {
			return hits[a].score > hits[b].score
		}
		return idx.docs[hits[a].pos].chunk.Key() < idx.docs[hits[b].pos].chunk.Key()
	})
	if len(hits) > topK {
		hits = hits[:topK]
	}

	out := make([]models.EvidenceChunk, 0, len(hits))
	for _, h := range hits {
		c := idx.docs[h.pos].chunk
		c.Source = models.SourceSparse
		c.RawScore = h.score
		out = append(out, c)
	}
	return out, nil
}

// tokenize lowercases, splits on non-letter/digit runes, and drops stopwords
// and single-rune tokens.
func tokenize(s string) []string {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	out := fields[:0]
	for _, f := range fields {
		if len([]rune(f)) < 2 || germanStopwords[f] {
			continue
		}
		out = append(out, f)
	}
	return out
}

var _ SparseStore = (*BM25Index)(nil)
