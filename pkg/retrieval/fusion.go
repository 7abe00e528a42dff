package retrieval

import (
	"sort"

	"github.com/veritas-engine/veritas/pkg/models"
)

// Weights are the per-source fusion weights. Zero-valued sources fall back
// to the configured defaults at the retriever level.
type Weights map[models.RetrievalSource]float64

// FuseRRF merges per-source rankings with Reciprocal Rank Fusion:
//
//	fused_score(d) = Σ_s w_s / (k + rank_s(d))
//
// over the sources in which d appears, rank 1-based. Duplicates collapse by
// (document_id, chunk_id); the chunk body is taken from the highest-weighted
// source that returned it. Output is ordered by descending fused score with
// the chunk key as a deterministic tie-break, truncated to topK.
func FuseRRF(ranked map[models.RetrievalSource][]models.EvidenceChunk, weights Weights, k, topK int) []models.EvidenceChunk {
	if k <= 0 {
		k = 60
	}

	type fused struct {
		chunk      models.EvidenceChunk
		score      float64
		bestWeight float64
	}
	merged := make(map[string]*fused)

	// Iterate sources in a fixed order so equal-weight ties resolve the
	// same way regardless of map iteration.
	for _, source := range []models.RetrievalSource{models.SourceVector, models.SourceSparse, models.SourceGraph} {
		w := weights[source]
		if w <= 0 {
			continue
		}
		for rank, chunk := range ranked[source] {
			contribution := w / float64(k+rank+1)
			key := chunk.Key()
			entry, ok := merged[key]
			if !ok {
				merged[key] = &fused{chunk: chunk, score: contribution, bestWeight: w}
				continue
			}
			entry.score += contribution
			if w > entry.bestWeight {
				entry.chunk = chunk
				entry.bestWeight = w
			}
		}
	}

	out := make([]models.EvidenceChunk, 0, len(merged))
	for _, f := range merged {
		c := f.chunk
		c.FusedScore = f.score
		out = append(out, c)
	}
	sort.Slice(out, func(a, b int) bool {
		if out[a].FusedScore != out[b].FusedScore {
			return out[a].FusedScore > out[b].FusedScore
		}
		return out[a].Key() < out[b].Key()
	})
	if len(out) > topK && topK > 0 {
		out = out[:topK]
	}

	// Rank positions and confidence are assigned on the final ordering.
	// Confidence normalises against the top fused score.
	var top float64
	if len(out) > 0 {
		top = out[0].FusedScore
	}
	for i := range out {
		out[i].RRFRank = i + 1
		if top > 0 {
			out[i].Confidence = out[i].FusedScore / top
		}
	}
	return out
}
