package retrieval

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veritas-engine/veritas/pkg/models"
)

func chunk(doc, id string) models.EvidenceChunk {
	return models.EvidenceChunk{DocumentID: doc, ChunkID: id, Content: doc + "/" + id}
}

func defaultWeights() Weights {
	return Weights{
		models.SourceVector: 0.5,
		models.SourceSparse: 0.3,
		models.SourceGraph:  0.2,
	}
}

func TestFuseRRFDeduplicatesAcrossSources(t *testing.T) {
	ranked := map[models.RetrievalSource][]models.EvidenceChunk{
		models.SourceVector: {chunk("d1", "c1"), chunk("d2", "c1")},
		models.SourceSparse: {chunk("d1", "c1"), chunk("d3", "c1")},
	}

	out := FuseRRF(ranked, defaultWeights(), 60, 10)
	require.Len(t, out, 3)

	seen := make(map[string]bool)
	for _, c := range out {
		assert.False(t, seen[c.Key()], "chunk %s appears twice", c.Key())
		seen[c.Key()] = true
	}

	// d1/c1 appears in both sources and must lead.
	assert.Equal(t, "d1", out[0].DocumentID)
	want := 0.5/61.0 + 0.3/61.0
	assert.InDelta(t, want, out[0].FusedScore, 1e-12)
}

func TestFuseRRFOrderIsMonotone(t *testing.T) {
	ranked := map[models.RetrievalSource][]models.EvidenceChunk{
		models.SourceVector: {chunk("d1", "c1"), chunk("d2", "c1"), chunk("d3", "c1")},
		models.SourceSparse: {chunk("d3", "c1"), chunk("d4", "c1")},
		models.SourceGraph:  {chunk("d2", "c1")},
	}

	out := FuseRRF(ranked, defaultWeights(), 60, 10)
	for i := 1; i < len(out); i++ {
		assert.GreaterOrEqual(t, out[i-1].FusedScore, out[i].FusedScore)
	}
	for i, c := range out {
		assert.Equal(t, i+1, c.RRFRank)
	}
	assert.InDelta(t, 1.0, out[0].Confidence, 1e-12, "top chunk normalises to 1")
}

func TestFuseRRFTruncatesToTopK(t *testing.T) {
	ranked := map[models.RetrievalSource][]models.EvidenceChunk{
		models.SourceVector: {
			chunk("d1", "c1"), chunk("d2", "c1"), chunk("d3", "c1"),
			chunk("d4", "c1"), chunk("d5", "c1"),
		},
	}
	out := FuseRRF(ranked, defaultWeights(), 60, 2)
	assert.Len(t, out, 2)
}

func TestFuseRRFSymmetricInEqualWeightSources(t *testing.T) {
	w := Weights{models.SourceVector: 0.4, models.SourceSparse: 0.4}
	a := map[models.RetrievalSource][]models.EvidenceChunk{
		models.SourceVector: {chunk("d1", "c1"), chunk("d2", "c1")},
		models.SourceSparse: {chunk("d3", "c1")},
	}
	b := map[models.RetrievalSource][]models.EvidenceChunk{
		models.SourceVector: {chunk("d3", "c1")},
		models.SourceSparse: {chunk("d1", "c1"), chunk("d2", "c1")},
	}

	outA := FuseRRF(a, w, 60, 10)
	outB := FuseRRF(b, w, 60, 10)
	require.Equal(t, len(outA), len(outB))
	for i := range outA {
		assert.Equal(t, outA[i].Key(), outB[i].Key())
		assert.InDelta(t, outA[i].FusedScore, outB[i].FusedScore, 1e-12)
	}
}

func TestFuseRRFEmptyInput(t *testing.T) {
	assert.Empty(t, FuseRRF(nil, defaultWeights(), 60, 10))
}
