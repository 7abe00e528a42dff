package retrieval

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veritas-engine/veritas/pkg/config"
	"github.com/veritas-engine/veritas/pkg/models"
)

type fakeEmbedder struct{ err error }

func (f *fakeEmbedder) Embed(context.Context, string) ([]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	return []float32{0.1, 0.2, 0.3}, nil
}

type fakeVector struct {
	chunks []models.EvidenceChunk
	err    error
}

func (f *fakeVector) Search(context.Context, []float32, int, Filters) ([]models.EvidenceChunk, error) {
	return f.chunks, f.err
}

type fakeSparse struct {
	chunks []models.EvidenceChunk
	err    error
}

func (f *fakeSparse) Search(context.Context, string, int) ([]models.EvidenceChunk, error) {
	return f.chunks, f.err
}

type fakeGraph struct {
	chunks []models.EvidenceChunk
	err    error
}

func (f *fakeGraph) Search(context.Context, string, int) ([]models.EvidenceChunk, error) {
	return f.chunks, f.err
}

// reverseReranker scores chunks in reverse input order.
type reverseReranker struct{ err error }

func (r *reverseReranker) Score(_ context.Context, _ string, chunks []models.EvidenceChunk) ([]float64, error) {
	if r.err != nil {
		return nil, r.err
	}
	scores := make([]float64, len(chunks))
	for i := range chunks {
		scores[i] = float64(i)
	}
	return scores, nil
}

func sourceChunks(source models.RetrievalSource, docs ...string) []models.EvidenceChunk {
	out := make([]models.EvidenceChunk, len(docs))
	for i, d := range docs {
		out[i] = models.EvidenceChunk{DocumentID: d, ChunkID: "c1", Source: source}
	}
	return out
}

func TestRetrieveFusesAllBackends(t *testing.T) {
	r := NewRetriever(config.DefaultRetrievalConfig(), Options{
		Embedder: &fakeEmbedder{},
		Vector:   &fakeVector{chunks: sourceChunks(models.SourceVector, "d1", "d2")},
		Sparse:   &fakeSparse{chunks: sourceChunks(models.SourceSparse, "d2", "d3")},
		Graph:    &fakeGraph{chunks: sourceChunks(models.SourceGraph, "d4")},
	})

	res, err := r.Retrieve(context.Background(), &Request{Query: "Baugenehmigung", TopK: 10})
	require.NoError(t, err)

	assert.Len(t, res.SourcesUsed, 3)
	assert.Empty(t, res.Degraded)
	require.Len(t, res.Chunks, 4)
	// d2 appears in vector and sparse rankings and must lead.
	assert.Equal(t, "d2", res.Chunks[0].DocumentID)
	for i := 1; i < len(res.Chunks); i++ {
		assert.GreaterOrEqual(t, res.Chunks[i-1].FusedScore, res.Chunks[i].FusedScore)
	}
}

func TestRetrieveDegradesSingleBackend(t *testing.T) {
	r := NewRetriever(config.DefaultRetrievalConfig(), Options{
		Embedder: &fakeEmbedder{},
		Vector:   &fakeVector{err: errors.New("connection refused")},
		Sparse:   &fakeSparse{chunks: sourceChunks(models.SourceSparse, "d1")},
	})

	res, err := r.Retrieve(context.Background(), &Request{Query: "Ermessen", TopK: 5})
	require.NoError(t, err)

	assert.Contains(t, res.Degraded, models.SourceVector)
	require.Len(t, res.Chunks, 1)
	assert.Equal(t, "d1", res.Chunks[0].DocumentID)
}

func TestRetrieveAllBackendsDegraded(t *testing.T) {
	boom := errors.New("unreachable")
	r := NewRetriever(config.DefaultRetrievalConfig(), Options{
		Embedder: &fakeEmbedder{},
		Vector:   &fakeVector{err: boom},
		Sparse:   &fakeSparse{err: boom},
		Graph:    &fakeGraph{err: boom},
	})

	res, err := r.Retrieve(context.Background(), &Request{Query: "Ermessen", TopK: 5})
	require.NoError(t, err, "total degradation is diagnostic, not an error")
	assert.Empty(t, res.Chunks)
	assert.Len(t, res.Degraded, 3)
}

func TestRetrieveEmptyQuery(t *testing.T) {
	r := NewRetriever(config.DefaultRetrievalConfig(), Options{
		Embedder: &fakeEmbedder{},
		Vector:   &fakeVector{chunks: sourceChunks(models.SourceVector, "d1")},
	})

	res, err := r.Retrieve(context.Background(), &Request{Query: "  ", TopK: 5})
	require.NoError(t, err)
	assert.Empty(t, res.Chunks)
	assert.Empty(t, res.SourcesUsed)
}

func TestRetrieveHonorsSourceRestriction(t *testing.T) {
	r := NewRetriever(config.DefaultRetrievalConfig(), Options{
		Embedder: &fakeEmbedder{},
		Vector:   &fakeVector{chunks: sourceChunks(models.SourceVector, "d1")},
		Sparse:   &fakeSparse{chunks: sourceChunks(models.SourceSparse, "d2")},
	})

	res, err := r.Retrieve(context.Background(), &Request{
		Query:   "Ermessen",
		TopK:    5,
		Sources: []models.RetrievalSource{models.SourceSparse},
	})
	require.NoError(t, err)
	assert.Equal(t, []models.RetrievalSource{models.SourceSparse}, res.SourcesUsed)
	require.Len(t, res.Chunks, 1)
	assert.Equal(t, "d2", res.Chunks[0].DocumentID)
}

func TestRetrieveAppliesReranker(t *testing.T) {
	cfg := config.DefaultRetrievalConfig()
	cfg.EnableReranking = true
	cfg.RerankThreshold = 3

	r := NewRetriever(cfg, Options{
		Embedder: &fakeEmbedder{},
		Vector:   &fakeVector{chunks: sourceChunks(models.SourceVector, "d1", "d2", "d3", "d4")},
		Reranker: &reverseReranker{},
	})

	res, err := r.Retrieve(context.Background(), &Request{Query: "Ermessen", TopK: 10})
	require.NoError(t, err)
	assert.True(t, res.Reranked)
	require.Len(t, res.Chunks, 4)
	// The reverse reranker promotes the previously last chunk.
	assert.Equal(t, "d4", res.Chunks[0].DocumentID)
	require.NotNil(t, res.Chunks[0].RerankScore)
}

func TestRetrieveKeepsFusedOrderOnRerankFailure(t *testing.T) {
	cfg := config.DefaultRetrievalConfig()
	cfg.EnableReranking = true
	cfg.RerankThreshold = 2

	r := NewRetriever(cfg, Options{
		Embedder: &fakeEmbedder{},
		Vector:   &fakeVector{chunks: sourceChunks(models.SourceVector, "d1", "d2", "d3")},
		Reranker: &reverseReranker{err: errors.New("model load timeout")},
	})

	res, err := r.Retrieve(context.Background(), &Request{Query: "Ermessen", TopK: 10})
	require.NoError(t, err)
	assert.False(t, res.Reranked)
	assert.Equal(t, "d1", res.Chunks[0].DocumentID)
}
