package retrieval

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veritas-engine/veritas/pkg/models"
)

func testIndex() *BM25Index {
	idx := NewBM25Index(1.5, 0.75)
	idx.Add(models.EvidenceChunk{
		DocumentID: "lbo-kommentar", ChunkID: "c1",
		Content: "Die Baugenehmigung wird erteilt, wenn dem Vorhaben keine öffentlich-rechtlichen Vorschriften entgegenstehen.",
	})
	idx.Add(models.EvidenceChunk{
		DocumentID: "vwvfg-kommentar", ChunkID: "c1",
		Content: "Das Ermessen der Behörde ist entsprechend dem Zweck der Ermächtigung auszuüben.",
	})
	idx.Add(models.EvidenceChunk{
		DocumentID: "whg-leitfaden", ChunkID: "c1",
		Content: "Gewässerbenutzungen bedürfen der Erlaubnis oder der Bewilligung nach dem Wasserhaushaltsgesetz.",
	})
	return idx
}

func TestBM25RanksMatchingChunkFirst(t *testing.T) {
	idx := testIndex()
	out, err := idx.Search(context.Background(), "Wann wird eine Baugenehmigung erteilt?", 10)
	require.NoError(t, err)
	require.NotEmpty(t, out)

	assert.Equal(t, "lbo-kommentar", out[0].DocumentID)
	assert.Equal(t, models.SourceSparse, out[0].Source)
	assert.Positive(t, out[0].RawScore)
}

func TestBM25OmitsNonMatching(t *testing.T) {
	idx := testIndex()
	out, err := idx.Search(context.Background(), "Ermessen", 10)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "vwvfg-kommentar", out[0].DocumentID)
}

func TestBM25EmptyQuery(t *testing.T) {
	idx := testIndex()
	out, err := idx.Search(context.Background(), "   ", 10)
	require.NoError(t, err)
	assert.Empty(t, out)

	// Stopword-only queries tokenize to nothing.
	out, err = idx.Search(context.Background(), "der die das und", 10)
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestBM25TopKCap(t *testing.T) {
	idx := NewBM25Index(1.5, 0.75)
	for _, doc := range []string{"a", "b", "c", "d"} {
		idx.Add(models.EvidenceChunk{
			DocumentID: doc, ChunkID: "c1",
			Content: "Abstandsfläche Abstandsfläche Grenzbebauung",
		})
	}
	out, err := idx.Search(context.Background(), "Abstandsfläche", 2)
	require.NoError(t, err)
	assert.Len(t, out, 2)
}

func TestBM25ReAddReplacesChunk(t *testing.T) {
	idx := testIndex()
	before := idx.Len()

	idx.Add(models.EvidenceChunk{
		DocumentID: "lbo-kommentar", ChunkID: "c1",
		Content: "Vollständig neuer Inhalt über Stellplätze.",
	})
	assert.Equal(t, before, idx.Len(), "re-add must not grow the index")

	out, err := idx.Search(context.Background(), "Baugenehmigung", 10)
	require.NoError(t, err)
	assert.Empty(t, out, "old content no longer matches")

	out, err = idx.Search(context.Background(), "Stellplätze", 10)
	require.NoError(t, err)
	require.Len(t, out, 1)
}
