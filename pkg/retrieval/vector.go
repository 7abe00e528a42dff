package retrieval

import (
	"context"
	"encoding/json"
	"strconv"

	"github.com/jmoiron/sqlx"
	"github.com/pgvector/pgvector-go"

	"github.com/veritas-engine/veritas/pkg/errkind"
	"github.com/veritas-engine/veritas/pkg/models"
)

// Filters narrows a retrieval to a subset of the corpus.
type Filters struct {
	// Collections restricts the search to the named document collections.
	Collections []string
	// Domain restricts to documents tagged with one domain.
	Domain string
}

// VectorStore is the dense search backend.
type VectorStore interface {
	Search(ctx context.Context, embedding []float32, topK int, filters Filters) ([]models.EvidenceChunk, error)
}

// PgVectorStore implements dense search over a pgvector column. Cosine
// distance; similarity is reported as 1 − distance so scores land in [0,1].
type PgVectorStore struct {
	db *sqlx.DB
}

// NewPgVectorStore wraps an open database handle.
func NewPgVectorStore(db *sqlx.DB) *PgVectorStore {
	return &PgVectorStore{db: db}
}

type vectorRow struct {
	ChunkID    string          `db:"chunk_id"`
	DocumentID string          `db:"document_id"`
	Content    string          `db:"content"`
	Metadata   json.RawMessage `db:"metadata"`
	Similarity float64         `db:"similarity"`
}

// Search returns the topK nearest chunks for the embedding.
func (s *PgVectorStore) Search(ctx context.Context, embedding []float32, topK int, filters Filters) ([]models.EvidenceChunk, error) {
	query := `
		SELECT c.chunk_id, c.document_id, c.content, c.metadata,
		       1 - (c.embedding <=> $1) AS similarity
		FROM evidence_chunks c
		JOIN documents d ON d.document_id = c.document_id
		WHERE c.embedding IS NOT NULL`
	args := []any{pgvector.NewVector(embedding)}

	if len(filters.Collections) > 0 {
		query += ` AND d.collection = ANY($2)`
		args = append(args, filters.Collections)
	}
	if filters.Domain != "" {
		query += ` AND d.domain = $` + strconv.Itoa(len(args)+1)
		args = append(args, filters.Domain)
	}
	query += ` ORDER BY c.embedding <=> $1 LIMIT ` + strconv.Itoa(topK)

	var rows []vectorRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, errkind.Wrap(errkind.KindResourceUnavailable, "vector search failed", err)
	}

	chunks := make([]models.EvidenceChunk, 0, len(rows))
	for _, r := range rows {
		c := models.EvidenceChunk{
			ChunkID:    r.ChunkID,
			DocumentID: r.DocumentID,
			Content:    r.Content,
			Source:     models.SourceVector,
			RawScore:   r.Similarity,
		}
		if len(r.Metadata) > 0 {
			// Malformed metadata loses citation detail, not the chunk.
			_ = json.Unmarshal(r.Metadata, &c.Metadata)
		}
		chunks = append(chunks, c)
	}
	return chunks, nil
}
