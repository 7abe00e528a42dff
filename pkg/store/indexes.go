package store

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// CreateSearchIndexes creates the search indexes PostgreSQL needs beyond the
// plain schema: a German full-text GIN index over chunk content and an
// approximate nearest-neighbour index over the embedding column.
func CreateSearchIndexes(ctx context.Context, db *sqlx.DB) error {
	_, err := db.ExecContext(ctx,
		`CREATE INDEX IF NOT EXISTS idx_evidence_chunks_content_gin
		ON evidence_chunks USING gin(to_tsvector('german', content))`)
	if err != nil {
		return fmt.Errorf("failed to create content GIN index: %w", err)
	}

	_, err = db.ExecContext(ctx,
		`CREATE INDEX IF NOT EXISTS idx_evidence_chunks_embedding
		ON evidence_chunks USING ivfflat (embedding vector_cosine_ops) WITH (lists = 100)`)
	if err != nil {
		return fmt.Errorf("failed to create embedding index: %w", err)
	}

	return nil
}
