package retrieval

import (
	"context"
	"encoding/json"
	"sort"
	"strconv"

	"github.com/jmoiron/sqlx"

	"github.com/veritas-engine/veritas/pkg/errkind"
	"github.com/veritas-engine/veritas/pkg/models"
)

// GraphStore is the relational/graph search backend. It matches documents
// whose fields contain the query terms and follows reference edges one hop,
// so a query naming a statute also surfaces commentary citing it.
type GraphStore interface {
	Search(ctx context.Context, query string, topK int) ([]models.EvidenceChunk, error)
}

// PostgresGraphStore implements graph search over a document_edges table.
type PostgresGraphStore struct {
	db *sqlx.DB
}

// NewPostgresGraphStore wraps an open database handle.
func NewPostgresGraphStore(db *sqlx.DB) *PostgresGraphStore {
	return &PostgresGraphStore{db: db}
}

type graphRow struct {
	ChunkID    string          `db:"chunk_id"`
	DocumentID string          `db:"document_id"`
	Content    string          `db:"content"`
	Metadata   json.RawMessage `db:"metadata"`
	Score      float64         `db:"score"`
}

// Search matches query terms case-insensitively against document titles and
// tags, then pulls one representative chunk per matched or referenced
// document. Direct matches score 1.0, one-hop neighbours 0.5.
func (s *PostgresGraphStore) Search(ctx context.Context, query string, topK int) ([]models.EvidenceChunk, error) {
	terms := tokenize(query)
	if len(terms) == 0 || topK <= 0 {
		return nil, nil
	}
	patterns := make([]string, len(terms))
	for i, t := range terms {
		patterns[i] = "%" + t + "%"
	}

	const q = `
		WITH matched AS (
			SELECT d.document_id, 1.0 AS score
			FROM documents d
			WHERE d.title ILIKE ANY($1) OR d.tags_text ILIKE ANY($1)
		),
		expanded AS (
			SELECT document_id, score FROM matched
			UNION ALL
			SELECT e.target_document_id, 0.5
			FROM document_edges e
			JOIN matched m ON m.document_id = e.source_document_id
		),
		ranked AS (
			SELECT document_id, MAX(score) AS score
			FROM expanded
			GROUP BY document_id
		)
		SELECT DISTINCT ON (c.document_id)
		       c.chunk_id, c.document_id, c.content, c.metadata, r.score
		FROM ranked r
		JOIN evidence_chunks c ON c.document_id = r.document_id
		ORDER BY c.document_id, c.chunk_index
		LIMIT `

	var rows []graphRow
	if err := s.db.SelectContext(ctx, &rows, q+strconv.Itoa(topK), patterns); err != nil {
		return nil, errkind.Wrap(errkind.KindResourceUnavailable, "graph search failed", err)
	}

	chunks := make([]models.EvidenceChunk, 0, len(rows))
	for _, r := range rows {
		c := models.EvidenceChunk{
			ChunkID:    r.ChunkID,
			DocumentID: r.DocumentID,
			Content:    r.Content,
			Source:     models.SourceGraph,
			RawScore:   r.Score,
		}
		if len(r.Metadata) > 0 {
			_ = json.Unmarshal(r.Metadata, &c.Metadata)
		}
		chunks = append(chunks, c)
	}
	// DISTINCT ON ordering is by document; re-sort by score for rank fusion.
	sort.Slice(chunks, func(a, b int) bool {
		if chunks[a].RawScore != chunks[b].RawScore {
			return chunks[a].RawScore > chunks[b].RawScore
		}
		return chunks[a].Key() < chunks[b].Key()
	})
	return chunks, nil
}
