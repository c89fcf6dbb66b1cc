package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	pgvector "github.com/pgvector/pgvector-go"

	"github.com/northstar-hq/northstar/pkg/store"
)

// CreateDocument implements [store.DocumentStore]. The embedding column stays
// NULL for documents written without an embedding; those remain reachable
// through full-text search only.
func (s *Store) CreateDocument(ctx context.Context, doc store.Document) error {
	const q = `
		INSERT INTO documents (id, title, content, embedding, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)`

	var embedding any
	if doc.Embedding != nil {
		embedding = pgvector.NewVector(doc.Embedding)
	}

	_, err := s.pool.Exec(ctx, q,
		doc.ID,
		doc.Title,
		doc.Content,
		embedding,
		doc.CreatedAt,
		doc.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("document store: create document: %w", err)
	}
	return nil
}

// SearchByEmbedding implements [store.DocumentStore]. It finds the topK
// documents whose embeddings are closest (cosine distance) to the query
// embedding, most similar first.
func (s *Store) SearchByEmbedding(ctx context.Context, embedding []float32, topK int) ([]store.DocumentResult, error) {
	queryVec := pgvector.NewVector(embedding)

	const q = `
		SELECT id, title, content, embedding, created_at, updated_at,
		       embedding <=> $1 AS distance
		FROM   documents
		WHERE  embedding IS NOT NULL
		ORDER  BY distance
		LIMIT  $2`

	rows, err := s.pool.Query(ctx, q, queryVec, topK)
	if err != nil {
		return nil, fmt.Errorf("document store: search by embedding: %w", err)
	}
	return collectDocumentResults(rows)
}

// SearchText implements [store.DocumentStore]. It performs PostgreSQL
// full-text search over title and content via plainto_tsquery, ranked by
// ts_rank (most relevant first).
func (s *Store) SearchText(ctx context.Context, query string, limit int) ([]store.DocumentResult, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}

	const q = `
		SELECT id, title, content, embedding, created_at, updated_at,
		       ts_rank(to_tsvector('english', title || ' ' || content),
		               plainto_tsquery('english', $1)) AS rank
		FROM   documents
		WHERE  to_tsvector('english', title || ' ' || content) @@ plainto_tsquery('english', $1)
		ORDER  BY rank DESC
		LIMIT  $2`

	rows, err := s.pool.Query(ctx, q, query, limit)
	if err != nil {
		return nil, fmt.Errorf("document store: search text: %w", err)
	}
	return collectDocumentResults(rows)
}

// collectDocumentResults scans pgx rows into DocumentResult values. The score
// column is the last selected expression, whatever its interpretation.
func collectDocumentResults(rows pgx.Rows) ([]store.DocumentResult, error) {
	results, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (store.DocumentResult, error) {
		var (
			dr  store.DocumentResult
			vec *pgvector.Vector
		)
		if err := row.Scan(
			&dr.Document.ID,
			&dr.Document.Title,
			&dr.Document.Content,
			&vec,
			&dr.Document.CreatedAt,
			&dr.Document.UpdatedAt,
			&dr.Score,
		); err != nil {
			return store.DocumentResult{}, err
		}
		if vec != nil {
			dr.Document.Embedding = vec.Slice()
		}
		return dr, nil
	})
	if err != nil {
		return nil, fmt.Errorf("document store: scan rows: %w", err)
	}
	if results == nil {
		results = []store.DocumentResult{}
	}
	return results, nil
}
