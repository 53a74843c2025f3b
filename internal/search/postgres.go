package search

import (
	"context"
	"fmt"

	"imagevault/internal/models"

	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"
)

// PostgresIndex mirrors record embeddings into pgvector and answers exact
// cosine scans. The JSON document remains the source of truth; the mirror is
// rebuilt from it at startup and updated after every mutation.
type PostgresIndex struct {
	db *pgxpool.Pool
}

func NewPostgresIndex(db *pgxpool.Pool) *PostgresIndex {
	return &PostgresIndex{db: db}
}

// Migrate creates the mirror table. No ANN index is created, so every
// search is a sequential scan with exact scores.
func (p *PostgresIndex) Migrate(ctx context.Context) error {
	_, err := p.db.Exec(ctx, `
		CREATE EXTENSION IF NOT EXISTS vector;
		CREATE TABLE IF NOT EXISTS image_embeddings (
			id         TEXT PRIMARY KEY,
			position   INT NOT NULL,
			embedding  vector,
			updated_at TIMESTAMPTZ DEFAULT NOW()
		);
	`)
	if err != nil {
		return fmt.Errorf("migrate image_embeddings: %w", err)
	}
	return nil
}

// Sync upserts one record at its insertion position.
func (p *PostgresIndex) Sync(ctx context.Context, position int, rec models.ImageRecord) error {
	var embedding any
	if len(rec.Embedding) > 0 {
		embedding = pgvector.NewVector(rec.Embedding)
	}

	_, err := p.db.Exec(ctx, `
		INSERT INTO image_embeddings (id, position, embedding, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (id) DO UPDATE
		SET position = EXCLUDED.position,
		    embedding = EXCLUDED.embedding,
		    updated_at = NOW()
	`, rec.ID, position, embedding)
	if err != nil {
		return fmt.Errorf("sync embedding %s: %w", rec.ID, err)
	}
	return nil
}

// Rebuild replaces the mirror with the given records.
func (p *PostgresIndex) Rebuild(ctx context.Context, records []models.ImageRecord) error {
	tx, err := p.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin rebuild: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM image_embeddings`); err != nil {
		return fmt.Errorf("clear mirror: %w", err)
	}

	for i, rec := range records {
		var embedding any
		if len(rec.Embedding) > 0 {
			embedding = pgvector.NewVector(rec.Embedding)
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO image_embeddings (id, position, embedding)
			VALUES ($1, $2, $3)
		`, rec.ID, i, embedding); err != nil {
			return fmt.Errorf("insert %s: %w", rec.ID, err)
		}
	}

	return tx.Commit(ctx)
}

// Search returns up to k ids ordered by cosine similarity, ties by position.
// Zero-norm rows score 0 instead of NaN.
func (p *PostgresIndex) Search(ctx context.Context, query []float32, k int) ([]Hit, error) {
	rows, err := p.db.Query(ctx, `
		SELECT id,
		       CASE WHEN vector_norm(embedding) = 0 THEN 0
		            ELSE 1 - (embedding <=> $1)
		       END AS score
		FROM image_embeddings
		WHERE embedding IS NOT NULL
		ORDER BY score DESC, position ASC
		LIMIT $2
	`, pgvector.NewVector(query), k)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	var hits []Hit
	for rows.Next() {
		var h Hit
		if err := rows.Scan(&h.ID, &h.Score); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		hits = append(hits, h)
	}
	return hits, rows.Err()
}
