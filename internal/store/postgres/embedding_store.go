package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/polyrelate/internal/domain"
)

// EmbeddingStore implements domain.EmbeddingStore. Vectors are stored as
// REAL[] which pgx maps to []float32 directly.
type EmbeddingStore struct {
	pool      *pgxpool.Pool
	chunkSize int
}

var _ domain.EmbeddingStore = (*EmbeddingStore)(nil)

// NewEmbeddingStore creates a new EmbeddingStore.
func NewEmbeddingStore(pool *pgxpool.Pool, chunkSize int) *EmbeddingStore {
	return &EmbeddingStore{pool: pool, chunkSize: chunkSize}
}

// Get returns the embedding for one market.
func (s *EmbeddingStore) Get(ctx context.Context, marketID int64) (domain.Embedding, error) {
	var e domain.Embedding
	err := s.pool.QueryRow(ctx,
		`SELECT market_id, embedding, model, created_at FROM vector_embeddings WHERE market_id = $1`,
		marketID,
	).Scan(&e.MarketID, &e.Vector, &e.Model, &e.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Embedding{}, domain.ErrNotFound
		}
		return domain.Embedding{}, fmt.Errorf("postgres: get embedding %d: %w", marketID, err)
	}
	return e, nil
}

// GetByIDs loads vectors for the given markets. Markets without an embedding
// are absent from the result.
func (s *EmbeddingStore) GetByIDs(ctx context.Context, marketIDs []int64) (map[int64][]float32, error) {
	out := make(map[int64][]float32, len(marketIDs))
	for _, chunk := range chunks(marketIDs, s.chunkSize) {
		rows, err := s.pool.Query(ctx,
			`SELECT market_id, embedding FROM vector_embeddings WHERE market_id = ANY($1)`, chunk)
		if err != nil {
			return nil, fmt.Errorf("postgres: get embeddings: %w", err)
		}
		for rows.Next() {
			var id int64
			var vec []float32
			if err := rows.Scan(&id, &vec); err != nil {
				rows.Close()
				return nil, fmt.Errorf("postgres: scan embedding: %w", err)
			}
			out[id] = vec
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("postgres: embedding rows: %w", err)
		}
	}
	return out, nil
}

// ListMarketIDs returns every market ID that has an embedding.
func (s *EmbeddingStore) ListMarketIDs(ctx context.Context) ([]int64, error) {
	rows, err := s.pool.Query(ctx, `SELECT market_id FROM vector_embeddings ORDER BY market_id`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list embedding ids: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, fmt.Errorf("postgres: scan embedding ids: %w", err)
	}
	return ids, nil
}

// MissingMarketIDs lists markets with no embedding, lowest ID first.
func (s *EmbeddingStore) MissingMarketIDs(ctx context.Context, limit int) ([]int64, error) {
	query := `
		SELECT m.id FROM markets m
		LEFT JOIN vector_embeddings e ON e.market_id = m.id
		WHERE e.market_id IS NULL
		ORDER BY m.id`
	var args []any
	if limit > 0 {
		query += " LIMIT $1"
		args = append(args, limit)
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list markets without embeddings: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, fmt.Errorf("postgres: scan markets without embeddings: %w", err)
	}
	return ids, nil
}

// UpsertBatch stores embeddings, replacing existing vectors.
func (s *EmbeddingStore) UpsertBatch(ctx context.Context, embeddings []domain.Embedding) error {
	const query = `
		INSERT INTO vector_embeddings (market_id, embedding, model, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (market_id) DO UPDATE SET
			embedding  = EXCLUDED.embedding,
			model      = EXCLUDED.model,
			updated_at = NOW()`

	for _, chunk := range chunks(embeddings, s.chunkSize) {
		batch := &pgx.Batch{}
		for _, e := range chunk {
			batch.Queue(query, e.MarketID, e.Vector, e.Model)
		}
		br := s.pool.SendBatch(ctx, batch)
		for _, e := range chunk {
			if _, err := br.Exec(); err != nil {
				_ = br.Close()
				return fmt.Errorf("postgres: upsert embedding %d: %w", e.MarketID, err)
			}
		}
		if err := br.Close(); err != nil {
			return fmt.Errorf("postgres: upsert embedding batch: %w", err)
		}
	}
	return nil
}
