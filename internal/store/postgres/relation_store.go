package postgres

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/polyrelate/internal/domain"
)

// RelationStore implements domain.RelationStore on the market_relations table.
type RelationStore struct {
	pool      *pgxpool.Pool
	chunkSize int
}

var _ domain.RelationStore = (*RelationStore)(nil)

// NewRelationStore creates a new RelationStore.
func NewRelationStore(pool *pgxpool.Pool, chunkSize int) *RelationStore {
	return &RelationStore{pool: pool, chunkSize: chunkSize}
}

// xmax is zero only for freshly inserted tuples, which separates inserts from
// conflict updates.
const upsertRelationSQL = `
	INSERT INTO market_relations (market_id_1, market_id_2, similarity, correlation, pressure, updated_at)
	VALUES ($1, $2, $3, $4, $5, NOW())
	ON CONFLICT (market_id_1, market_id_2) DO UPDATE SET
		similarity  = EXCLUDED.similarity,
		correlation = EXCLUDED.correlation,
		pressure    = EXCLUDED.pressure,
		updated_at  = NOW()
	RETURNING (xmax = 0)`

const relationCols = `market_id_1, market_id_2, similarity, correlation, pressure, created_at, updated_at`

func relationArgs(r domain.Relation) []any {
	k := r.Key()
	return []any{k.Lo, k.Hi, r.Similarity, r.Correlation, r.Pressure}
}

// Upsert writes one relation in canonical order.
func (s *RelationStore) Upsert(ctx context.Context, r domain.Relation) error {
	if r.MarketID1 == r.MarketID2 {
		return domain.NewValidationError("market_id", "relation requires two distinct markets")
	}
	var inserted bool
	if err := s.pool.QueryRow(ctx, upsertRelationSQL, relationArgs(r)...).Scan(&inserted); err != nil {
		return fmt.Errorf("postgres: upsert relation %s: %w", r.Key(), err)
	}
	return nil
}

// UpsertBatch writes relations in chunks, one transaction per chunk. A failed
// chunk is rolled back and counted as failed; later chunks still run. The
// returned error joins every chunk failure.
func (s *RelationStore) UpsertBatch(ctx context.Context, relations []domain.Relation) (domain.BatchResult, error) {
	res := domain.BatchResult{Total: len(relations)}
	var errs []error
	for _, chunk := range chunks(relations, s.chunkSize) {
		if err := ctx.Err(); err != nil {
			res.Failed += res.Total - res.Created - res.Updated - res.Failed
			errs = append(errs, err)
			break
		}
		created, updated, err := s.upsertChunk(ctx, chunk)
		if err != nil {
			res.Failed += len(chunk)
			errs = append(errs, err)
			continue
		}
		res.Created += created
		res.Updated += updated
	}
	return res, errors.Join(errs...)
}

func (s *RelationStore) upsertChunk(ctx context.Context, chunk []domain.Relation) (created, updated int, err error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("postgres: begin relation batch: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	batch := &pgx.Batch{}
	for _, r := range chunk {
		batch.Queue(upsertRelationSQL, relationArgs(r)...)
	}
	br := tx.SendBatch(ctx, batch)
	for _, r := range chunk {
		var inserted bool
		if err := br.QueryRow().Scan(&inserted); err != nil {
			_ = br.Close()
			return 0, 0, fmt.Errorf("postgres: upsert relation %s: %w", r.Key(), err)
		}
		if inserted {
			created++
		} else {
			updated++
		}
	}
	if err := br.Close(); err != nil {
		return 0, 0, fmt.Errorf("postgres: close relation batch: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, 0, fmt.Errorf("postgres: commit relation batch: %w", err)
	}
	return created, updated, nil
}

func scanRelation(row pgx.Row) (domain.Relation, error) {
	var r domain.Relation
	err := row.Scan(&r.MarketID1, &r.MarketID2, &r.Similarity, &r.Correlation, &r.Pressure, &r.CreatedAt, &r.UpdatedAt)
	return r, err
}

// Get returns the relation for pair.
func (s *RelationStore) Get(ctx context.Context, pair domain.PairKey) (domain.Relation, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+relationCols+` FROM market_relations WHERE market_id_1 = $1 AND market_id_2 = $2`,
		pair.Lo, pair.Hi)
	r, err := scanRelation(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Relation{}, domain.ErrNotFound
		}
		return domain.Relation{}, fmt.Errorf("postgres: get relation %s: %w", pair, err)
	}
	return r, nil
}

// ListForMarket returns relations touching marketID, most similar first.
func (s *RelationStore) ListForMarket(ctx context.Context, marketID int64, minSimilarity float64, limit int) ([]domain.Relation, error) {
	query := `SELECT ` + relationCols + ` FROM market_relations
		WHERE (market_id_1 = $1 OR market_id_2 = $1) AND similarity >= $2
		ORDER BY similarity DESC, market_id_1, market_id_2`
	args := []any{marketID, minSimilarity}
	if limit > 0 {
		query += " LIMIT $3"
		args = append(args, limit)
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list relations for %d: %w", marketID, err)
	}
	defer rows.Close()

	var out []domain.Relation
	for rows.Next() {
		r, err := scanRelation(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan relation: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: relation rows: %w", err)
	}
	return out, nil
}

const listInvolvingSQL = `SELECT ` + relationCols + ` FROM market_relations
	WHERE (market_id_1 = ANY($1) OR market_id_2 = ANY($1)) AND similarity >= $2`

// ListInvolving returns relations touching any of marketIDs. The lookup is
// chunked; a relation whose two ends fall in different chunks is returned once.
func (s *RelationStore) ListInvolving(ctx context.Context, marketIDs []int64, minSimilarity float64) ([]domain.Relation, error) {
	seen := make(map[domain.PairKey]domain.Relation)
	for _, chunk := range chunks(marketIDs, s.chunkSize) {
		rows, err := s.pool.Query(ctx, listInvolvingSQL, chunk, minSimilarity)
		if err != nil {
			return nil, fmt.Errorf("postgres: list relations involving %d markets: %w", len(chunk), err)
		}
		rels, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.Relation, error) {
			return scanRelation(row)
		})
		if err != nil {
			return nil, fmt.Errorf("postgres: scan relation: %w", err)
		}
		for _, r := range rels {
			seen[r.Key()] = r
		}
	}
	return sortBySimilarity(seen), nil
}

// sortBySimilarity flattens rels, most similar first, ties in key order.
func sortBySimilarity(rels map[domain.PairKey]domain.Relation) []domain.Relation {
	out := make([]domain.Relation, 0, len(rels))
	for _, r := range rels {
		out = append(out, r)
	}
	slices.SortFunc(out, func(a, b domain.Relation) int {
		return cmp.Or(
			cmp.Compare(b.Similarity, a.Similarity),
			cmp.Compare(a.MarketID1, b.MarketID1),
			cmp.Compare(a.MarketID2, b.MarketID2),
		)
	})
	return out
}

// ListPairs pages through every stored pair in key order, starting after
// (afterLo, afterHi).
func (s *RelationStore) ListPairs(ctx context.Context, afterLo, afterHi int64, limit int) ([]domain.PairKey, error) {
	if limit <= 0 {
		limit = s.chunkSize
	}
	rows, err := s.pool.Query(ctx, `
		SELECT market_id_1, market_id_2 FROM market_relations
		WHERE (market_id_1, market_id_2) > ($1, $2)
		ORDER BY market_id_1, market_id_2
		LIMIT $3`, afterLo, afterHi, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list relation pairs: %w", err)
	}
	pairs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.PairKey, error) {
		var k domain.PairKey
		err := row.Scan(&k.Lo, &k.Hi)
		return k, err
	})
	if err != nil {
		return nil, fmt.Errorf("postgres: scan relation pairs: %w", err)
	}
	return pairs, nil
}

// Delete removes the relation for pair and reports whether it existed.
func (s *RelationStore) Delete(ctx context.Context, pair domain.PairKey) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM market_relations WHERE market_id_1 = $1 AND market_id_2 = $2`, pair.Lo, pair.Hi)
	if err != nil {
		return false, fmt.Errorf("postgres: delete relation %s: %w", pair, err)
	}
	return tag.RowsAffected() > 0, nil
}

// DeleteForMarket removes every relation touching marketID.
func (s *RelationStore) DeleteForMarket(ctx context.Context, marketID int64) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM market_relations WHERE market_id_1 = $1 OR market_id_2 = $1`, marketID)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete relations for %d: %w", marketID, err)
	}
	return tag.RowsAffected(), nil
}

// Count counts relations, optionally only those touching marketID.
func (s *RelationStore) Count(ctx context.Context, marketID *int64) (int64, error) {
	var n int64
	var err error
	if marketID == nil {
		err = s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM market_relations`).Scan(&n)
	} else {
		err = s.pool.QueryRow(ctx,
			`SELECT COUNT(*) FROM market_relations WHERE market_id_1 = $1 OR market_id_2 = $1`, *marketID).Scan(&n)
	}
	if err != nil {
		return 0, fmt.Errorf("postgres: count relations: %w", err)
	}
	return n, nil
}
