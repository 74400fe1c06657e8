package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/polyrelate/internal/domain"
)

// MarketStore implements domain.MarketStore using PostgreSQL.
type MarketStore struct {
	pool      *pgxpool.Pool
	chunkSize int
}

var _ domain.MarketStore = (*MarketStore)(nil)

// NewMarketStore creates a new MarketStore backed by the given connection pool.
func NewMarketStore(pool *pgxpool.Pool, chunkSize int) *MarketStore {
	return &MarketStore{pool: pool, chunkSize: chunkSize}
}

const upsertMarketSQL = `
	INSERT INTO markets (
		polymarket_id, question, description, slug,
		outcomes, outcome_prices, volume,
		one_day_price_change, one_week_price_change, one_month_price_change,
		tags, is_active, end_date, updated_at
	) VALUES (
		$1, $2, $3, $4,
		$5, $6, $7,
		$8, $9, $10,
		$11, $12, $13, NOW()
	)
	ON CONFLICT (polymarket_id) DO UPDATE SET
		question               = EXCLUDED.question,
		description            = EXCLUDED.description,
		slug                   = EXCLUDED.slug,
		outcomes               = EXCLUDED.outcomes,
		outcome_prices         = EXCLUDED.outcome_prices,
		volume                 = EXCLUDED.volume,
		one_day_price_change   = EXCLUDED.one_day_price_change,
		one_week_price_change  = EXCLUDED.one_week_price_change,
		one_month_price_change = EXCLUDED.one_month_price_change,
		tags                   = EXCLUDED.tags,
		is_active              = EXCLUDED.is_active,
		end_date               = EXCLUDED.end_date,
		updated_at             = NOW()
	RETURNING id`

func marketArgs(m domain.Market) []any {
	return []any{
		m.PolymarketID, m.Question, m.Description, m.Slug,
		nonNil(m.Outcomes), nonNil(m.OutcomePrices), m.Volume,
		m.OneDayPriceChange, m.OneWeekPriceChange, m.OneMonthPriceChange,
		nonNil(m.Tags), m.Active, m.EndDate,
	}
}

// UpsertBatch inserts or updates markets keyed on their Polymarket ID, one
// pgx batch per chunk, and returns the row IDs in input order.
func (s *MarketStore) UpsertBatch(ctx context.Context, markets []domain.Market) ([]int64, error) {
	ids := make([]int64, 0, len(markets))
	for _, chunk := range chunks(markets, s.chunkSize) {
		batch := &pgx.Batch{}
		for _, m := range chunk {
			batch.Queue(upsertMarketSQL, marketArgs(m)...)
		}

		br := s.pool.SendBatch(ctx, batch)
		for i, m := range chunk {
			var id int64
			if err := br.QueryRow().Scan(&id); err != nil {
				_ = br.Close()
				return ids, fmt.Errorf("postgres: upsert market batch item %d (%s): %w", i, m.PolymarketID, err)
			}
			ids = append(ids, id)
		}
		if err := br.Close(); err != nil {
			return ids, fmt.Errorf("postgres: upsert market batch: %w", err)
		}
	}
	return ids, nil
}

const marketCols = `id, polymarket_id, question, description, slug,
	outcomes, outcome_prices, volume,
	one_day_price_change, one_week_price_change, one_month_price_change,
	tags, is_active, end_date, created_at, updated_at`

// scanMarket scans a single market row into a domain.Market.
func scanMarket(row pgx.Row) (domain.Market, error) {
	var m domain.Market
	err := row.Scan(
		&m.ID, &m.PolymarketID, &m.Question, &m.Description, &m.Slug,
		&m.Outcomes, &m.OutcomePrices, &m.Volume,
		&m.OneDayPriceChange, &m.OneWeekPriceChange, &m.OneMonthPriceChange,
		&m.Tags, &m.Active, &m.EndDate, &m.CreatedAt, &m.UpdatedAt,
	)
	return m, err
}

// GetByID retrieves a market by its primary key.
func (s *MarketStore) GetByID(ctx context.Context, id int64) (domain.Market, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+marketCols+` FROM markets WHERE id = $1`, id)
	m, err := scanMarket(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Market{}, domain.ErrNotFound
		}
		return domain.Market{}, fmt.Errorf("postgres: get market %d: %w", id, err)
	}
	return m, nil
}

// GetByPolymarketID retrieves a market by its upstream identifier.
func (s *MarketStore) GetByPolymarketID(ctx context.Context, polymarketID string) (domain.Market, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+marketCols+` FROM markets WHERE polymarket_id = $1`, polymarketID)
	m, err := scanMarket(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Market{}, domain.ErrNotFound
		}
		return domain.Market{}, fmt.Errorf("postgres: get market by polymarket id %s: %w", polymarketID, err)
	}
	return m, nil
}

// GetByIDs loads every existing market in ids, chunking the lookup.
func (s *MarketStore) GetByIDs(ctx context.Context, ids []int64) (map[int64]domain.Market, error) {
	out := make(map[int64]domain.Market, len(ids))
	for _, chunk := range chunks(ids, s.chunkSize) {
		rows, err := s.pool.Query(ctx, `SELECT `+marketCols+` FROM markets WHERE id = ANY($1)`, chunk)
		if err != nil {
			return nil, fmt.Errorf("postgres: get markets by ids: %w", err)
		}
		markets, err := collectMarkets(rows)
		if err != nil {
			return nil, err
		}
		for _, m := range markets {
			out[m.ID] = m
		}
	}
	return out, nil
}

// GetByPolymarketIDs loads every existing market among polymarketIDs,
// chunking the lookup.
func (s *MarketStore) GetByPolymarketIDs(ctx context.Context, polymarketIDs []string) (map[string]domain.Market, error) {
	out := make(map[string]domain.Market, len(polymarketIDs))
	for _, chunk := range chunks(polymarketIDs, s.chunkSize) {
		rows, err := s.pool.Query(ctx, `SELECT `+marketCols+` FROM markets WHERE polymarket_id = ANY($1)`, chunk)
		if err != nil {
			return nil, fmt.Errorf("postgres: get markets by polymarket ids: %w", err)
		}
		markets, err := collectMarkets(rows)
		if err != nil {
			return nil, err
		}
		for _, m := range markets {
			out[m.PolymarketID] = m
		}
	}
	return out, nil
}

// List returns markets ordered by ID with optional filters.
func (s *MarketStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.Market, error) {
	where, args := marketFilter(opts)
	query := `SELECT ` + marketCols + ` FROM markets` + where + ` ORDER BY id` + pageClause(opts, &args)
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list markets: %w", err)
	}
	return collectMarkets(rows)
}

// ListIDs is List without the payload.
func (s *MarketStore) ListIDs(ctx context.Context, opts domain.ListOpts) ([]int64, error) {
	where, args := marketFilter(opts)
	query := `SELECT id FROM markets` + where + ` ORDER BY id` + pageClause(opts, &args)
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list market ids: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, fmt.Errorf("postgres: scan market ids: %w", err)
	}
	return ids, nil
}

// Count returns the total number of markets in the database.
func (s *MarketStore) Count(ctx context.Context) (int64, error) {
	var count int64
	err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM markets").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("postgres: count markets: %w", err)
	}
	return count, nil
}

func collectMarkets(rows pgx.Rows) ([]domain.Market, error) {
	defer rows.Close()
	var markets []domain.Market
	for rows.Next() {
		m, err := scanMarket(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan market: %w", err)
		}
		markets = append(markets, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: market rows: %w", err)
	}
	return markets, nil
}

// marketFilter renders the WHERE clause for opts.
func marketFilter(opts domain.ListOpts) (string, []any) {
	var conds []string
	var args []any
	if opts.ActiveOnly {
		conds = append(conds, "is_active")
	}
	if opts.MinVolume != nil {
		args = append(args, *opts.MinVolume)
		conds = append(conds, fmt.Sprintf("volume >= $%d", len(args)))
	}
	if opts.Since != nil {
		args = append(args, *opts.Since)
		conds = append(conds, fmt.Sprintf("updated_at >= $%d", len(args)))
	}
	if len(conds) == 0 {
		return "", args
	}
	where := " WHERE " + conds[0]
	for _, c := range conds[1:] {
		where += " AND " + c
	}
	return where, args
}

// pageClause appends LIMIT/OFFSET placeholders to args.
func pageClause(opts domain.ListOpts, args *[]any) string {
	var clause string
	if opts.Limit > 0 {
		*args = append(*args, opts.Limit)
		clause += fmt.Sprintf(" LIMIT $%d", len(*args))
	}
	if opts.Offset > 0 {
		*args = append(*args, opts.Offset)
		clause += fmt.Sprintf(" OFFSET $%d", len(*args))
	}
	return clause
}

// nonNil keeps NOT NULL array columns from receiving SQL NULL.
func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
