package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hexvolt/hftbot/internal/domain"
)

// TradeStore journals executed trades in PostgreSQL.
type TradeStore struct {
	pool *pgxpool.Pool
}

// NewTradeStore creates a new TradeStore backed by the given connection pool.
func NewTradeStore(pool *pgxpool.Pool) *TradeStore {
	return &TradeStore{pool: pool}
}

// Insert records a single executed trade. Replays of the same trade ID are
// silently skipped via ON CONFLICT DO NOTHING.
func (s *TradeStore) Insert(ctx context.Context, t domain.Trade) error {
	const query = `
		INSERT INTO trades (id, symbol, side, price, quantity, pnl, strategy, reason, executed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO NOTHING`

	_, err := s.pool.Exec(ctx, query,
		t.ID, t.Symbol, string(t.Side), t.Price, t.Quantity,
		t.PnL, t.Strategy, t.Reason, t.ExecutedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert trade %s: %w", t.ID, err)
	}
	return nil
}

// Recent returns up to limit trades ordered newest first.
func (s *TradeStore) Recent(ctx context.Context, limit int) ([]domain.Trade, error) {
	if limit <= 0 {
		limit = 50
	}

	const query = `
		SELECT id, symbol, side, price, quantity, pnl, strategy, reason, executed_at
		FROM trades
		ORDER BY executed_at DESC
		LIMIT $1`

	rows, err := s.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: recent trades: %w", err)
	}
	defer rows.Close()

	return scanTradeRows(rows)
}

func scanTradeRows(rows pgx.Rows) ([]domain.Trade, error) {
	var trades []domain.Trade
	for rows.Next() {
		var t domain.Trade
		var side string
		if err := rows.Scan(
			&t.ID, &t.Symbol, &side, &t.Price, &t.Quantity,
			&t.PnL, &t.Strategy, &t.Reason, &t.ExecutedAt,
		); err != nil {
			return nil, err
		}
		t.Side = domain.Side(side)
		trades = append(trades, t)
	}
	return trades, rows.Err()
}
