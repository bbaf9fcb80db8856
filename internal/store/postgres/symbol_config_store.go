package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hexvolt/hftbot/internal/domain"
)

// SymbolConfigStore persists the subscription table as a single opaque JSON
// document. The engine loads it at startup to restore the previous symbol
// set and saves it during shutdown, preserving the strictest-merge results
// and violation counts accumulated while running.
type SymbolConfigStore struct {
	pool *pgxpool.Pool
	name string
}

type symbolDocument struct {
	Symbols []domain.SubscriptionConfig `json:"symbols"`
}

// NewSymbolConfigStore creates a SymbolConfigStore backed by the given pool.
// The name keys the document so multiple engines can share one database.
func NewSymbolConfigStore(pool *pgxpool.Pool, name string) *SymbolConfigStore {
	if name == "" {
		name = "default"
	}
	return &SymbolConfigStore{pool: pool, name: name}
}

// Load retrieves the persisted subscription configs. It returns
// domain.ErrNotFound when no document has been saved yet.
func (s *SymbolConfigStore) Load(ctx context.Context) ([]domain.SubscriptionConfig, error) {
	const query = `SELECT config_json FROM symbol_configs WHERE name = $1`

	var raw []byte
	err := s.pool.QueryRow(ctx, query, s.name).Scan(&raw)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("postgres: load symbol configs %s: %w", s.name, err)
	}

	var doc symbolDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("postgres: unmarshal symbol configs %s: %w", s.name, err)
	}
	return doc.Symbols, nil
}

// Save upserts the full subscription table in one write.
func (s *SymbolConfigStore) Save(ctx context.Context, configs []domain.SubscriptionConfig) error {
	raw, err := json.Marshal(symbolDocument{Symbols: configs})
	if err != nil {
		return fmt.Errorf("postgres: marshal symbol configs %s: %w", s.name, err)
	}

	const query = `
		INSERT INTO symbol_configs (name, config_json, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (name) DO UPDATE SET
			config_json = EXCLUDED.config_json,
			updated_at  = NOW()`

	if _, err := s.pool.Exec(ctx, query, s.name, raw); err != nil {
		return fmt.Errorf("postgres: save symbol configs %s: %w", s.name, err)
	}
	return nil
}
