// Package db persists the small amount of chart state that survives a
// restart: per-symbol last-known prices and user preferences.
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// PriceTTL bounds how old a cached price may be before Get refuses to
// return it. A fresh connect paints this value until the first real
// message arrives.
const PriceTTL = 24 * time.Hour

var ErrStalePrice = errors.New("cached price is older than the freshness bound")

const schema = `
CREATE TABLE IF NOT EXISTS last_prices (
	symbol     TEXT PRIMARY KEY,
	price      REAL NOT NULL,
	updated_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS preferences (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`

// ApplyMigrations creates the tables when missing.
func ApplyMigrations(d *Database) error {
	if _, err := d.DB.Exec(schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// PriceStore provides the persisted last-price cache.
type PriceStore struct {
	db *sql.DB
}

// Prices returns the price store bound to this database.
func (d *Database) Prices() *PriceStore {
	return &PriceStore{db: d.DB}
}

// Upsert records the latest accepted price for a symbol.
func (s *PriceStore) Upsert(ctx context.Context, symbol string, price float64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO last_prices (symbol, price, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(symbol) DO UPDATE SET
			price = excluded.price,
			updated_at = excluded.updated_at
	`, symbol, price, time.Now().UnixMilli())
	return err
}

// Get returns the cached price for a symbol if it is younger than
// PriceTTL. Stale entries return ErrStalePrice; missing entries return
// sql.ErrNoRows.
func (s *PriceStore) Get(ctx context.Context, symbol string) (float64, error) {
	var price float64
	var updatedAt int64
	err := s.db.QueryRowContext(ctx, `
		SELECT price, updated_at FROM last_prices WHERE symbol = ?
	`, symbol).Scan(&price, &updatedAt)
	if err != nil {
		return 0, err
	}
	if time.Since(time.UnixMilli(updatedAt)) > PriceTTL {
		return 0, ErrStalePrice
	}
	return price, nil
}

// SetPreference stores an application preference (owned by collaborators
// outside the chart core, e.g. the trading form's warm-start flag).
func (s *PriceStore) SetPreference(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO preferences (key, value)
		VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	return err
}

// GetPreference reads a preference, returning def when unset.
func (s *PriceStore) GetPreference(ctx context.Context, key, def string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM preferences WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return def, nil
	}
	if err != nil {
		return "", err
	}
	return value, nil
}
