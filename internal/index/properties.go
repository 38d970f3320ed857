package index

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// Property returns the stored value for key and whether it was present.
func (db *DB) Property(ctx context.Context, key string) (string, bool, error) {
	var v string
	err := db.conn.QueryRowContext(ctx, `SELECT value FROM properties WHERE key = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("index: property %s: %w", key, err)
	}
	return v, true, nil
}

// SetProperty stores value under key.
func (db *DB) SetProperty(ctx context.Context, key, value string) error {
	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO properties (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	if err != nil {
		return fmt.Errorf("index: set property %s: %w", key, err)
	}
	return nil
}
