package index

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/starford/generalrules/internal/models"
)

// ReplaceApps swaps the stored app inventory for apps in one transaction.
func (db *DB) ReplaceApps(ctx context.Context, apps []models.App) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("index: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, `DELETE FROM apps`); err != nil {
		return fmt.Errorf("index: clear apps: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO apps (package_name, label, version, components) VALUES (?, ?, ?, ?)
		ON CONFLICT(package_name) DO UPDATE SET
			label      = excluded.label,
			version    = excluded.version,
			components = excluded.components
	`)
	if err != nil {
		return fmt.Errorf("index: prepare app insert: %w", err)
	}
	defer stmt.Close()
	for _, a := range apps {
		components, _ := json.Marshal(nonNil(a.Components))
		if _, err := stmt.ExecContext(ctx, a.PackageName, a.Label, a.Version, string(components)); err != nil {
			return fmt.Errorf("index: insert app %s: %w", a.PackageName, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("index: commit: %w", err)
	}
	return nil
}

// Apps returns the stored app inventory ordered by package name.
func (db *DB) Apps(ctx context.Context) ([]models.App, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT package_name, label, version, components FROM apps ORDER BY package_name`)
	if err != nil {
		return nil, fmt.Errorf("index: apps: %w", err)
	}
	defer rows.Close()

	out := []models.App{}
	for rows.Next() {
		var (
			a          models.App
			components string
		)
		if err := rows.Scan(&a.PackageName, &a.Label, &a.Version, &components); err != nil {
			return nil, err
		}
		_ = json.Unmarshal([]byte(components), &a.Components)
		out = append(out, a)
	}
	return out, rows.Err()
}
