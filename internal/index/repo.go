package index

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/starford/generalrules/internal/apperr"
	"github.com/starford/generalrules/internal/checksum"
	"github.com/starford/generalrules/internal/models"
)

const ruleColumns = `id, path, name, company, icon_url, description, safe_to_block,
	side_effect, contributors, keywords, use_regex, matched_app_count, checksum, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRule(s rowScanner) (models.Rule, error) {
	var (
		r                      models.Rule
		contributors, keywords string
	)
	err := s.Scan(&r.ID, &r.Path, &r.Name, &r.Company, &r.IconURL, &r.Description, &r.SafeToBlock,
		&r.SideEffect, &contributors, &keywords, &r.UseRegex, &r.MatchedAppCount, &r.Checksum, &r.UpdatedAt)
	if err != nil {
		return r, err
	}
	_ = json.Unmarshal([]byte(contributors), &r.Contributors)
	_ = json.Unmarshal([]byte(keywords), &r.Keywords)
	return r, nil
}

func collectRules(rows *sql.Rows) ([]models.Rule, error) {
	defer rows.Close()
	out := []models.Rule{}
	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// UpsertRule inserts or replaces a rule and its FTS entry within a transaction.
// The stored matched_app_count is kept on update; it is owned by SetMatches.
func (db *DB) UpsertRule(ctx context.Context, r models.Rule) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("index: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // best-effort on failure path

	contributorsJSON, _ := json.Marshal(nonNil(r.Contributors))
	keywordsJSON, _ := json.Marshal(nonNil(r.Keywords))
	if r.UpdatedAt.IsZero() {
		r.UpdatedAt = time.Now()
	}

	// A document whose id changed replaces the rule previously stored from it.
	var prevID string
	err = tx.QueryRowContext(ctx, `SELECT id FROM rules WHERE path = ? AND id <> ?`, r.Path, r.ID).Scan(&prevID)
	switch {
	case err == nil:
		ftsDelete(tx, prevID)
		_, _ = tx.ExecContext(ctx, `DELETE FROM rule_matches WHERE rule_id = ?`, prevID)
		if _, err := tx.ExecContext(ctx, `DELETE FROM rules WHERE id = ?`, prevID); err != nil {
			return fmt.Errorf("index: replace rule %s: %w", prevID, err)
		}
	case !errors.Is(err, sql.ErrNoRows):
		return fmt.Errorf("index: lookup path %s: %w", r.Path, err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO rules (id, path, name, company, icon_url, description, safe_to_block,
			side_effect, contributors, keywords, use_regex, matched_app_count, checksum, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			path          = excluded.path,
			name          = excluded.name,
			company       = excluded.company,
			icon_url      = excluded.icon_url,
			description   = excluded.description,
			safe_to_block = excluded.safe_to_block,
			side_effect   = excluded.side_effect,
			contributors  = excluded.contributors,
			keywords      = excluded.keywords,
			use_regex     = excluded.use_regex,
			checksum      = excluded.checksum,
			updated_at    = excluded.updated_at
	`, r.ID, r.Path, r.Name, r.Company, r.IconURL, r.Description, r.SafeToBlock,
		r.SideEffect, string(contributorsJSON), string(keywordsJSON), r.UseRegex,
		r.MatchedAppCount, r.Checksum, r.UpdatedAt)
	if err != nil {
		return fmt.Errorf("index: upsert rule %s: %w", r.ID, err)
	}

	if err := ftsUpsert(tx, r); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("index: commit: %w", err)
	}
	db.notify()
	return nil
}

// DeleteRuleAt removes the rule stored from the document at path, together
// with its FTS entry and matches.
func (db *DB) DeleteRuleAt(ctx context.Context, path string) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("index: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var id string
	err = tx.QueryRowContext(ctx, `SELECT id FROM rules WHERE path = ?`, path).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("index: delete rule: %w", err)
	}

	ftsDelete(tx, id)
	_, _ = tx.ExecContext(ctx, `DELETE FROM rule_matches WHERE rule_id = ?`, id)
	_, _ = tx.ExecContext(ctx, `DELETE FROM rules WHERE id = ?`, id)

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("index: commit: %w", err)
	}
	db.notify()
	return nil
}

// GetRule returns a single rule or apperr.ErrNotFound.
func (db *DB) GetRule(ctx context.Context, id string) (*models.Rule, error) {
	row := db.conn.QueryRowContext(ctx, `SELECT `+ruleColumns+` FROM rules WHERE id = ?`, id)
	r, err := scanRule(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("index: get rule: %w", err)
	}
	return &r, nil
}

// Rules returns every stored rule ordered by document path.
func (db *DB) Rules(ctx context.Context) ([]models.Rule, error) {
	rows, err := db.conn.QueryContext(ctx, `SELECT `+ruleColumns+` FROM rules ORDER BY path`)
	if err != nil {
		return nil, fmt.Errorf("index: rules: %w", err)
	}
	return collectRules(rows)
}

// RuleHash returns a content hash over every stored rule document.
func (db *DB) RuleHash(ctx context.Context) (string, error) {
	rows, err := db.conn.QueryContext(ctx, `SELECT id, checksum FROM rules ORDER BY id`)
	if err != nil {
		return "", fmt.Errorf("index: rule hash: %w", err)
	}
	defer rows.Close()

	var fields []string
	for rows.Next() {
		var id, cs string
		if err := rows.Scan(&id, &cs); err != nil {
			return "", fmt.Errorf("index: rule hash: %w", err)
		}
		fields = append(fields, id, cs)
	}
	if err := rows.Err(); err != nil {
		return "", fmt.Errorf("index: rule hash: %w", err)
	}
	return checksum.Strings(fields...), nil
}

// AllChecksums returns document path -> checksum for every stored rule.
func (db *DB) AllChecksums(ctx context.Context) (map[string]string, error) {
	rows, err := db.conn.QueryContext(ctx, `SELECT path, checksum FROM rules`)
	if err != nil {
		return nil, fmt.Errorf("index: all checksums: %w", err)
	}
	defer rows.Close()
	out := make(map[string]string)
	for rows.Next() {
		var p, cs string
		if err := rows.Scan(&p, &cs); err != nil {
			return nil, fmt.Errorf("index: all checksums: %w", err)
		}
		out[p] = cs
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("index: all checksums: %w", err)
	}
	return out, nil
}

// SetMatches replaces the matched packages of a rule and updates its
// matched_app_count accordingly.
func (db *DB) SetMatches(ctx context.Context, ruleID string, packages []string) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("index: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	res, err := tx.ExecContext(ctx, `UPDATE rules SET matched_app_count = ? WHERE id = ?`, len(packages), ruleID)
	if err != nil {
		return fmt.Errorf("index: set matched count: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("index: set matches %s: %w", ruleID, apperr.ErrNotFound)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM rule_matches WHERE rule_id = ?`, ruleID); err != nil {
		return fmt.Errorf("index: clear matches: %w", err)
	}
	if len(packages) > 0 {
		stmt, err := tx.PrepareContext(ctx, `INSERT OR IGNORE INTO rule_matches (rule_id, package_name) VALUES (?, ?)`)
		if err != nil {
			return fmt.Errorf("index: prepare match insert: %w", err)
		}
		defer stmt.Close()
		for _, p := range packages {
			if _, err := stmt.ExecContext(ctx, ruleID, p); err != nil {
				return fmt.Errorf("index: insert match: %w", err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("index: commit: %w", err)
	}
	db.notify()
	return nil
}

// MatchedApps returns the package names matched by a rule.
func (db *DB) MatchedApps(ctx context.Context, ruleID string) ([]string, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT package_name FROM rule_matches WHERE rule_id = ? ORDER BY package_name`, ruleID)
	if err != nil {
		return nil, fmt.Errorf("index: matched apps: %w", err)
	}
	defer rows.Close()

	out := []string{}
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
