//go:build sqlite_fts5

package index

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/starford/generalrules/internal/models"
)

func initFTS(conn *sql.DB) error {
	_, err := conn.Exec(`
		CREATE VIRTUAL TABLE IF NOT EXISTS rules_fts USING fts5(
			id UNINDEXED,
			name,
			company,
			description,
			keywords,
			tokenize = 'unicode61 remove_diacritics 2'
		);
	`)
	return err
}

func ftsUpsert(tx *sql.Tx, r models.Rule) error {
	_, _ = tx.Exec(`DELETE FROM rules_fts WHERE id = ?`, r.ID)
	_, err := tx.Exec(`INSERT INTO rules_fts (id, name, company, description, keywords) VALUES (?, ?, ?, ?, ?)`,
		r.ID, r.Name, r.Company, r.Description, strings.Join(r.Keywords, " "))
	if err != nil {
		return fmt.Errorf("index: upsert fts: %w", err)
	}
	return nil
}

func ftsDelete(tx *sql.Tx, id string) {
	_, _ = tx.Exec(`DELETE FROM rules_fts WHERE id = ?`, id)
}

// SearchRules performs an FTS5 prefix search over rule text. An empty
// keyword returns every rule.
func (db *DB) SearchRules(ctx context.Context, keyword string) ([]models.Rule, error) {
	keyword = strings.TrimSpace(keyword)
	if keyword == "" {
		return db.Rules(ctx)
	}
	query := `"` + strings.ReplaceAll(keyword, `"`, `""`) + `"*`
	rows, err := db.conn.QueryContext(ctx, `
		SELECT `+ruleColumns+`
		FROM rules
		WHERE id IN (SELECT id FROM rules_fts WHERE rules_fts MATCH ?)
		ORDER BY path
	`, query)
	if err != nil {
		return nil, fmt.Errorf("index: search: %w", err)
	}
	return collectRules(rows)
}
