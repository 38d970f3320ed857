//go:build !sqlite_fts5

package index

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/starford/generalrules/internal/models"
)

func initFTS(_ *sql.DB) error {
	// FTS5 not available; search uses LIKE over the rules table.
	return nil
}

func ftsUpsert(_ *sql.Tx, _ models.Rule) error {
	return nil
}

func ftsDelete(_ *sql.Tx, _ string) {}

// SearchRules performs a LIKE-based search (fallback when FTS5 is not
// compiled in). An empty keyword returns every rule.
func (db *DB) SearchRules(ctx context.Context, keyword string) ([]models.Rule, error) {
	keyword = strings.TrimSpace(keyword)
	if keyword == "" {
		return db.Rules(ctx)
	}
	like := "%" + keyword + "%"
	rows, err := db.conn.QueryContext(ctx, `
		SELECT `+ruleColumns+`
		FROM rules
		WHERE name LIKE ? OR company LIKE ? OR description LIKE ? OR keywords LIKE ?
		ORDER BY path
	`, like, like, like, like)
	if err != nil {
		return nil, fmt.Errorf("index: search: %w", err)
	}
	return collectRules(rows)
}
