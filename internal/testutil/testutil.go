// Package testutil provides shared test helpers for rule directories and databases.
package testutil

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"testing"

	"github.com/starford/generalrules/internal/index"
	"github.com/starford/generalrules/internal/models"
	"github.com/starford/generalrules/internal/storage"
)

// TestDB creates a temporary SQLite database that is automatically cleaned up.
func TestDB(t *testing.T) *index.DB {
	t.Helper()
	dbFile, err := os.CreateTemp("", "generalrules-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	dbFile.Close()
	t.Cleanup(func() { os.Remove(dbFile.Name()) })

	db, err := index.Open(dbFile.Name())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// TestRulesDir creates a temporary rules directory with a storage.Provider.
func TestRulesDir(t *testing.T) (string, storage.Provider) {
	t.Helper()
	dir := t.TempDir()
	store, err := storage.NewFS(dir)
	if err != nil {
		t.Fatal(err)
	}
	return dir, store
}

// RuleDoc renders a minimal valid rule document.
func RuleDoc(id string, keywords ...string) []byte {
	if len(keywords) == 0 {
		keywords = []string{id}
	}
	return fmt.Appendf(nil, "---\nid: %s\nname: Rule %s\nkeywords: [%s]\n---\nBlocks %s.\n",
		id, id, strings.Join(keywords, ", "), id)
}

// SeedRule writes a rule document and indexes it.
func SeedRule(t *testing.T, db *index.DB, store storage.Provider, id string, keywords ...string) {
	t.Helper()
	if err := store.Write(id+storage.DocumentExt, RuleDoc(id, keywords...)); err != nil {
		t.Fatal(err)
	}
	if _, err := index.Sync(context.Background(), db, store, Logger()); err != nil {
		t.Fatal(err)
	}
}

// SeedApps replaces the installed app list.
func SeedApps(t *testing.T, db *index.DB, apps ...models.App) {
	t.Helper()
	if err := db.ReplaceApps(context.Background(), apps); err != nil {
		t.Fatal(err)
	}
}

// Logger returns a logger that discards everything.
func Logger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}
