package index

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/starford/generalrules/internal/checksum"
	"github.com/starford/generalrules/internal/parser"
	"github.com/starford/generalrules/internal/storage"
)

// SyncStats summarizes one Sync pass.
type SyncStats struct {
	Indexed   int
	Unchanged int
	Removed   int
	Failed    int
}

// Sync walks the rules directory and brings the index up to date:
//   - new/changed documents are parsed and upserted
//   - documents removed from disk are deleted from the index
//
// Documents that fail to read or parse are logged and counted, not fatal.
func Sync(ctx context.Context, db *DB, store storage.Provider, logger *slog.Logger) (SyncStats, error) {
	var stats SyncStats

	metas, err := store.List("")
	if err != nil {
		return stats, err
	}

	checksums, err := db.AllChecksums(ctx)
	if err != nil {
		return stats, err
	}

	disk := make(map[string]struct{}, len(metas))
	for _, m := range metas {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		disk[m.Path] = struct{}{}

		if checksums[m.Path] == m.Checksum {
			stats.Unchanged++
			continue
		}

		data, err := store.Read(m.Path)
		if err != nil {
			stats.Failed++
			logger.Warn("sync: read failed", slog.String("path", m.Path), slog.String("error", err.Error()))
			continue
		}
		if err := IndexDocument(ctx, db, m.Path, data); err != nil {
			stats.Failed++
			logger.Warn("sync: index failed", slog.String("path", m.Path), slog.String("error", err.Error()))
			continue
		}
		stats.Indexed++
		logger.Debug("sync: indexed", slog.String("path", m.Path))
	}

	// Remove stale entries.
	for p := range checksums {
		if _, ok := disk[p]; ok {
			continue
		}
		if err := db.DeleteRuleAt(ctx, p); err != nil {
			stats.Failed++
			logger.Warn("sync: delete failed", slog.String("path", p), slog.String("error", err.Error()))
			continue
		}
		stats.Removed++
		logger.Debug("sync: removed stale", slog.String("path", p))
	}

	return stats, nil
}

// IndexDocument parses the rule document at path and upserts it.
func IndexDocument(ctx context.Context, db *DB, path string, data []byte) error {
	res, err := parser.Parse(data)
	if err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	r := res.Rule()
	r.Path = path
	r.Checksum = checksum.Sum(data)
	r.UpdatedAt = time.Now()
	return db.UpsertRule(ctx, r)
}
