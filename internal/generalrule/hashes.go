package generalrule

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/starford/generalrules/internal/checksum"
	"github.com/starford/generalrules/internal/models"
)

// AppListHash returns the content hash of an app list. Order matters.
func AppListHash(apps []models.App) string {
	fields := make([]string, 0, len(apps)*4)
	for _, a := range apps {
		fields = append(fields, a.PackageName, a.Label, a.Version, strings.Join(a.Components, "\n"))
	}
	return checksum.Strings(fields...)
}

// HashStore computes the current hashes and records them as last seen.
type HashStore struct {
	props  PropertiesStore
	apps   AppLister
	rules  RuleReader
	logger *slog.Logger
}

// NewHashStore creates a HashStore.
func NewHashStore(props PropertiesStore, apps AppLister, rules RuleReader, logger *slog.Logger) *HashStore {
	return &HashStore{props: props, apps: apps, rules: rules, logger: logger}
}

// Stored returns the last recorded hashes.
func (h *HashStore) Stored(ctx context.Context) (AppProperties, error) {
	return h.props.Properties(ctx)
}

// Current computes the hashes of the app list and rule set as they are now.
func (h *HashStore) Current(ctx context.Context) (AppProperties, error) {
	var cur AppProperties
	apps, err := h.apps.Apps(ctx)
	if err != nil {
		return cur, fmt.Errorf("app list: %w", err)
	}
	cur.LastOpenedAppListHash = AppListHash(apps)

	if cur.LastOpenedRuleHash, err = h.rules.RuleHash(ctx); err != nil {
		return cur, fmt.Errorf("rule hash: %w", err)
	}
	return cur, nil
}

// Save records the current hashes. Both writes are attempted even when the
// first fails.
func (h *HashStore) Save(ctx context.Context) error {
	cur, err := h.Current(ctx)
	if err != nil {
		return err
	}
	h.logger.Debug("hashes: save",
		slog.String("app_list_hash", cur.LastOpenedAppListHash),
		slog.String("rule_hash", cur.LastOpenedRuleHash))
	return errors.Join(
		h.props.SetAppListHash(ctx, cur.LastOpenedAppListHash),
		h.props.SetRuleHash(ctx, cur.LastOpenedRuleHash),
	)
}

// ChangeDetector decides whether a refresh pass is required.
type ChangeDetector struct {
	hashes *HashStore
	logger *slog.Logger
}

// NewChangeDetector creates a ChangeDetector over hashes.
func NewChangeDetector(hashes *HashStore, logger *slog.Logger) *ChangeDetector {
	return &ChangeDetector{hashes: hashes, logger: logger}
}

// ShouldRefresh reports whether the app list or rule set changed since the
// last completed pass. It always reports true while either stored hash is
// empty. It has no side effects.
func (d *ChangeDetector) ShouldRefresh(ctx context.Context) (bool, error) {
	stored, err := d.hashes.Stored(ctx)
	if err != nil {
		return false, err
	}
	if stored.LastOpenedAppListHash == "" || stored.LastOpenedRuleHash == "" {
		d.logger.Debug("detector: no recorded hashes, refresh required")
		return true, nil
	}

	cur, err := d.hashes.Current(ctx)
	if err != nil {
		return false, err
	}
	appsChanged := cur.LastOpenedAppListHash != stored.LastOpenedAppListHash
	rulesChanged := cur.LastOpenedRuleHash != stored.LastOpenedRuleHash
	refresh := appsChanged || rulesChanged
	d.logger.Debug("detector: compared hashes",
		slog.Bool("app_list_changed", appsChanged),
		slog.Bool("rules_changed", rulesChanged),
		slog.Bool("refresh", refresh))
	return refresh, nil
}
