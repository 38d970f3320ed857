// Package matcher recomputes which installed apps a rule applies to.
package matcher

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/starford/generalrules/internal/models"
)

// Store is the storage the matcher reads apps from and writes results to.
type Store interface {
	Apps(ctx context.Context) ([]models.App, error)
	SetMatches(ctx context.Context, ruleID string, packages []string) error
}

// Matcher implements generalrule.MatchUpdater over a Store.
type Matcher struct {
	store  Store
	logger *slog.Logger
}

// New creates a Matcher.
func New(store Store, logger *slog.Logger) *Matcher {
	return &Matcher{store: store, logger: logger}
}

// UpdateMatch matches r against the installed apps and stores the matching
// package names, which also sets the rule's matched app count.
func (m *Matcher) UpdateMatch(ctx context.Context, r models.Rule) error {
	apps, err := m.store.Apps(ctx)
	if err != nil {
		return fmt.Errorf("matcher: list apps: %w", err)
	}
	packages, err := Match(r, apps)
	if err != nil {
		return fmt.Errorf("matcher: rule %s: %w", r.ID, err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := m.store.SetMatches(ctx, r.ID, packages); err != nil {
		return fmt.Errorf("matcher: store rule %s: %w", r.ID, err)
	}
	m.logger.Debug("matcher: updated",
		slog.String("rule", r.ID), slog.Int("matched", len(packages)))
	return nil
}

// Match returns the package names of the apps r applies to, in apps order.
// An app matches when any keyword matches its package name or one of its
// component names: a case-insensitive substring test, or a regular
// expression when r.UseRegex is set.
func Match(r models.Rule, apps []models.App) ([]string, error) {
	test, err := compile(r)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, app := range apps {
		if matchesApp(test, app) {
			out = append(out, app.PackageName)
		}
	}
	return out, nil
}

func matchesApp(test func(string) bool, app models.App) bool {
	if test(app.PackageName) {
		return true
	}
	for _, c := range app.Components {
		if test(c) {
			return true
		}
	}
	return false
}

func compile(r models.Rule) (func(string) bool, error) {
	if r.UseRegex {
		res := make([]*regexp.Regexp, 0, len(r.Keywords))
		for _, k := range r.Keywords {
			re, err := regexp.Compile(k)
			if err != nil {
				return nil, fmt.Errorf("keyword %q: %w", k, err)
			}
			res = append(res, re)
		}
		return func(s string) bool {
			for _, re := range res {
				if re.MatchString(s) {
					return true
				}
			}
			return false
		}, nil
	}

	keys := make([]string, 0, len(r.Keywords))
	for _, k := range r.Keywords {
		if k = strings.ToLower(strings.TrimSpace(k)); k != "" {
			keys = append(keys, k)
		}
	}
	return func(s string) bool {
		s = strings.ToLower(s)
		for _, k := range keys {
			if strings.Contains(s, k) {
				return true
			}
		}
		return false
	}, nil
}
