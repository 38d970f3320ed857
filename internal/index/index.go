package index

import (
	"context"
	"iter"

	"github.com/starford/generalrules/internal/models"
)

// RuleIndex defines the rule-store operations consumers depend on.
// Consumers should depend on this interface rather than the concrete *DB type
// to facilitate testing with fakes.
type RuleIndex interface {
	UpsertRule(ctx context.Context, r models.Rule) error
	DeleteRuleAt(ctx context.Context, path string) error
	GetRule(ctx context.Context, id string) (*models.Rule, error)
	Rules(ctx context.Context) ([]models.Rule, error)
	RuleHash(ctx context.Context) (string, error)
	AllChecksums(ctx context.Context) (map[string]string, error)
	SearchRules(ctx context.Context, keyword string) ([]models.Rule, error)
	Search(ctx context.Context, keyword string) iter.Seq2[[]models.Rule, error]
	SetMatches(ctx context.Context, ruleID string, packages []string) error
	MatchedApps(ctx context.Context, ruleID string) ([]string, error)
	ReplaceApps(ctx context.Context, apps []models.App) error
	Apps(ctx context.Context) ([]models.App, error)
	Property(ctx context.Context, key string) (string, bool, error)
	SetProperty(ctx context.Context, key, value string) error
	Close() error
}

// Verify *DB satisfies RuleIndex at compile time.
var _ RuleIndex = (*DB)(nil)
