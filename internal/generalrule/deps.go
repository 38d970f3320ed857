package generalrule

import (
	"context"
	"iter"

	"github.com/starford/generalrules/internal/models"
)

// AppLister provides the installed-application list.
type AppLister interface {
	Apps(ctx context.Context) ([]models.App, error)
}

// RuleReader reads rules from local storage.
type RuleReader interface {
	Rules(ctx context.Context) ([]models.Rule, error)
	RuleHash(ctx context.Context) (string, error)
}

// RuleSearcher yields the rules matching keyword, again after every change.
type RuleSearcher interface {
	Search(ctx context.Context, keyword string) iter.Seq2[[]models.Rule, error]
}

// RemoteSync pulls the authoritative rule set into local storage.
type RemoteSync interface {
	UpdateRules(ctx context.Context) iter.Seq[SyncResult]
}

// MatchUpdater recomputes the matched app count of one rule.
type MatchUpdater interface {
	UpdateMatch(ctx context.Context, r models.Rule) error
}

// Initializer prepares rule storage before first use. The sequence ends
// with an InitDone state, or yields an error and stops.
type Initializer interface {
	Initialize(ctx context.Context) iter.Seq2[InitializeState, error]
}

// Deps are the collaborators of a Model.
type Deps struct {
	Apps     AppLister
	Rules    RuleReader
	Searcher RuleSearcher
	Remote   RemoteSync
	Matcher  MatchUpdater
	Init     Initializer
	Props    PropertiesStore
}
