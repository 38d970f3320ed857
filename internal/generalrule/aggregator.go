package generalrule

import (
	"context"
	"log/slog"

	"github.com/starford/generalrules/internal/models"
)

// showRules consumes the rule search feed until ctx is cancelled, publishing
// each distinct emission as a Success state. In skip-loading mode every
// publish forces MatchProgress to 1.0. ready, when non-nil, is closed after
// the first publish.
func (m *Model) showRules(ctx context.Context, logger *slog.Logger, skipLoading bool, ready chan<- struct{}) {
	m.loadSelection(ctx, logger)

	var prev []models.Rule
	published := false
	for rules, err := range m.deps.Searcher.Search(ctx, m.keyword) {
		if err != nil {
			if ctx.Err() == nil {
				logger.Error("feed: search failed", slog.String("error", err.Error()))
				m.setState(Error(err.Error()))
			}
			return
		}
		if published && models.RulesEqual(prev, rules) {
			continue
		}
		prev = rules

		matched, unmatched := Partition(rules)
		m.update(func(s UiState) UiState {
			if s.IsSuccess() {
				s.Snapshot.MatchedRules = matched
				s.Snapshot.UnmatchedRules = unmatched
			} else {
				s = Success(Snapshot{
					MatchedRules:   matched,
					UnmatchedRules: unmatched,
					SelectedRuleID: cloneID(m.selected),
				})
			}
			if skipLoading {
				s.Snapshot.MatchProgress = 1
			}
			return s
		})
		logger.Debug("feed: published",
			slog.Int("matched", len(matched)), slog.Int("unmatched", len(unmatched)))

		if !published {
			published = true
			if ready != nil {
				close(ready)
			}
		}
	}
}

// loadSelection reads the persisted selection once per Model.
func (m *Model) loadSelection(ctx context.Context, logger *slog.Logger) {
	m.mu.Lock()
	loaded := m.selectionLoaded
	m.mu.Unlock()
	if loaded {
		return
	}

	selected, err := m.deps.Props.SelectedRuleID(ctx)
	if err != nil {
		logger.Warn("feed: read selection failed", slog.String("error", err.Error()))
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.selectionLoaded {
		m.selected = selected
		m.selectionLoaded = true
	}
}
