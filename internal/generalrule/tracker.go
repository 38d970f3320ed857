package generalrule

import (
	"context"
	"fmt"
	"log/slog"
)

// TrackResult summarizes one match pass.
type TrackResult struct {
	Total  int
	Failed int
}

// ProgressTracker recomputes the matched app count of every rule, one at a
// time, reporting fractional completion.
type ProgressTracker struct {
	rules   RuleReader
	matcher MatchUpdater
	logger  *slog.Logger
}

// NewProgressTracker creates a ProgressTracker.
func NewProgressTracker(rules RuleReader, matcher MatchUpdater, logger *slog.Logger) *ProgressTracker {
	return &ProgressTracker{rules: rules, matcher: matcher, logger: logger}
}

// Run snapshots the rule list once and updates each rule in retrieved order.
// After each rule it calls report with completed/total, so progress takes
// the values 1/N, 2/N, ..., 1.0. A failing rule is counted and skipped.
//
// An empty rule list returns a zero result without calling report. A
// cancelled ctx stops the pass and returns ctx.Err().
func (t *ProgressTracker) Run(ctx context.Context, report func(progress float64)) (TrackResult, error) {
	var res TrackResult

	rules, err := t.rules.Rules(ctx)
	if err != nil {
		return res, fmt.Errorf("load rules: %w", err)
	}
	res.Total = len(rules)
	if res.Total == 0 {
		return res, nil
	}

	for i, r := range rules {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if err := t.matcher.UpdateMatch(ctx, r); err != nil {
			res.Failed++
			t.logger.Debug("tracker: update match failed", slog.String("rule_id", r.ID), slog.String("error", err.Error()))
		}
		if err := ctx.Err(); err != nil {
			return res, err
		}
		report(float64(i+1) / float64(res.Total))
	}
	return res, nil
}
