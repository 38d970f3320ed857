package index

import (
	"context"
	"iter"

	"github.com/starford/generalrules/internal/models"
)

// Search returns a feed of rules matching keyword (all rules when empty).
// The current result is yielded immediately and again after every rules
// mutation, until ctx is cancelled or the consumer stops. A query failure is
// yielded once and ends the feed.
func (db *DB) Search(ctx context.Context, keyword string) iter.Seq2[[]models.Rule, error] {
	return func(yield func([]models.Rule, error) bool) {
		for {
			// Take the change channel before querying so no mutation is missed.
			wait := db.changes()

			rules, err := db.SearchRules(ctx, keyword)
			if err != nil {
				if ctx.Err() == nil {
					yield(nil, err)
				}
				return
			}
			if !yield(rules, nil) {
				return
			}

			select {
			case <-ctx.Done():
				return
			case <-wait:
			}
		}
	}
}
