package generalrule

import (
	"context"
	"errors"
	"io"
	"iter"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/starford/generalrules/internal/models"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeRules is an in-memory rule store with a change feed.
type fakeRules struct {
	mu        sync.Mutex
	rules     []models.Rule
	apps      []models.App
	ruleHash  string
	targets   map[string]int
	failIDs   map[string]bool
	block     map[string]bool
	updated   []string
	changed   chan struct{}
	searchErr error
	// lagging feeds yield once and never re-emit, like a feed that has not
	// caught up with the latest writes.
	lagging bool
}

func newFakeRules(rules ...models.Rule) *fakeRules {
	return &fakeRules{
		rules:    rules,
		apps:     []models.App{{PackageName: "com.a"}, {PackageName: "com.b"}},
		ruleHash: "rules-v1",
		targets:  map[string]int{},
		failIDs:  map[string]bool{},
		block:    map[string]bool{},
		changed:  make(chan struct{}),
	}
}

func (f *fakeRules) Apps(context.Context) ([]models.App, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.App(nil), f.apps...), nil
}

func (f *fakeRules) Rules(context.Context) ([]models.Rule, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.Rule(nil), f.rules...), nil
}

func (f *fakeRules) RuleHash(context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ruleHash, nil
}

func (f *fakeRules) Search(ctx context.Context, _ string) iter.Seq2[[]models.Rule, error] {
	return func(yield func([]models.Rule, error) bool) {
		for {
			f.mu.Lock()
			wait := f.changed
			rules := append([]models.Rule(nil), f.rules...)
			err := f.searchErr
			f.mu.Unlock()

			if err != nil {
				yield(nil, err)
				return
			}
			if !yield(rules, nil) {
				return
			}
			if f.lagging {
				<-ctx.Done()
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

func (f *fakeRules) UpdateMatch(ctx context.Context, r models.Rule) error {
	f.mu.Lock()
	f.updated = append(f.updated, r.ID)
	block := f.block[r.ID]
	fail := f.failIDs[r.ID]
	f.mu.Unlock()

	if block {
		<-ctx.Done()
		return ctx.Err()
	}
	if fail {
		return errors.New("match failed")
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.rules {
		if f.rules[i].ID == r.ID {
			f.rules[i].MatchedAppCount = f.targets[r.ID]
		}
	}
	f.notifyLocked()
	return nil
}

func (f *fakeRules) notifyLocked() {
	close(f.changed)
	f.changed = make(chan struct{})
}

func (f *fakeRules) updatedIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.updated...)
}

// fakeRemote yields a fixed sequence of results.
type fakeRemote struct {
	mu      sync.Mutex
	results []SyncResult
	calls   int
}

func (r *fakeRemote) UpdateRules(context.Context) iter.Seq[SyncResult] {
	r.mu.Lock()
	r.calls++
	results := append([]SyncResult(nil), r.results...)
	r.mu.Unlock()
	return func(yield func(SyncResult) bool) {
		for _, res := range results {
			if !yield(res) {
				return
			}
		}
	}
}

func (r *fakeRemote) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

// fakeInit yields states, then err if set. When block is set the sequence
// waits for cancellation before yielding anything.
type fakeInit struct {
	states []InitializeState
	err    error
	block  atomic.Bool
}

func (i *fakeInit) Initialize(ctx context.Context) iter.Seq2[InitializeState, error] {
	return func(yield func(InitializeState, error) bool) {
		if i.block.Load() {
			<-ctx.Done()
			yield(InitializeState{}, ctx.Err())
			return
		}
		for _, s := range i.states {
			if !yield(s, nil) {
				return
			}
		}
		if i.err != nil {
			yield(InitializeState{}, i.err)
		}
	}
}

func initOK() *fakeInit {
	return &fakeInit{states: []InitializeState{
		{Kind: InitStart},
		{Kind: InitProcessing, Name: "a.md"},
		{Kind: InitDone},
	}}
}

// memKV is a map-backed KV.
type memKV struct {
	mu sync.Mutex
	m  map[string]string
}

func newMemKV() *memKV { return &memKV{m: map[string]string{}} }

func (k *memKV) Property(_ context.Context, key string) (string, bool, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	v, ok := k.m[key]
	return v, ok, nil
}

func (k *memKV) SetProperty(_ context.Context, key, value string) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.m[key] = value
	return nil
}

func (k *memKV) get(key string) string {
	v, _, _ := k.Property(context.Background(), key)
	return v
}

func rulesWithCounts(counts ...int) []models.Rule {
	out := make([]models.Rule, len(counts))
	for i, c := range counts {
		id := string(rune('a' + i))
		out[i] = models.Rule{ID: id, Name: "rule " + id, Keywords: []string{id}, MatchedAppCount: c}
	}
	return out
}
