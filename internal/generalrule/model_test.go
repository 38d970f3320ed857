package generalrule

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starford/generalrules/internal/models"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

type harness struct {
	store  *fakeRules
	remote *fakeRemote
	init   *fakeInit
	kv     *memKV
	model  *Model
}

func newHarness(t *testing.T, rules ...models.Rule) *harness {
	t.Helper()
	h := &harness{
		store:  newFakeRules(rules...),
		remote: &fakeRemote{results: []SyncResult{SyncRunning(), SyncOK()}},
		init:   initOK(),
		kv:     newMemKV(),
	}
	return h
}

// start builds the Model. Call after configuring the fakes.
func (h *harness) start(t *testing.T, initialRuleID string) *Model {
	t.Helper()
	h.model = NewModel(Deps{
		Apps:     h.store,
		Rules:    h.store,
		Searcher: h.store,
		Remote:   h.remote,
		Matcher:  h.store,
		Init:     h.init,
		Props:    NewKVProperties(h.kv, initialRuleID),
	}, WithLogger(discardLogger()))
	t.Cleanup(h.model.Close)
	return h.model
}

// storeCurrentHashes makes the change detector report no change.
func (h *harness) storeCurrentHashes() {
	h.kv.m[KeyAppListHash] = AppListHash(h.store.apps)
	h.kv.m[KeyRuleHash] = h.store.ruleHash
}

func (h *harness) hashesSaved() bool {
	return h.kv.get(KeyAppListHash) != "" && h.kv.get(KeyRuleHash) != ""
}

// recorder collects published states.
type recorder struct {
	mu     sync.Mutex
	states []UiState
	alerts []string
}

func record(m *Model) *recorder {
	r := &recorder{}
	m.Subscribe(func(ev Event) {
		r.mu.Lock()
		defer r.mu.Unlock()
		switch ev.Type {
		case EventState:
			r.states = append(r.states, ev.State)
		case EventAlert:
			r.alerts = append(r.alerts, ev.Alert)
		}
	})
	return r
}

func (r *recorder) snapshot() []UiState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]UiState(nil), r.states...)
}

// progress returns the distinct consecutive progress values of Success states.
func (r *recorder) progress() []float64 {
	var out []float64
	for _, s := range r.snapshot() {
		if !s.IsSuccess() {
			continue
		}
		p := s.Snapshot.MatchProgress
		if len(out) == 0 || out[len(out)-1] != p {
			out = append(out, p)
		}
	}
	return out
}

func ids(rules []models.Rule) []string {
	out := make([]string, len(rules))
	for i, r := range rules {
		out[i] = r.ID
	}
	return out
}

func strPtr(s string) *string { return &s }

func TestModel_InitialStateIsLoading(t *testing.T) {
	h := newHarness(t)
	m := h.start(t, "")
	assert.Equal(t, StatusLoading, m.State().Status)
	assert.Empty(t, m.Alert())
}

func TestModel_FreshInstallRefresh(t *testing.T) {
	h := newHarness(t, rulesWithCounts(0, 0, 0)...)
	h.store.targets["b"] = 2
	m := h.start(t, "")

	m.LoadData()

	require.Eventually(t, h.hashesSaved, waitFor, tick)
	require.Eventually(t, func() bool {
		s := m.State()
		return s.IsSuccess() && len(s.Snapshot.MatchedRules) == 1
	}, waitFor, tick)

	s := m.State()
	assert.Equal(t, []string{"b"}, ids(s.Snapshot.MatchedRules))
	assert.Equal(t, 2, s.Snapshot.MatchedRules[0].MatchedAppCount)
	assert.Equal(t, []string{"a", "c"}, ids(s.Snapshot.UnmatchedRules))
	assert.Equal(t, 1.0, s.Snapshot.MatchProgress)

	assert.Equal(t, AppListHash(h.store.apps), h.kv.get(KeyAppListHash))
	assert.Equal(t, "rules-v1", h.kv.get(KeyRuleHash))
	assert.Equal(t, 1, h.remote.callCount())
	assert.Empty(t, m.Alert())
}

func TestModel_ProgressIsMonotonic(t *testing.T) {
	h := newHarness(t, rulesWithCounts(0, 0, 0)...)
	m := h.start(t, "")
	rec := record(m)

	m.LoadData()
	require.Eventually(t, h.hashesSaved, waitFor, tick)

	assert.Equal(t, []float64{0, 1.0 / 3, 2.0 / 3, 1.0}, rec.progress())

	states := rec.snapshot()
	require.NotEmpty(t, states)
	assert.Equal(t, StatusLoading, states[0].Status, "a refresh pass starts in Loading")
}

func TestModel_SkipLoadingWhenNothingChanged(t *testing.T) {
	h := newHarness(t, rulesWithCounts(1, 0)...)
	h.storeCurrentHashes()
	m := h.start(t, "")
	m.state = Success(Snapshot{MatchProgress: 0.4})
	rec := record(m)

	m.LoadData()

	require.Eventually(t, func() bool {
		s := m.State()
		return s.IsSuccess() && len(s.Snapshot.MatchedRules) == 1
	}, waitFor, tick)

	s := m.State()
	assert.Equal(t, 1.0, s.Snapshot.MatchProgress)
	assert.Equal(t, []string{"a"}, ids(s.Snapshot.MatchedRules))
	assert.Equal(t, []string{"b"}, ids(s.Snapshot.UnmatchedRules))

	states := rec.snapshot()
	require.NotEmpty(t, states)
	assert.Equal(t, 1.0, states[0].Snapshot.MatchProgress, "first publish already carries full progress")
	for _, st := range states {
		assert.NotEqual(t, StatusLoading, st.Status)
	}

	assert.Zero(t, h.remote.callCount())
	assert.Empty(t, h.store.updatedIDs())
}

func TestModel_SkipLoadingFreshSuccess(t *testing.T) {
	h := newHarness(t, rulesWithCounts(0, 2)...)
	h.storeCurrentHashes()
	m := h.start(t, "")

	m.LoadData()
	require.Eventually(t, func() bool { return m.State().IsSuccess() }, waitFor, tick)
	assert.Equal(t, 1.0, m.State().Snapshot.MatchProgress)
}

func TestModel_SyncErrorRaisesAlert(t *testing.T) {
	h := newHarness(t, rulesWithCounts(1, 0)...)
	h.remote.results = []SyncResult{SyncRunning(), SyncFailed(errors.New("network down"))}
	m := h.start(t, "")

	m.LoadData()

	require.Eventually(t, func() bool { return m.Alert() == "network down" }, waitFor, tick)
	s := m.State()
	require.True(t, s.IsSuccess(), "stale data stays visible")
	assert.Equal(t, []string{"a"}, ids(s.Snapshot.MatchedRules))
	assert.Zero(t, s.Snapshot.MatchProgress)
	assert.Empty(t, h.store.updatedIDs())
	assert.False(t, h.hashesSaved())

	m.DismissAlert()
	assert.Empty(t, m.Alert())
	assert.True(t, m.State().IsSuccess())
}

func TestModel_InitFailureSetsError(t *testing.T) {
	h := newHarness(t, rulesWithCounts(0)...)
	h.init = &fakeInit{
		states: []InitializeState{{Kind: InitStart}},
		err:    errors.New("disk full"),
	}
	m := h.start(t, "")

	m.LoadData()

	require.Eventually(t, func() bool { return m.State().Status == StatusError }, waitFor, tick)
	<-m.passDone()
	assert.Equal(t, "disk full", m.State().Message)
	assert.Zero(t, h.remote.callCount())
	assert.False(t, h.hashesSaved())
}

func TestModel_InitWithoutDoneSetsError(t *testing.T) {
	h := newHarness(t, rulesWithCounts(0)...)
	h.init = &fakeInit{states: []InitializeState{{Kind: InitStart}}}
	m := h.start(t, "")

	m.LoadData()
	<-m.passDone()

	assert.Equal(t, StatusError, m.State().Status)
	assert.Zero(t, h.remote.callCount())
}

func TestModel_FeedFailureSetsError(t *testing.T) {
	for _, skip := range []bool{false, true} {
		h := newHarness(t, rulesWithCounts(0)...)
		h.store.searchErr = errors.New("db closed")
		if skip {
			h.storeCurrentHashes()
		}
		m := h.start(t, "")

		m.LoadData()
		<-m.passDone()

		s := m.State()
		assert.Equal(t, StatusError, s.Status, "skip=%v", skip)
		assert.Equal(t, "db closed", s.Message)
		assert.Zero(t, h.remote.callCount())
	}
}

func TestModel_SelectRuleDroppedBeforeSuccess(t *testing.T) {
	h := newHarness(t, rulesWithCounts(0)...)
	m := h.start(t, "")

	assert.False(t, m.SelectRule(context.Background(), strPtr("a")))
	assert.Equal(t, StatusLoading, m.State().Status)
	_, ok := h.kv.m[KeySelectedRuleID]
	assert.False(t, ok, "dropped selections are not persisted")

	m.state = Error("boom")
	assert.False(t, m.SelectRule(context.Background(), strPtr("a")))
	assert.Equal(t, Error("boom"), m.State())
}

func TestModel_SelectRuleOnSuccess(t *testing.T) {
	h := newHarness(t, rulesWithCounts(1, 0)...)
	h.storeCurrentHashes()
	m := h.start(t, "")
	m.LoadData()
	require.Eventually(t, func() bool { return m.State().IsSuccess() }, waitFor, tick)
	before := m.State()

	require.True(t, m.SelectRule(context.Background(), strPtr("b")))
	after := m.State()
	require.NotNil(t, after.Snapshot.SelectedRuleID)
	assert.Equal(t, "b", *after.Snapshot.SelectedRuleID)
	assert.Equal(t, before.Snapshot.MatchedRules, after.Snapshot.MatchedRules)
	assert.Equal(t, before.Snapshot.UnmatchedRules, after.Snapshot.UnmatchedRules)
	assert.Equal(t, before.Snapshot.MatchProgress, after.Snapshot.MatchProgress)
	assert.Equal(t, "b", h.kv.get(KeySelectedRuleID))

	require.True(t, m.SelectRule(context.Background(), nil))
	assert.Nil(t, m.State().Snapshot.SelectedRuleID)
	v, ok, _ := h.kv.Property(context.Background(), KeySelectedRuleID)
	assert.True(t, ok)
	assert.Empty(t, v)
}

func TestModel_RestoresSelection(t *testing.T) {
	t.Run("persisted", func(t *testing.T) {
		h := newHarness(t, rulesWithCounts(0, 0)...)
		h.storeCurrentHashes()
		h.kv.m[KeySelectedRuleID] = "b"
		m := h.start(t, "a")

		m.LoadData()
		require.Eventually(t, func() bool { return m.State().IsSuccess() }, waitFor, tick)
		require.NotNil(t, m.State().Snapshot.SelectedRuleID)
		assert.Equal(t, "b", *m.State().Snapshot.SelectedRuleID)
	})
	t.Run("initial", func(t *testing.T) {
		h := newHarness(t, rulesWithCounts(0, 0)...)
		h.storeCurrentHashes()
		m := h.start(t, "a")

		m.LoadData()
		require.Eventually(t, func() bool { return m.State().IsSuccess() }, waitFor, tick)
		require.NotNil(t, m.State().Snapshot.SelectedRuleID)
		assert.Equal(t, "a", *m.State().Snapshot.SelectedRuleID)
	})
}

func TestModel_CloseMidPassSkipsHashSave(t *testing.T) {
	h := newHarness(t, rulesWithCounts(0, 0, 0)...)
	h.store.block["b"] = true
	m := h.start(t, "")

	m.LoadData()
	require.Eventually(t, func() bool { return len(h.store.updatedIDs()) == 2 }, waitFor, tick)

	m.Close()

	assert.False(t, h.hashesSaved())
	assert.Equal(t, []string{"a", "b"}, h.store.updatedIDs())
	assert.NotEqual(t, StatusError, m.State().Status, "cancellation is not a failure")

	m.LoadData()
	assert.Equal(t, 1, h.remote.callCount(), "LoadData after Close is a no-op")
}

func TestModel_LoadDataSupersedesPass(t *testing.T) {
	h := newHarness(t, rulesWithCounts(0, 0)...)
	h.store.targets["a"] = 1
	h.init.block.Store(true)
	m := h.start(t, "")
	rec := record(m)

	m.LoadData()
	h.init.block.Store(false)
	m.LoadData()

	require.Eventually(t, h.hashesSaved, waitFor, tick)
	require.Eventually(t, func() bool {
		s := m.State()
		return s.IsSuccess() && s.Snapshot.MatchProgress == 1
	}, waitFor, tick)

	for _, s := range rec.snapshot() {
		assert.NotEqual(t, StatusError, s.Status)
	}
	assert.Equal(t, []string{"a"}, ids(m.State().Snapshot.MatchedRules))
}

func TestModel_EmptyRuleSetSkipsHashSave(t *testing.T) {
	h := newHarness(t)
	m := h.start(t, "")

	m.LoadData()
	require.Eventually(t, func() bool { return m.State().IsSuccess() }, waitFor, tick)
	require.Eventually(t, func() bool { return h.remote.callCount() == 1 }, waitFor, tick)
	m.Close()

	s := m.State()
	assert.Empty(t, s.Snapshot.MatchedRules)
	assert.Empty(t, s.Snapshot.UnmatchedRules)
	assert.Zero(t, s.Snapshot.MatchProgress)
	assert.False(t, h.hashesSaved())
}

func TestModel_PartialFailuresStillSaveHashes(t *testing.T) {
	h := newHarness(t, rulesWithCounts(0, 0)...)
	h.store.failIDs["a"] = true
	m := h.start(t, "")

	m.LoadData()
	require.Eventually(t, h.hashesSaved, waitFor, tick)
	assert.Equal(t, 1.0, m.State().Snapshot.MatchProgress)
	assert.Empty(t, m.Alert())
}

func TestModel_Unsubscribe(t *testing.T) {
	h := newHarness(t)
	m := h.start(t, "")

	var calls int
	unsub := m.Subscribe(func(Event) { calls++ })
	m.setAlert("x")
	unsub()
	m.setAlert("y")
	assert.Equal(t, 1, calls)
}

func settled(m *Model) <-chan UiState {
	ch := make(chan UiState, 1)
	m.Subscribe(func(ev Event) {
		if ev.Type == EventSettled {
			select {
			case ch <- ev.State:
			default:
			}
		}
	})
	return ch
}

func TestModel_SettledAfterPass(t *testing.T) {
	tests := []struct {
		name   string
		setup  func(h *harness)
		status Status
	}{
		{name: "refresh", status: StatusSuccess},
		{name: "skip loading", setup: func(h *harness) { h.storeCurrentHashes() }, status: StatusSuccess},
		{name: "init failure", setup: func(h *harness) {
			h.init = &fakeInit{err: errors.New("disk full")}
		}, status: StatusError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, rulesWithCounts(0, 0)...)
			h.store.targets["a"] = 1
			if tt.setup != nil {
				tt.setup(h)
			}
			m := h.start(t, "")
			ch := settled(m)

			m.LoadData()

			select {
			case s := <-ch:
				assert.Equal(t, tt.status, s.Status)
				if s.IsSuccess() {
					assert.Equal(t, 1.0, s.Snapshot.MatchProgress)
				}
			case <-time.After(waitFor):
				t.Fatal("pass never settled")
			}
		})
	}
}

func TestModel_SettledStateReadsLatestRules(t *testing.T) {
	h := newHarness(t, rulesWithCounts(0, 0, 0)...)
	h.store.targets["b"] = 2
	h.store.lagging = true
	m := h.start(t, "")
	ch := settled(m)

	m.LoadData()

	select {
	case s := <-ch:
		require.True(t, s.IsSuccess())
		assert.Equal(t, []string{"b"}, ids(s.Snapshot.MatchedRules))
		assert.Equal(t, []string{"a", "c"}, ids(s.Snapshot.UnmatchedRules))
		assert.Equal(t, 2, s.Snapshot.MatchedRules[0].MatchedAppCount)
		assert.Equal(t, 1.0, s.Snapshot.MatchProgress)
	case <-time.After(waitFor):
		t.Fatal("pass never settled")
	}
	assert.Equal(t, []string{"b"}, ids(m.State().Snapshot.MatchedRules))
}
