// Package generalrule keeps the locally cached rule set in step with the
// rule source and the installed apps, and publishes one consistent view of
// the rules partitioned by whether they match any installed app.
//
// A refresh pass runs: change detection, storage initialization, sync,
// per-rule match recomputation, hash persistence. Only one pass is active at
// a time; LoadData cancels the previous one.
package generalrule

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/starford/generalrules/internal/models"
)

// EventType tags Model change notifications.
type EventType int

const (
	EventState EventType = iota
	EventAlert
	// EventSettled follows the last step of a pass. Later state events come
	// only from rule changes or user actions.
	EventSettled
)

// Event is delivered to listeners after every published change.
type Event struct {
	Type  EventType
	State UiState
	Alert string
}

// Listener receives Model events. Listeners run synchronously while the
// Model's state lock is held; they must return quickly and must not call
// back into the Model.
type Listener func(Event)

// Model is the orchestration state machine.
type Model struct {
	deps     Deps
	logger   *slog.Logger
	keyword  string
	hashes   *HashStore
	detector *ChangeDetector
	tracker  *ProgressTracker

	mu              sync.Mutex
	state           UiState
	alert           string
	selected        *string
	selectionLoaded bool
	listeners       map[int]Listener
	nextID          int

	passMu  sync.Mutex
	baseCtx context.Context
	stop    context.CancelFunc
	cancel  context.CancelFunc
	done    chan struct{}
}

// Option configures a Model.
type Option func(*Model)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(m *Model) { m.logger = l }
}

// WithKeyword restricts the published rules to those matching keyword.
func WithKeyword(k string) Option {
	return func(m *Model) { m.keyword = k }
}

// NewModel creates a Model in the Loading state. No pass runs until LoadData.
func NewModel(deps Deps, opts ...Option) *Model {
	m := &Model{
		deps:      deps,
		logger:    slog.Default(),
		state:     Loading(),
		listeners: make(map[int]Listener),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.With(slog.String("component", "generalrule"))
	m.hashes = NewHashStore(deps.Props, deps.Apps, deps.Rules, m.logger)
	m.detector = NewChangeDetector(m.hashes, m.logger)
	m.tracker = NewProgressTracker(deps.Rules, deps.Matcher, m.logger)
	m.baseCtx, m.stop = context.WithCancel(context.Background())
	return m
}

// State returns the current UI state.
func (m *Model) State() UiState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Alert returns the current dismissible alert, or "" when there is none.
func (m *Model) Alert() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.alert
}

// Subscribe registers l and returns a function removing it.
func (m *Model) Subscribe(l Listener) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextID
	m.nextID++
	m.listeners[id] = l
	return func() {
		m.mu.Lock()
		delete(m.listeners, id)
		m.mu.Unlock()
	}
}

// DismissAlert clears the alert.
func (m *Model) DismissAlert() {
	m.setAlert("")
}

// SelectRule sets the selected rule of the current Success state and
// persists it so a later Model starts with it. Before the first Success the
// call is dropped. It reports whether the selection was applied.
func (m *Model) SelectRule(ctx context.Context, id *string) bool {
	m.mu.Lock()
	if !m.state.IsSuccess() {
		m.mu.Unlock()
		return false
	}
	m.selected = cloneID(id)
	m.selectionLoaded = true
	m.state.Snapshot.SelectedRuleID = cloneID(id)
	m.notifyLocked(EventState)
	m.mu.Unlock()

	if err := m.deps.Props.SetSelectedRuleID(ctx, id); err != nil {
		m.logger.Warn("select: persist failed", slog.String("error", err.Error()))
	}
	return true
}

// LoadData cancels any in-flight pass, waits for it to stop, and starts a
// new one.
func (m *Model) LoadData() {
	m.passMu.Lock()
	defer m.passMu.Unlock()

	m.cancelPassLocked()
	if m.baseCtx.Err() != nil {
		return
	}

	ctx, cancel := context.WithCancel(m.baseCtx)
	done := make(chan struct{})
	m.cancel, m.done = cancel, done

	logger := m.logger.With(slog.String("pass_id", uuid.NewString()))
	go func() {
		defer close(done)
		m.runPass(ctx, logger)
	}()
}

// Close cancels the active pass and waits for it to stop. LoadData is a
// no-op afterwards.
func (m *Model) Close() {
	m.passMu.Lock()
	defer m.passMu.Unlock()
	m.stop()
	m.cancelPassLocked()
}

// passDone returns a channel closed when the current pass goroutine exits.
func (m *Model) passDone() <-chan struct{} {
	m.passMu.Lock()
	defer m.passMu.Unlock()
	return m.done
}

func (m *Model) cancelPassLocked() {
	if m.cancel == nil {
		return
	}
	m.cancel()
	<-m.done
	m.cancel = nil
}

func (m *Model) runPass(ctx context.Context, logger *slog.Logger) {
	refresh, err := m.detector.ShouldRefresh(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		logger.Warn("pass: change detection failed, refreshing", slog.String("error", err.Error()))
		refresh = true
	}
	if refresh {
		m.setState(Loading())
		if !m.initialize(ctx, logger) {
			m.settle(ctx)
			return
		}
	} else {
		logger.Debug("pass: no need to refresh the list")
	}

	ready := make(chan struct{})
	feedDone := make(chan struct{})
	go func() {
		defer close(feedDone)
		m.showRules(ctx, logger, !refresh, ready)
	}()

	select {
	case <-ready:
	case <-feedDone:
		m.settle(ctx)
		return
	case <-ctx.Done():
		<-feedDone
		return
	}

	if refresh {
		m.syncRules(ctx, logger)
	}
	m.settleFresh(ctx, logger, !refresh)
	<-feedDone
}

// settle tells listeners the pass has nothing left to do besides following
// the feed.
func (m *Model) settle(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notifyLocked(EventSettled)
}

// settleFresh reads the rule set once more and merges it into the Success
// state before settling, so the settled state reflects every write of the
// pass even when the feed has not caught up yet.
func (m *Model) settleFresh(ctx context.Context, logger *slog.Logger, skipLoading bool) {
	var (
		rules []models.Rule
		fresh bool
	)
	for rs, err := range m.deps.Searcher.Search(ctx, m.keyword) {
		if err != nil {
			if ctx.Err() == nil {
				logger.Warn("pass: final read failed", slog.String("error", err.Error()))
			}
		} else {
			rules, fresh = rs, true
		}
		break
	}
	if ctx.Err() != nil {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if fresh && m.state.IsSuccess() {
		matched, unmatched := Partition(rules)
		snap := m.state.Snapshot
		changed := !models.RulesEqual(snap.MatchedRules, matched) ||
			!models.RulesEqual(snap.UnmatchedRules, unmatched) ||
			(skipLoading && snap.MatchProgress != 1)
		if changed {
			m.state.Snapshot.MatchedRules = matched
			m.state.Snapshot.UnmatchedRules = unmatched
			if skipLoading {
				m.state.Snapshot.MatchProgress = 1
			}
			m.notifyLocked(EventState)
		}
	}
	m.notifyLocked(EventSettled)
}

// initialize consumes the initializer sequence and reports whether Done was
// reached.
func (m *Model) initialize(ctx context.Context, logger *slog.Logger) bool {
	for st, err := range m.deps.Init.Initialize(ctx) {
		if err != nil {
			if ctx.Err() != nil {
				return false
			}
			logger.Error("pass: initialize rule storage failed", slog.String("error", err.Error()))
			m.setState(Error(err.Error()))
			return false
		}
		if st.Kind == InitDone {
			logger.Debug("pass: rule storage ready")
			return ctx.Err() == nil
		}
		logger.Debug("pass: initialize rule storage", slog.String("state", st.String()))
	}
	if ctx.Err() == nil {
		logger.Error("pass: initializer stopped before done")
		m.setState(Error("rule storage initialization did not complete"))
	}
	return false
}

// syncRules consumes the remote sync sequence. Success runs the match pass;
// errors become the dismissible alert.
func (m *Model) syncRules(ctx context.Context, logger *slog.Logger) {
	for res := range m.deps.Remote.UpdateRules(ctx) {
		switch res.Kind {
		case SyncSuccess:
			m.matchRules(ctx, logger)
		case SyncError:
			if ctx.Err() != nil {
				return
			}
			msg := "rule sync failed"
			if res.Err != nil {
				msg = res.Err.Error()
			}
			logger.Warn("pass: sync failed", slog.String("error", msg))
			m.setAlert(msg)
		}
	}
}

func (m *Model) matchRules(ctx context.Context, logger *slog.Logger) {
	res, err := m.tracker.Run(ctx, func(p float64) {
		m.update(func(s UiState) UiState {
			if s.IsSuccess() {
				s.Snapshot.MatchProgress = p
			}
			return s
		})
	})
	if err != nil {
		if ctx.Err() == nil {
			logger.Warn("pass: match pass failed", slog.String("error", err.Error()))
			m.setAlert(err.Error())
		}
		return
	}
	if res.Failed > 0 {
		logger.Warn("pass: some rules could not be matched",
			slog.Int("failed", res.Failed), slog.Int("total", res.Total))
	}
	if res.Total == 0 || ctx.Err() != nil {
		return
	}
	if err := m.hashes.Save(ctx); err != nil {
		logger.Warn("pass: save hashes failed", slog.String("error", err.Error()))
		return
	}
	logger.Info("pass: completed", slog.Int("rules", res.Total))
}

func (m *Model) setState(s UiState) {
	m.update(func(UiState) UiState { return s })
}

// update applies fn atomically and notifies listeners.
func (m *Model) update(fn func(UiState) UiState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = fn(m.state)
	m.notifyLocked(EventState)
}

func (m *Model) setAlert(msg string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.alert == msg {
		return
	}
	m.alert = msg
	m.notifyLocked(EventAlert)
}

func (m *Model) notifyLocked(t EventType) {
	ev := Event{Type: t, State: m.state, Alert: m.alert}
	for _, l := range m.listeners {
		l(ev)
	}
}
