package generalrule

import (
	"encoding/json"
	"slices"

	"github.com/starford/generalrules/internal/models"
)

// Status tags the active variant of a UiState.
type Status int

const (
	StatusLoading Status = iota
	StatusSuccess
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusLoading:
		return "loading"
	case StatusSuccess:
		return "success"
	case StatusError:
		return "error"
	default:
		return "unknown"
	}
}

// Snapshot is one consistent view of the rule set.
type Snapshot struct {
	MatchedRules   []models.Rule `json:"matched_rules"`
	UnmatchedRules []models.Rule `json:"unmatched_rules"`
	MatchProgress  float64       `json:"match_progress"`
	SelectedRuleID *string       `json:"selected_rule_id"`
}

// UiState is a tagged union: Loading, Success(Snapshot) or Error(Message).
// Snapshot is meaningful only for StatusSuccess and Message only for
// StatusError. Values handed out by Model are never mutated afterwards.
type UiState struct {
	Status   Status
	Snapshot Snapshot
	Message  string
}

// Loading returns the Loading state.
func Loading() UiState { return UiState{Status: StatusLoading} }

// Success returns a Success state holding s.
func Success(s Snapshot) UiState { return UiState{Status: StatusSuccess, Snapshot: s} }

// Error returns an Error state carrying msg.
func Error(msg string) UiState { return UiState{Status: StatusError, Message: msg} }

// IsSuccess reports whether the state holds a snapshot.
func (s UiState) IsSuccess() bool { return s.Status == StatusSuccess }

// MarshalJSON encodes only the fields of the active variant.
func (s UiState) MarshalJSON() ([]byte, error) {
	switch s.Status {
	case StatusSuccess:
		snap := s.Snapshot
		if snap.MatchedRules == nil {
			snap.MatchedRules = []models.Rule{}
		}
		if snap.UnmatchedRules == nil {
			snap.UnmatchedRules = []models.Rule{}
		}
		return json.Marshal(struct {
			Status string `json:"status"`
			Snapshot
		}{Status: s.Status.String(), Snapshot: snap})
	case StatusError:
		return json.Marshal(struct {
			Status  string `json:"status"`
			Message string `json:"message"`
		}{Status: s.Status.String(), Message: s.Message})
	default:
		return json.Marshal(struct {
			Status string `json:"status"`
		}{Status: s.Status.String()})
	}
}

// Partition splits rules into those matching at least one app and the rest.
// Order within each side follows rules.
func Partition(rules []models.Rule) (matched, unmatched []models.Rule) {
	matched = make([]models.Rule, 0, len(rules))
	unmatched = make([]models.Rule, 0, len(rules))
	for _, r := range rules {
		if r.Matched() {
			matched = append(matched, r)
		} else {
			unmatched = append(unmatched, r)
		}
	}
	return slices.Clip(matched), slices.Clip(unmatched)
}

// InitializeKind tags InitializeState values.
type InitializeKind int

const (
	InitStart InitializeKind = iota
	InitProcessing
	InitDone
)

// InitializeState reports rule storage initialization progress. Name is the
// document being processed for InitProcessing.
type InitializeState struct {
	Kind InitializeKind
	Name string
}

func (s InitializeState) String() string {
	switch s.Kind {
	case InitStart:
		return "start"
	case InitProcessing:
		return "initializing " + s.Name
	case InitDone:
		return "done"
	default:
		return "unknown"
	}
}

// SyncKind tags SyncResult values.
type SyncKind int

const (
	SyncInProgress SyncKind = iota
	SyncSuccess
	SyncError
)

// SyncResult is one element of a remote sync sequence.
type SyncResult struct {
	Kind SyncKind
	Err  error
}

// SyncOK is the successful terminal result.
func SyncOK() SyncResult { return SyncResult{Kind: SyncSuccess} }

// SyncFailed wraps a sync failure.
func SyncFailed(err error) SyncResult { return SyncResult{Kind: SyncError, Err: err} }

// SyncRunning is the intermediate result.
func SyncRunning() SyncResult { return SyncResult{Kind: SyncInProgress} }
