package api

import "github.com/starford/generalrules/internal/models"

// SelectionRequest is the request body for PUT /api/selection. A null
// rule_id clears the selection.
type SelectionRequest struct {
	RuleID *string `json:"rule_id" example:"firebase-analytics"`
}

// AlertResponse carries the dismissible alert. Message is empty when there is none.
type AlertResponse struct {
	Message string `json:"message" example:"rulesync: fetch: unexpected status 503 Service Unavailable"`
}

// RefreshResponse is returned when a refresh pass has been started.
type RefreshResponse struct {
	Status string `json:"status" example:"refreshing" validate:"required"`
}

// RuleListResponse wraps rule search results.
type RuleListResponse struct {
	Rules []models.Rule `json:"rules" validate:"required"`
	Total int           `json:"total" example:"42" validate:"required"`
}

// MatchedAppsResponse lists the packages a rule matched in the last pass.
type MatchedAppsResponse struct {
	RuleID   string   `json:"rule_id" example:"firebase-analytics" validate:"required"`
	Packages []string `json:"packages" validate:"required"`
}

// StateResponse documents the shape of generalrule.UiState as encoded on the
// wire. Rule lists and progress are present only when status is "success",
// message only when it is "error".
type StateResponse struct {
	Status         string        `json:"status" example:"success" enums:"loading,success,error" validate:"required"`
	MatchedRules   []models.Rule `json:"matched_rules,omitempty"`
	UnmatchedRules []models.Rule `json:"unmatched_rules,omitempty"`
	MatchProgress  float64       `json:"match_progress,omitempty" example:"0.5"`
	SelectedRuleID *string       `json:"selected_rule_id,omitempty" example:"adjust"`
	Message        string        `json:"message,omitempty"`
}
