package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/starford/generalrules/internal/apperr"
	"github.com/starford/generalrules/internal/generalrule"
	"github.com/starford/generalrules/internal/models"
)

// RuleModel is the part of generalrule.Model the API drives.
type RuleModel interface {
	State() generalrule.UiState
	Alert() string
	LoadData()
	SelectRule(ctx context.Context, id *string) bool
	DismissAlert()
}

// RuleQuery reads rules and match results from the index.
type RuleQuery interface {
	SearchRules(ctx context.Context, keyword string) ([]models.Rule, error)
	GetRule(ctx context.Context, id string) (*models.Rule, error)
	MatchedApps(ctx context.Context, ruleID string) ([]string, error)
}

// Handler holds API route handlers.
type Handler struct {
	model RuleModel
	rules RuleQuery
}

// NewHandler creates a new Handler.
func NewHandler(model RuleModel, rules RuleQuery) *Handler {
	return &Handler{model: model, rules: rules}
}

// GetState handles GET /api/state.
//
//	@Summary		Current rule-set view state
//	@Tags			state
//	@Produce		json
//	@Success		200	{object}	StateResponse
//	@Security		BearerAuth
//	@Router			/state [get]
func (h *Handler) GetState(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.model.State())
}

// Refresh handles POST /api/refresh.
//
//	@Summary		Start a refresh pass, cancelling any running one
//	@Tags			state
//	@Produce		json
//	@Success		202	{object}	RefreshResponse
//	@Security		BearerAuth
//	@Router			/refresh [post]
func (h *Handler) Refresh(w http.ResponseWriter, _ *http.Request) {
	h.model.LoadData()
	writeJSON(w, http.StatusAccepted, RefreshResponse{Status: "refreshing"})
}

// SelectRule handles PUT /api/selection.
//
//	@Summary		Select a rule, or clear the selection with a null rule_id
//	@Tags			state
//	@Accept			json
//	@Produce		json
//	@Param			body	body		SelectionRequest	true	"Selection"
//	@Success		200		{object}	StateResponse
//	@Failure		400		{object}	errResponse
//	@Failure		409		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/selection [put]
func (h *Handler) SelectRule(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	var req SelectionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.RuleID != nil && *req.RuleID == "" {
		writeError(w, http.StatusBadRequest, "rule_id must be non-empty or null")
		return
	}
	if !h.model.SelectRule(r.Context(), req.RuleID) {
		writeError(w, http.StatusConflict, "rule set not loaded")
		return
	}
	writeJSON(w, http.StatusOK, h.model.State())
}

// GetAlert handles GET /api/alert.
//
//	@Summary		Current dismissible alert
//	@Tags			alert
//	@Produce		json
//	@Success		200	{object}	AlertResponse
//	@Security		BearerAuth
//	@Router			/alert [get]
func (h *Handler) GetAlert(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, AlertResponse{Message: h.model.Alert()})
}

// DismissAlert handles DELETE /api/alert.
//
//	@Summary		Dismiss the alert
//	@Tags			alert
//	@Success		204	"Alert dismissed"
//	@Security		BearerAuth
//	@Router			/alert [delete]
func (h *Handler) DismissAlert(w http.ResponseWriter, _ *http.Request) {
	h.model.DismissAlert()
	w.WriteHeader(http.StatusNoContent)
}

// ListRules handles GET /api/rules.
//
//	@Summary		Search rules by keyword
//	@Tags			rules
//	@Produce		json
//	@Param			q	query		string	false	"Keyword; empty lists every rule"
//	@Success		200	{object}	RuleListResponse
//	@Security		BearerAuth
//	@Router			/rules [get]
func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	rules, err := h.rules.SearchRules(r.Context(), q)
	if err != nil {
		slog.Error("search rules failed", slog.String("query", q), slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, RuleListResponse{Rules: rules, Total: len(rules)})
}

// GetRule handles GET /api/rules/{id}.
//
//	@Summary		Get a single rule
//	@Tags			rules
//	@Produce		json
//	@Param			id	path		string	true	"Rule ID"
//	@Success		200	{object}	models.Rule
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/rules/{id} [get]
func (h *Handler) GetRule(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	rule, err := h.rules.GetRule(r.Context(), id)
	if err != nil {
		h.ruleError(w, id, "get rule failed", err)
		return
	}
	writeJSON(w, http.StatusOK, rule)
}

// MatchedApps handles GET /api/rules/{id}/apps.
//
//	@Summary		Installed apps matched by a rule
//	@Tags			rules
//	@Produce		json
//	@Param			id	path		string	true	"Rule ID"
//	@Success		200	{object}	MatchedAppsResponse
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/rules/{id}/apps [get]
func (h *Handler) MatchedApps(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := h.rules.GetRule(r.Context(), id); err != nil {
		h.ruleError(w, id, "get rule failed", err)
		return
	}
	packages, err := h.rules.MatchedApps(r.Context(), id)
	if err != nil {
		h.ruleError(w, id, "matched apps failed", err)
		return
	}
	writeJSON(w, http.StatusOK, MatchedAppsResponse{RuleID: id, Packages: packages})
}

func (h *Handler) ruleError(w http.ResponseWriter, id, msg string, err error) {
	if errors.Is(err, apperr.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	slog.Error(msg, slog.String("id", id), slog.String("error", err.Error()))
	writeError(w, http.StatusInternalServerError, "internal error")
}
