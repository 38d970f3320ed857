package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// NewRouter creates a chi router with all API routes mounted.
// authEnabled controls whether Bearer token auth is enforced.
// sseHandler, if non-nil, is mounted at GET /events inside the auth group.
func NewRouter(model RuleModel, rules RuleQuery, authEnabled bool, token string, sseHandler http.Handler) chi.Router {
	h := NewHandler(model, rules)

	r := chi.NewRouter()
	r.Use(AuthMiddleware(authEnabled, token))

	// View state.
	r.Get("/state", h.GetState)
	r.Post("/refresh", h.Refresh)
	r.Put("/selection", h.SelectRule)

	// Alert.
	r.Get("/alert", h.GetAlert)
	r.Delete("/alert", h.DismissAlert)

	// Rules.
	r.Get("/rules", h.ListRules)
	r.Get("/rules/{id}", h.GetRule)
	r.Get("/rules/{id}/apps", h.MatchedApps)

	// SSE endpoint (protected by same auth middleware).
	if sseHandler != nil {
		r.Get("/events", sseHandler.ServeHTTP)
	}

	return r
}
