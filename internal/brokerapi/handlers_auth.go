package brokerapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// getMe returns the authenticated identity, scoped to the tenant in the URL.
func (a *App) getMe(w http.ResponseWriter, r *http.Request) {
	slug := chi.URLParam(r, "tenant")
	claims, err := a.sessions.FromRequest(r)
	if err != nil || claims.Tenant != slug {
		writeJSON(w, map[string]any{"isAuthenticated": false}, http.StatusUnauthorized)
		return
	}
	roles := claims.Roles
	if roles == nil {
		roles = []string{}
	}
	writeJSON(w, map[string]any{
		"userId":          claims.Subject,
		"userName":        claims.Name,
		"email":           claims.Email,
		"roles":           roles,
		"tenant":          claims.Tenant,
		"isAuthenticated": true,
	}, http.StatusOK)
}

// checkSession is the cheap polling probe: 200 either way.
func (a *App) checkSession(w http.ResponseWriter, r *http.Request) {
	slug := chi.URLParam(r, "tenant")
	claims, err := a.sessions.FromRequest(r)
	authed := err == nil && claims.Tenant == slug
	writeJSON(w, map[string]any{"isAuthenticated": authed}, http.StatusOK)
}
