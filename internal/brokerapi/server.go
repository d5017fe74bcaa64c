package brokerapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	mw "canopy/pkg/middleware"
)

// Handler builds the HTTP handler with routes and middleware.
func (a *App) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(mw.RequestID())
	r.Use(mw.Recover(a.log))
	r.Use(mw.Tracing())

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true}`))
	})
	r.Handle("/metrics", promhttp.Handler())

	// Provider-facing callbacks. The tenant travels in the query string
	// because redirect URIs are registered once, not per tenant.
	r.Get("/auth/signin-oidc", a.broker.Callback)
	r.Get("/auth/signout-oidc", a.broker.SignoutCallback)

	r.Route("/{tenant}", func(tr chi.Router) {
		tr.Route("/auth", func(ar chi.Router) {
			ar.Get("/login", a.broker.Login)
			ar.Get("/logout", a.broker.Logout)
			ar.Get("/me", a.getMe)
			ar.Get("/check", a.checkSession)
		})
		tr.Route("/api/tenants", func(api chi.Router) {
			api.With(a.limiter.Limit).Post("/register", a.registerTenant)
			api.Get("/", a.listTenants)
			api.Get("/{identifier}", a.getTenant)
			api.Delete("/{identifier}", a.deleteTenant)
			api.Post("/setup", a.setupTenant)
		})
	})

	return r
}
