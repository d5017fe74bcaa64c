// Package federation brokers browser logins against each tenant's identity
// provider. Provider configuration is resolved per request from the tenant
// record; the broker itself holds no per-tenant state beyond caches of
// discovery documents and signing keys.
package federation

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/lestrrat-go/jwx/v2/jwt"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"canopy/internal/session"
	"canopy/pkg/config"
	"canopy/pkg/cryptobox"
	"canopy/pkg/problems"
	"canopy/pkg/tenants"
	"canopy/pkg/vault"
)

const (
	signinPath  = "/auth/signin-oidc"
	signoutPath = "/auth/signout-oidc"

	exchangeTimeout = 15 * time.Second
	clockSkew       = 30 * time.Second
)

// Broker drives the OIDC code flow for every tenant.
type Broker struct {
	log      *zap.SugaredLogger
	cfg      config.Config
	store    tenants.Store
	sessions *session.Manager
	meta     *MetadataCache
	jwks     *jwksCache

	// client backs token exchanges; overridable in tests.
	client *http.Client
}

func NewBroker(log *zap.SugaredLogger, cfg config.Config, store tenants.Store, sessions *session.Manager) *Broker {
	return &Broker{
		log:      log,
		cfg:      cfg,
		store:    store,
		sessions: sessions,
		meta:     NewMetadataCache(log, cfg.DiscoveryTTL, cfg.DiscoveryTimeout),
		jwks:     newJWKSCache(cfg.DiscoveryTTL),
		client:   &http.Client{Timeout: exchangeTimeout},
	}
}

// Discover resolves the discovery document published at addr through the
// broker's cache. Used at registration time to pin a tenant's endpoints.
func (b *Broker) Discover(ctx context.Context, addr string) (Metadata, error) {
	return b.meta.Get(ctx, addr)
}

// Login starts the authorization-code flow for the tenant in the URL.
func (b *Broker) Login(w http.ResponseWriter, r *http.Request) {
	slug := chi.URLParam(r, "tenant")
	if slug == "" {
		problems.Write(w, "missing-tenant", "tenant is required to sign in")
		return
	}
	t, err := b.store.GetByIdentifier(r.Context(), slug)
	if err != nil {
		if errors.Is(err, tenants.ErrNotFound) {
			problems.Write(w, "not-found", "unknown tenant")
			return
		}
		b.log.Errorw("tenant lookup failed", "tenant", slug, "err", err)
		problems.Write(w, "federation-unavailable", "tenant lookup failed")
		return
	}

	pc, err := b.configFor(r.Context(), t)
	if err != nil {
		b.log.Errorw("provider resolution failed", "tenant", slug, "err", err)
		problems.Write(w, "federation-unavailable", "identity provider unavailable")
		return
	}

	state, err := randomToken()
	if err != nil {
		problems.Write(w, "federation-unavailable", "could not start sign-in")
		return
	}
	nonce, err := randomToken()
	if err != nil {
		problems.Write(w, "federation-unavailable", "could not start sign-in")
		return
	}

	if err := b.sessions.IssueState(w, session.LoginState{
		State:     state,
		Nonce:     nonce,
		ReturnURL: sanitizeReturnURL(r.URL.Query().Get("returnUrl"), slug),
		Tenant:    slug,
	}); err != nil {
		b.log.Errorw("login state issue failed", "tenant", slug, "err", err)
		problems.Write(w, "federation-unavailable", "could not start sign-in")
		return
	}

	oc := b.oauthConfig(pc, r, slug)
	authURL := oc.AuthCodeURL(state, oauth2.SetAuthURLParam("nonce", nonce))
	http.Redirect(w, r, authURL, http.StatusFound)
}

// Callback handles the provider redirect at /auth/signin-oidc?tenant=<slug>.
func (b *Broker) Callback(w http.ResponseWriter, r *http.Request) {
	slug := r.URL.Query().Get("tenant")
	if slug == "" {
		problems.Write(w, "missing-tenant", "tenant is required on the sign-in callback")
		return
	}

	// An already-authenticated session pinned to another tenant rejects the
	// callback outright, before any token work.
	if claims, err := b.sessions.FromRequest(r); err == nil && claims.Tenant != "" && claims.Tenant != slug {
		b.log.Warnw("callback tenant mismatch", "session_tenant", claims.Tenant, "callback_tenant", slug)
		problems.Write(w, "tenant-mismatch", "sign-in callback is for a different tenant")
		return
	}

	st, err := b.sessions.TakeState(w, r)
	if err != nil {
		problems.Write(w, "authentication-failed", "sign-in state is missing or invalid")
		return
	}
	if st.Tenant != slug {
		b.log.Warnw("callback tenant mismatch", "state_tenant", st.Tenant, "callback_tenant", slug)
		problems.Write(w, "tenant-mismatch", "sign-in callback is for a different tenant")
		return
	}
	if errParam := r.URL.Query().Get("error"); errParam != "" {
		b.log.Warnw("provider returned error", "tenant", slug, "error", errParam,
			"description", r.URL.Query().Get("error_description"))
		problems.Write(w, "authentication-failed", "the identity provider rejected the sign-in")
		return
	}
	code := r.URL.Query().Get("code")
	if code == "" || r.URL.Query().Get("state") != st.State {
		problems.Write(w, "authentication-failed", "sign-in response is incomplete or stale")
		return
	}

	t, err := b.store.GetByIdentifier(r.Context(), slug)
	if err != nil {
		problems.Write(w, "not-found", "unknown tenant")
		return
	}
	pc, err := b.configFor(r.Context(), t)
	if err != nil {
		problems.Write(w, "federation-unavailable", "identity provider unavailable")
		return
	}

	// The client secret is decrypted only here, immediately before the
	// exchange, and fails closed.
	secret, err := b.clientSecret(t, pc)
	if err != nil {
		b.log.Errorw("client secret unavailable", "tenant", slug, "err", err)
		problems.Write(w, "credential-unavailable", "tenant sign-in credentials are unavailable")
		return
	}

	oc := b.oauthConfig(pc, r, slug)
	oc.ClientSecret = secret

	ctx, cancel := context.WithTimeout(r.Context(), exchangeTimeout)
	defer cancel()
	ctx = context.WithValue(ctx, oauth2.HTTPClient, b.client)
	token, err := oc.Exchange(ctx, code)
	if err != nil {
		var re *oauth2.RetrieveError
		if errors.As(err, &re) {
			b.log.Warnw("token exchange rejected", "tenant", slug, "status", re.Response.StatusCode)
			problems.Write(w, "authentication-failed", "the identity provider rejected the sign-in")
			return
		}
		b.log.Errorw("token exchange failed", "tenant", slug, "err", err)
		problems.Write(w, "federation-unavailable", "identity provider unavailable")
		return
	}

	rawIDToken, _ := token.Extra("id_token").(string)
	if rawIDToken == "" {
		problems.Write(w, "authentication-failed", "the identity provider returned no identity")
		return
	}
	claims, err := b.verifyIDToken(ctx, pc, rawIDToken, st.Nonce)
	if err != nil {
		b.log.Warnw("id token rejected", "tenant", slug, "err", err)
		problems.Write(w, "authentication-failed", "the identity could not be verified")
		return
	}
	claims.Tenant = slug

	if err := b.sessions.Issue(w, claims); err != nil {
		b.log.Errorw("session issue failed", "tenant", slug, "err", err)
		problems.Write(w, "federation-unavailable", "could not establish a session")
		return
	}

	dest := st.ReturnURL
	if dest == "" {
		dest = "/" + slug + "/"
	}
	http.Redirect(w, r, dest, http.StatusFound)
}

// Logout clears the session and, when the provider publishes an end-session
// endpoint, forwards the browser there.
func (b *Broker) Logout(w http.ResponseWriter, r *http.Request) {
	slug := chi.URLParam(r, "tenant")
	if slug == "" {
		problems.Write(w, "missing-tenant", "tenant is required to sign out")
		return
	}
	b.sessions.Clear(w)

	t, err := b.store.GetByIdentifier(r.Context(), slug)
	if err != nil {
		http.Redirect(w, r, "/", http.StatusFound)
		return
	}
	pc, err := b.configFor(r.Context(), t)
	if err != nil || pc.EndSessionEndpoint == "" {
		http.Redirect(w, r, "/"+slug+"/", http.StatusFound)
		return
	}

	end, err := url.Parse(pc.EndSessionEndpoint)
	if err != nil {
		http.Redirect(w, r, "/"+slug+"/", http.StatusFound)
		return
	}
	q := end.Query()
	q.Set("post_logout_redirect_uri", requestScheme(r)+"://"+r.Host+signoutPath+"?tenant="+url.QueryEscape(slug))
	end.RawQuery = q.Encode()
	http.Redirect(w, r, end.String(), http.StatusFound)
}

// SignoutCallback lands the browser after provider-side logout.
func (b *Broker) SignoutCallback(w http.ResponseWriter, r *http.Request) {
	slug := r.URL.Query().Get("tenant")
	if slug == "" {
		http.Redirect(w, r, "/", http.StatusFound)
		return
	}
	http.Redirect(w, r, "/"+slug+"/", http.StatusFound)
}

func (b *Broker) oauthConfig(pc ProviderConfig, r *http.Request, slug string) *oauth2.Config {
	return &oauth2.Config{
		ClientID: pc.ClientID,
		Endpoint: oauth2.Endpoint{
			AuthURL:  pc.AuthorizationEndpoint,
			TokenURL: pc.TokenEndpoint,
		},
		RedirectURL: requestScheme(r) + "://" + r.Host + signinPath + "?tenant=" + url.QueryEscape(slug),
		Scopes:      []string{"openid", "profile", "email"},
	}
}

// clientSecret sources the secret from the tenant vault for tenant-owned
// providers, or from broker configuration for the default provider.
func (b *Broker) clientSecret(t tenants.Tenant, pc ProviderConfig) (string, error) {
	if !pc.TenantOwned {
		return b.cfg.DefaultClientSecret, nil
	}
	secret, ok, err := vault.RevealClientSecret(b.cfg.MasterKey, t)
	if err != nil {
		return "", ErrCredentialUnavailable
	}
	if !ok {
		// Public client; the exchange proceeds without a secret.
		return "", nil
	}
	return secret, nil
}

// verifyIDToken checks signature, issuer, audience, lifetime, and nonce, and
// extracts the session claims.
func (b *Broker) verifyIDToken(ctx context.Context, pc ProviderConfig, raw, nonce string) (session.Claims, error) {
	set, err := b.jwks.get(ctx, pc.JWKSURI)
	if err != nil {
		return session.Claims{}, err
	}
	opts := []jwt.ParseOption{
		jwt.WithKeySet(set),
		jwt.WithValidate(true),
		jwt.WithAcceptableSkew(clockSkew),
		jwt.WithAudience(pc.ClientID),
	}
	if pc.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(pc.Issuer))
	}
	tok, err := jwt.Parse([]byte(raw), opts...)
	if err != nil {
		return session.Claims{}, err
	}
	if v, ok := tok.Get("nonce"); !ok || v != nonce {
		return session.Claims{}, errors.New("nonce mismatch")
	}

	claims := session.Claims{Subject: tok.Subject()}
	if v, ok := tok.Get("name"); ok {
		claims.Name, _ = v.(string)
	}
	if v, ok := tok.Get("email"); ok {
		claims.Email, _ = v.(string)
	}
	// Roles are copied only for tenants that configured a role claim.
	if pc.RoleClaim != "" {
		if v, ok := tok.Get(pc.RoleClaim); ok {
			claims.Roles = rolesFrom(v)
			// A role claim that yields nothing is not a login failure.
			if claims.Roles == nil {
				b.log.Warnw("role claim present but not usable", "claim", pc.RoleClaim)
			}
		}
	}
	return claims, nil
}

// sanitizeReturnURL accepts only local paths scoped under the tenant.
// Anything else falls back to the tenant root.
func sanitizeReturnURL(raw, slug string) string {
	if raw == "" {
		return ""
	}
	if strings.HasPrefix(raw, "//") || strings.Contains(raw, "://") {
		return ""
	}
	if !strings.HasPrefix(raw, "/"+slug+"/") {
		return ""
	}
	return raw
}

func requestScheme(r *http.Request) string {
	if p := r.Header.Get("X-Forwarded-Proto"); p != "" {
		return p
	}
	if r.TLS != nil {
		return "https"
	}
	return "http"
}

func randomToken() (string, error) {
	b, err := cryptobox.RandomBytes(32)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

func rolesFrom(v any) []string {
	switch vv := v.(type) {
	case string:
		if vv == "" {
			return nil
		}
		return []string{vv}
	case []string:
		return vv
	case []any:
		out := make([]string, 0, len(vv))
		for _, e := range vv {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
