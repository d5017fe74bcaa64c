package brokerapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"canopy/internal/setuptoken"
	"canopy/pkg/problems"
	"canopy/pkg/tenants"
	"canopy/pkg/uuid47"
	"canopy/pkg/vault"
)

type oidcRequest struct {
	MetadataAddress       string `json:"metadataAddress"`
	Authority             string `json:"authority"`
	AuthorizationEndpoint string `json:"authorizationEndpoint"`
	TokenEndpoint         string `json:"tokenEndpoint"`
	JWKSURI               string `json:"jwksUri"`
	EndSessionEndpoint    string `json:"endSessionEndpoint"`
	ClientID              string `json:"clientId"`
	ClientSecret          string `json:"clientSecret"`
	RoleClaimName         string `json:"roleClaimName"`
}

type registerRequest struct {
	Identifier       string      `json:"identifier"`
	Name             string      `json:"name"`
	DatabaseProvider string      `json:"databaseProvider"`
	ConnectionString string      `json:"connectionString"`
	OIDC             oidcRequest `json:"oidc"`
}

type tenantResponse struct {
	TenantID   string `json:"tenantId"`
	Identifier string `json:"identifier"`
	Name       string `json:"name"`
	DBProvider string `json:"databaseProvider"`
	HasOIDC    bool   `json:"hasOidcConfiguration"`
	CreatedAt  string `json:"createdAt"`
}

func toTenantResponse(t tenants.Tenant) tenantResponse {
	return tenantResponse{
		TenantID:   t.ExternalID(),
		Identifier: t.Identifier,
		Name:       t.Name,
		DBProvider: string(t.DBProvider),
		HasOIDC:    t.HasOIDCConfig(),
		CreatedAt:  t.CreatedAt.UTC().Format(time.RFC3339),
	}
}

// registerTenant creates a tenant row with all secret material sealed, plus
// a one-time setup token. The plaintext token appears only in this response.
func (a *App) registerTenant(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		problems.Write(w, "validation", "request body must be JSON")
		return
	}
	provider := tenants.NormalizeProvider(req.DatabaseProvider)
	oidc := tenants.OIDC{
		MetadataAddress:       req.OIDC.MetadataAddress,
		Authority:             req.OIDC.Authority,
		AuthorizationEndpoint: req.OIDC.AuthorizationEndpoint,
		TokenEndpoint:         req.OIDC.TokenEndpoint,
		JWKSURI:               req.OIDC.JWKSURI,
		EndSessionEndpoint:    req.OIDC.EndSessionEndpoint,
		ClientID:              req.OIDC.ClientID,
		RoleClaimName:         req.OIDC.RoleClaimName,
	}
	if err := tenants.ValidateNew(req.Identifier, req.Name, provider, oidc); err != nil {
		problems.Write(w, "validation", err.Error())
		return
	}
	if req.ConnectionString == "" {
		problems.Write(w, "validation", "connectionString is required")
		return
	}

	// Endpoints behind a metadata address are pinned at registration time.
	// A provider that cannot be discovered now would produce a tenant that
	// cannot log in, so registration fails closed.
	if oidc.MetadataAddress != "" {
		meta, err := a.broker.Discover(r.Context(), oidc.MetadataAddress)
		if err != nil {
			a.log.Warnw("registration discovery failed", "identifier", req.Identifier,
				"metadata_address", oidc.MetadataAddress, "err", err)
			problems.Write(w, "federation-unavailable", "the OIDC metadata address could not be resolved")
			return
		}
		if oidc.Authority == "" {
			oidc.Authority = meta.Issuer
		}
		if oidc.AuthorizationEndpoint == "" {
			oidc.AuthorizationEndpoint = meta.AuthorizationEndpoint
		}
		if oidc.TokenEndpoint == "" {
			oidc.TokenEndpoint = meta.TokenEndpoint
		}
		if oidc.JWKSURI == "" {
			oidc.JWKSURI = meta.JWKSURI
		}
		if oidc.EndSessionEndpoint == "" {
			oidc.EndSessionEndpoint = meta.EndSessionEndpoint
		}
		if oidc.Authority == "" {
			problems.Write(w, "validation", "the discovery document does not publish an issuer; authority must be set explicitly")
			return
		}
	}

	sealed, err := vault.SealNewTenant(a.cfg.MasterKey, req.ConnectionString, req.OIDC.ClientSecret)
	if err != nil {
		a.log.Errorw("sealing tenant secrets failed", "identifier", req.Identifier, "err", err)
		problems.Write(w, "credential-unavailable", "tenant secrets could not be protected")
		return
	}
	oidc.ClientSecret = sealed.EncryptedClientSecret

	id, err := uuid.NewV7()
	if err != nil {
		problems.Write(w, "credential-unavailable", "tenant id could not be generated")
		return
	}
	obfKey, err := uuid47.NewKey()
	if err != nil {
		problems.Write(w, "credential-unavailable", "tenant id key could not be generated")
		return
	}
	t := tenants.Tenant{
		ID:               id,
		Identifier:       req.Identifier,
		Name:             req.Name,
		DBProvider:       provider,
		EncryptionKey:    sealed.EncryptedTenantKey,
		ConnectionString: sealed.EncryptedConnectionString,
		OIDC:             oidc,
		ObfuscationKey:   obfKey,
		CreatedAt:        time.Now().UTC(),
	}
	if err := a.store.Create(r.Context(), t); err != nil {
		if errors.Is(err, tenants.ErrConflict) {
			problems.Write(w, "conflict", "a tenant with that identifier or name already exists")
			return
		}
		a.log.Errorw("tenant create failed", "identifier", req.Identifier, "err", err)
		problems.Write(w, "credential-unavailable", "tenant could not be created")
		return
	}

	token, err := a.tokens.Issue(r.Context(), t.ID)
	if err != nil {
		a.log.Errorw("setup token issue failed", "identifier", req.Identifier, "err", err)
		problems.Write(w, "credential-unavailable", "setup token could not be issued")
		return
	}

	writeJSON(w, map[string]any{
		"identifier": t.Identifier,
		"tenantId":   t.ExternalID(),
		"setupToken": token,
	}, http.StatusCreated)
}

func (a *App) getTenant(w http.ResponseWriter, r *http.Request) {
	t, err := a.store.GetByIdentifier(r.Context(), chi.URLParam(r, "identifier"))
	if err != nil {
		if errors.Is(err, tenants.ErrNotFound) {
			problems.Write(w, "not-found", "unknown tenant")
			return
		}
		problems.Write(w, "credential-unavailable", "tenant lookup failed")
		return
	}
	writeJSON(w, toTenantResponse(t), http.StatusOK)
}

func (a *App) listTenants(w http.ResponseWriter, r *http.Request) {
	list, err := a.store.List(r.Context())
	if err != nil {
		problems.Write(w, "credential-unavailable", "tenant listing failed")
		return
	}
	out := make([]tenantResponse, 0, len(list))
	for _, t := range list {
		out = append(out, toTenantResponse(t))
	}
	writeJSON(w, out, http.StatusOK)
}

func (a *App) deleteTenant(w http.ResponseWriter, r *http.Request) {
	t, err := a.store.GetByIdentifier(r.Context(), chi.URLParam(r, "identifier"))
	if err != nil {
		if errors.Is(err, tenants.ErrNotFound) {
			problems.Write(w, "not-found", "unknown tenant")
			return
		}
		problems.Write(w, "credential-unavailable", "tenant lookup failed")
		return
	}
	if err := a.store.Delete(r.Context(), t.ID); err != nil {
		if errors.Is(err, tenants.ErrNotFound) {
			problems.Write(w, "not-found", "unknown tenant")
			return
		}
		problems.Write(w, "credential-unavailable", "tenant delete failed")
		return
	}
	// Outstanding setup tokens do not survive their tenant.
	if err := a.tokens.RevokeAll(r.Context(), t.ID); err != nil {
		a.log.Warnw("setup token revoke failed", "tenant", t.Identifier, "err", err)
	}
	w.WriteHeader(http.StatusNoContent)
}

type setupRequest struct {
	TenantID string `json:"tenantId"`
	Token    string `json:"token"`
}

// setupTenant consumes a one-time setup token for the tenant in the URL. The
// caller proves possession of both the obfuscated tenant id and the token.
func (a *App) setupTenant(w http.ResponseWriter, r *http.Request) {
	slug := chi.URLParam(r, "tenant")
	var req setupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.TenantID == "" || req.Token == "" {
		problems.Write(w, "validation", "tenantId and token are required")
		return
	}
	t, err := a.store.GetByIdentifier(r.Context(), slug)
	if err != nil {
		problems.Write(w, "not-found", "unknown tenant")
		return
	}
	decoded, err := uuid47.DecodeString(req.TenantID, t.ObfuscationKey)
	if err != nil || decoded != t.ID {
		problems.Write(w, "authentication-failed", "tenant id does not match")
		return
	}
	status, err := a.tokens.Validate(r.Context(), t.ID, req.Token)
	if err != nil {
		problems.Write(w, "credential-unavailable", "setup token validation failed")
		return
	}
	switch status {
	case setuptoken.StatusValid:
		// Setup provisions the tenant database, so the sealed connection
		// string must decrypt before the one-time token is spent.
		driver, _, err := a.connectionStringFor(t)
		if err != nil {
			a.log.Errorw("tenant credentials unavailable at setup", "tenant", slug, "err", err)
			problems.Write(w, "credential-unavailable", "tenant database credentials are unavailable")
			return
		}
		a.log.Infow("tenant setup completed", "tenant", slug, "driver", driver)
		if err := a.tokens.Consume(r.Context(), t.ID, req.Token); err != nil && !errors.Is(err, setuptoken.ErrNotFound) {
			problems.Write(w, "credential-unavailable", "setup token could not be consumed")
			return
		}
		writeJSON(w, map[string]any{"status": "completed", "identifier": t.Identifier}, http.StatusOK)
	case setuptoken.StatusExpired:
		problems.Write(w, "authentication-failed", "setup token has expired")
	default:
		problems.Write(w, "authentication-failed", "setup token is invalid")
	}
}

// connectionStringFor is the broker-side decryption path used when a
// tenant-scoped database handle is needed. The driver name pairs with the
// plaintext DSN; plaintext never leaves the call.
func (a *App) connectionStringFor(t tenants.Tenant) (driver, dsn string, err error) {
	driver, err = tenants.DriverFor(t.DBProvider)
	if err != nil {
		return "", "", err
	}
	dsn, err = vault.RevealConnectionString(a.cfg.MasterKey, t)
	if err != nil {
		return "", "", err
	}
	return driver, dsn, nil
}
