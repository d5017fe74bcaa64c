package brokerapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"canopy/internal/setuptoken"
	"canopy/pkg/config"
	"canopy/pkg/cryptobox"
	"canopy/pkg/tenants"
)

func newTestApp(t *testing.T) *App {
	t.Helper()
	masterKey, err := cryptobox.NewKey()
	require.NoError(t, err)
	sessionKey, err := cryptobox.NewKey()
	require.NoError(t, err)
	cfg := config.Config{
		Env:                          "dev",
		MasterKey:                    masterKey,
		SessionKey:                   sessionKey,
		DefaultIssuer:                "https://default.example",
		DefaultAuthorizationEndpoint: "https://default.example/authorize",
		DefaultTokenEndpoint:         "https://default.example/token",
		DefaultJWKSURI:               "https://default.example/jwks",
		DefaultClientID:              "default-client",
		DiscoveryTTL:                 time.Minute,
		DiscoveryTimeout:             time.Second,
		SessionTTL:                   time.Hour,
		SetupTokenTTL:                time.Hour,
		RegisterLimit:                10,
		RegisterWindow:               time.Hour,
	}
	log := zap.NewNop().Sugar()
	return New(log, cfg, tenants.NewMemoryStore(log), setuptoken.NewMemoryStore(), nil)
}

func postJSON(t *testing.T, h http.Handler, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	rec := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(raw))
	r.Header.Set("Content-Type", "application/json")
	h.ServeHTTP(rec, r)
	return rec
}

func registerAcme(t *testing.T, h http.Handler) map[string]string {
	t.Helper()
	rec := postJSON(t, h, "/acme/api/tenants/register", registerRequest{
		Identifier:       "acme",
		Name:             "Acme Inc",
		DatabaseProvider: "postgresql",
		ConnectionString: "host=db user=acme password=pw",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var out map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestRegisterTenant(t *testing.T) {
	app := newTestApp(t)
	h := app.Handler()

	out := registerAcme(t, h)
	assert.Equal(t, "acme", out["identifier"])
	assert.NotEmpty(t, out["tenantId"])
	assert.NotEmpty(t, out["setupToken"])

	// The external id is not the stored id.
	stored, err := app.store.GetByIdentifier(context.Background(), "acme")
	require.NoError(t, err)
	assert.NotEqual(t, stored.ID.String(), out["tenantId"])
	assert.Equal(t, stored.ExternalID(), out["tenantId"])

	// Secrets are stored sealed, never plaintext.
	assert.NotContains(t, stored.ConnectionString, "password=pw")
}

func TestRegisterDuplicateConflicts(t *testing.T) {
	app := newTestApp(t)
	h := app.Handler()
	registerAcme(t, h)

	rec := postJSON(t, h, "/acme/api/tenants/register", registerRequest{
		Identifier:       "acme",
		Name:             "Another Acme",
		DatabaseProvider: "postgres",
		ConnectionString: "host=db2",
	})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestRegisterRejectsPartialOIDC(t *testing.T) {
	app := newTestApp(t)
	h := app.Handler()

	rec := postJSON(t, h, "/zeta/api/tenants/register", registerRequest{
		Identifier:       "zeta",
		Name:             "Zeta",
		DatabaseProvider: "postgres",
		ConnectionString: "host=db",
		OIDC:             oidcRequest{ClientID: "zeta-client"},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "partial OIDC configuration")
}

func TestRegisterRejectsBadIdentifier(t *testing.T) {
	app := newTestApp(t)
	h := app.Handler()

	rec := postJSON(t, h, "/x/api/tenants/register", registerRequest{
		Identifier:       "Not A Slug",
		Name:             "X",
		DatabaseProvider: "postgres",
		ConnectionString: "host=db",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetListDeleteTenant(t *testing.T) {
	app := newTestApp(t)
	h := app.Handler()
	out := registerAcme(t, h)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/acme/api/tenants/acme", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var got tenantResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, out["tenantId"], got.TenantID)
	assert.Equal(t, "postgres", got.DBProvider)
	assert.False(t, got.HasOIDC)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/acme/api/tenants/", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var list []tenantResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Len(t, list, 1)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/acme/api/tenants/acme", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/acme/api/tenants/acme", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDeleteTenantRevokesSetupTokens(t *testing.T) {
	app := newTestApp(t)
	h := app.Handler()
	out := registerAcme(t, h)

	ctx := context.Background()
	stored, err := app.store.GetByIdentifier(ctx, "acme")
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/acme/api/tenants/acme", nil))
	require.Equal(t, http.StatusNoContent, rec.Code)

	// The token does not outlive its tenant.
	status, err := app.tokens.Validate(ctx, stored.ID, out["setupToken"])
	require.NoError(t, err)
	assert.Equal(t, setuptoken.StatusNotFound, status)
}

func discoveryServer(t *testing.T) *httptest.Server {
	t.Helper()
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{
			"issuer":                 srv.URL,
			"authorization_endpoint": srv.URL + "/oauth2/authorize",
			"token_endpoint":         srv.URL + "/oauth2/token",
			"jwks_uri":               srv.URL + "/oauth2/jwks",
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestRegisterWithDiscoveryThenLogin(t *testing.T) {
	app := newTestApp(t)
	h := app.Handler()
	idp := discoveryServer(t)

	rec := postJSON(t, h, "/beta/api/tenants/register", registerRequest{
		Identifier:       "beta",
		Name:             "Beta Corp",
		DatabaseProvider: "postgres",
		ConnectionString: "host=db user=beta",
		OIDC: oidcRequest{
			MetadataAddress: idp.URL,
			Authority:       idp.URL,
			ClientID:        "beta-client",
			ClientSecret:    "beta-secret",
		},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	// Login targets the endpoint published by beta's discovery document,
	// with beta's own client id.
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/beta/auth/login", nil))
	require.Equal(t, http.StatusFound, rec.Code, rec.Body.String())

	loc, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, idp.URL+"/oauth2/authorize", loc.Scheme+"://"+loc.Host+loc.Path)
	assert.Equal(t, "beta-client", loc.Query().Get("client_id"))
}

func TestRegisterMetadataOnlyFillsAuthority(t *testing.T) {
	app := newTestApp(t)
	h := app.Handler()
	idp := discoveryServer(t)

	rec := postJSON(t, h, "/gamma/api/tenants/register", registerRequest{
		Identifier:       "gamma",
		Name:             "Gamma LLC",
		DatabaseProvider: "postgres",
		ConnectionString: "host=db user=gamma",
		OIDC: oidcRequest{
			MetadataAddress: idp.URL,
			ClientID:        "gamma-client",
		},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	stored, err := app.store.GetByIdentifier(context.Background(), "gamma")
	require.NoError(t, err)
	assert.True(t, stored.HasOIDCConfig())
	assert.Equal(t, idp.URL, stored.OIDC.Authority)
	assert.Equal(t, idp.URL+"/oauth2/authorize", stored.OIDC.AuthorizationEndpoint)
}

func TestSetupConsumesToken(t *testing.T) {
	app := newTestApp(t)
	h := app.Handler()
	out := registerAcme(t, h)

	body := setupRequest{TenantID: out["tenantId"], Token: out["setupToken"]}
	rec := postJSON(t, h, "/acme/api/tenants/setup", body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), "completed")

	// One-time: the second attempt fails.
	rec = postJSON(t, h, "/acme/api/tenants/setup", body)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestSetupRejectsForeignTenantID(t *testing.T) {
	app := newTestApp(t)
	h := app.Handler()
	out := registerAcme(t, h)

	rec := postJSON(t, h, "/acme/api/tenants/setup", setupRequest{
		TenantID: "3b241101-e2bb-4255-8caf-4136c566a962",
		Token:    out["setupToken"],
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRegisterRateLimited(t *testing.T) {
	app := newTestApp(t)
	h := app.Handler()

	var last *httptest.ResponseRecorder
	for i := 0; i <= app.cfg.RegisterLimit; i++ {
		last = postJSON(t, h, "/t/api/tenants/register", registerRequest{
			Identifier:       fmt.Sprintf("tenant-%d", i),
			Name:             fmt.Sprintf("Tenant %d", i),
			DatabaseProvider: "postgres",
			ConnectionString: "host=db",
		})
	}
	assert.Equal(t, http.StatusTooManyRequests, last.Code)
	assert.Contains(t, last.Body.String(), "Too many tenant creation requests")
}
