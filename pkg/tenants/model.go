package tenants

import (
	"time"

	"github.com/google/uuid"

	"canopy/pkg/uuid47"
)

// DBProvider is the relational backend a tenant's own data lives in.
type DBProvider string

const (
	ProviderPostgres DBProvider = "postgres"
	ProviderMySQL    DBProvider = "mysql"
)

// OIDC carries a tenant's federation settings. A tenant either brings a
// complete configuration (authority + authorization endpoint + client id at
// minimum) or none at all, in which case logins fall back to the broker's
// default provider.
type OIDC struct {
	// Discovery endpoint; when set, the remaining endpoints are resolved
	// from the published metadata document per request.
	MetadataAddress string

	Authority             string
	AuthorizationEndpoint string
	TokenEndpoint         string
	JWKSURI               string
	EndSessionEndpoint    string

	ClientID string
	// ClientSecret is ciphertext under the tenant key, never plaintext.
	ClientSecret string

	// RoleClaimName selects the provider claim to source roles from.
	// Empty means the provider's defaults are left alone.
	RoleClaimName string
}

// Tenant is one row of the tenant catalog.
type Tenant struct {
	// ID is the internal identifier (UUIDv7, timestamp-bearing). Exposed
	// externally only through the per-tenant obfuscation key.
	ID         uuid.UUID
	Identifier string // URL slug, unique, immutable after creation
	Name       string // display name, unique
	DBProvider DBProvider

	// EncryptionKey is the tenant's AES key wrapped under the master key.
	EncryptionKey string
	// ConnectionString is ciphertext under the tenant key.
	ConnectionString string

	OIDC OIDC

	ObfuscationKey uuid47.Key

	CreatedAt time.Time
}

// HasOIDCConfig reports whether the tenant carries a complete federation
// configuration. Partial configurations are rejected at creation time, so at
// request time this is a plain all-present check.
func (t Tenant) HasOIDCConfig() bool {
	return t.OIDC.Authority != "" &&
		t.OIDC.AuthorizationEndpoint != "" &&
		t.OIDC.ClientID != ""
}

// ExternalID is the obfuscated form shown outside the system.
func (t Tenant) ExternalID() string {
	return uuid47.EncodeString(t.ID, t.ObfuscationKey)
}
