package federation

import (
	"context"
	"fmt"

	"canopy/pkg/tenants"
)

// ProviderConfig is the resolved identity-provider configuration for one
// request. It is built fresh per request from the tenant record (or the
// broker defaults) and never shared across tenants.
type ProviderConfig struct {
	Issuer                string
	AuthorizationEndpoint string
	TokenEndpoint         string
	JWKSURI               string
	EndSessionEndpoint    string
	ClientID              string
	RoleClaim             string

	// TenantOwned is true when the configuration came from the tenant's own
	// settings rather than the broker defaults. It decides where the client
	// secret is sourced from at token-exchange time.
	TenantOwned bool
}

// configFor resolves the provider configuration for t. A tenant with its own
// federation settings uses those, consulting the discovery document when a
// metadata address is configured; otherwise the broker defaults apply.
func (b *Broker) configFor(ctx context.Context, t tenants.Tenant) (ProviderConfig, error) {
	if !t.HasOIDCConfig() {
		return ProviderConfig{
			Issuer:                b.cfg.DefaultIssuer,
			AuthorizationEndpoint: b.cfg.DefaultAuthorizationEndpoint,
			TokenEndpoint:         b.cfg.DefaultTokenEndpoint,
			JWKSURI:               b.cfg.DefaultJWKSURI,
			EndSessionEndpoint:    b.cfg.DefaultEndSessionEndpoint,
			ClientID:              b.cfg.DefaultClientID,
		}, nil
	}

	pc := ProviderConfig{
		Issuer:                t.OIDC.Authority,
		AuthorizationEndpoint: t.OIDC.AuthorizationEndpoint,
		TokenEndpoint:         t.OIDC.TokenEndpoint,
		JWKSURI:               t.OIDC.JWKSURI,
		EndSessionEndpoint:    t.OIDC.EndSessionEndpoint,
		ClientID:              t.OIDC.ClientID,
		RoleClaim:             t.OIDC.RoleClaimName,
		TenantOwned:           true,
	}
	if t.OIDC.MetadataAddress != "" {
		meta, err := b.meta.Get(ctx, t.OIDC.MetadataAddress)
		if err != nil {
			return ProviderConfig{}, err
		}
		// Explicit tenant settings win over discovered values.
		if pc.Issuer == "" {
			pc.Issuer = meta.Issuer
		}
		if pc.AuthorizationEndpoint == "" {
			pc.AuthorizationEndpoint = meta.AuthorizationEndpoint
		}
		if pc.TokenEndpoint == "" {
			pc.TokenEndpoint = meta.TokenEndpoint
		}
		if pc.JWKSURI == "" {
			pc.JWKSURI = meta.JWKSURI
		}
		if pc.EndSessionEndpoint == "" {
			pc.EndSessionEndpoint = meta.EndSessionEndpoint
		}
	}
	if pc.AuthorizationEndpoint == "" || pc.TokenEndpoint == "" {
		return ProviderConfig{}, fmt.Errorf("%w: tenant %s provider configuration incomplete", ErrFederationUnavailable, t.Identifier)
	}
	return pc, nil
}
