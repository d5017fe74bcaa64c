package tenants

import (
	"fmt"
	"regexp"
	"strings"
)

// identifierRe: lowercase slug, 1-50 chars, no leading/trailing hyphen.
var identifierRe = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]{0,48}[a-z0-9])?$`)

// NormalizeProvider folds aliases ("postgresql", mixed case) onto the enum.
func NormalizeProvider(p string) DBProvider {
	p = strings.ToLower(strings.TrimSpace(p))
	p = strings.ReplaceAll(p, "postgresql", "postgres")
	if p == "" {
		p = "postgres"
	}
	return DBProvider(p)
}

// ValidateNew checks everything that must hold before a tenant row is
// written. OIDC completeness is decided here, atomically, never deferred to
// request time.
func ValidateNew(identifier, name string, provider DBProvider, oidc OIDC) error {
	if identifier == "" {
		return fmt.Errorf("identifier is required")
	}
	if !identifierRe.MatchString(identifier) {
		return fmt.Errorf("identifier %q must be a lowercase slug (a-z, 0-9, hyphen)", identifier)
	}
	if name == "" {
		return fmt.Errorf("name is required")
	}
	if provider != ProviderPostgres && provider != ProviderMySQL {
		return fmt.Errorf("dbProvider must be postgres or mysql, got %q", provider)
	}
	anySet := oidc.MetadataAddress != "" || oidc.Authority != "" ||
		oidc.AuthorizationEndpoint != "" || oidc.TokenEndpoint != "" ||
		oidc.JWKSURI != "" || oidc.EndSessionEndpoint != "" ||
		oidc.ClientID != "" || oidc.ClientSecret != ""
	if anySet {
		if oidc.ClientID == "" {
			return fmt.Errorf("partial OIDC configuration: clientId is required when any OIDC field is set")
		}
		// A metadata address supplies the issuer and endpoints from the
		// discovery document; without one they must be explicit.
		if oidc.MetadataAddress == "" {
			if oidc.Authority == "" || oidc.AuthorizationEndpoint == "" {
				return fmt.Errorf("partial OIDC configuration: authority and authorizationEndpoint are required without a metadataAddress")
			}
		}
	}
	return nil
}
