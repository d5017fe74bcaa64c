package brokerapi

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"canopy/pkg/tenants"
	"canopy/pkg/uuid47"
	"canopy/pkg/vault"
)

type seedOIDC struct {
	MetadataAddress       string `yaml:"metadataAddress"`
	Authority             string `yaml:"authority"`
	AuthorizationEndpoint string `yaml:"authorizationEndpoint"`
	TokenEndpoint         string `yaml:"tokenEndpoint"`
	JWKSURI               string `yaml:"jwksUri"`
	EndSessionEndpoint    string `yaml:"endSessionEndpoint"`
	ClientID              string `yaml:"clientId"`
	ClientSecret          string `yaml:"clientSecret"`
	RoleClaimName         string `yaml:"roleClaimName"`
}

type seedTenant struct {
	Identifier       string   `yaml:"identifier"`
	Name             string   `yaml:"name"`
	DatabaseProvider string   `yaml:"databaseProvider"`
	ConnectionString string   `yaml:"connectionString"`
	OIDC             seedOIDC `yaml:"oidc"`
}

type seedFile struct {
	Tenants []seedTenant `yaml:"tenants"`
}

// SeedFromFile registers the tenants declared in a YAML file, skipping any
// identifier that already exists. Meant for dev and first-boot provisioning;
// errors on individual entries abort the seed so a bad file is noticed.
func (a *App) SeedFromFile(ctx context.Context, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read seed file: %w", err)
	}
	var f seedFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return fmt.Errorf("parse seed file: %w", err)
	}

	for _, s := range f.Tenants {
		if _, err := a.store.GetByIdentifier(ctx, s.Identifier); err == nil {
			continue
		} else if !errors.Is(err, tenants.ErrNotFound) {
			return fmt.Errorf("seed %s: lookup: %w", s.Identifier, err)
		}

		provider := tenants.NormalizeProvider(s.DatabaseProvider)
		oidc := tenants.OIDC{
			MetadataAddress:       s.OIDC.MetadataAddress,
			Authority:             s.OIDC.Authority,
			AuthorizationEndpoint: s.OIDC.AuthorizationEndpoint,
			TokenEndpoint:         s.OIDC.TokenEndpoint,
			JWKSURI:               s.OIDC.JWKSURI,
			EndSessionEndpoint:    s.OIDC.EndSessionEndpoint,
			ClientID:              s.OIDC.ClientID,
			RoleClaimName:         s.OIDC.RoleClaimName,
		}
		if err := tenants.ValidateNew(s.Identifier, s.Name, provider, oidc); err != nil {
			return fmt.Errorf("seed %s: %w", s.Identifier, err)
		}
		// Same endpoint pinning as registration; a seed entry whose provider
		// cannot be discovered fails the seed.
		if oidc.MetadataAddress != "" {
			meta, err := a.broker.Discover(ctx, oidc.MetadataAddress)
			if err != nil {
				return fmt.Errorf("seed %s: discovery: %w", s.Identifier, err)
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
				return fmt.Errorf("seed %s: discovery document does not publish an issuer", s.Identifier)
			}
		}
		sealed, err := vault.SealNewTenant(a.cfg.MasterKey, s.ConnectionString, s.OIDC.ClientSecret)
		if err != nil {
			return fmt.Errorf("seed %s: seal: %w", s.Identifier, err)
		}
		oidc.ClientSecret = sealed.EncryptedClientSecret

		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("seed %s: %w", s.Identifier, err)
		}
		obfKey, err := uuid47.NewKey()
		if err != nil {
			return fmt.Errorf("seed %s: %w", s.Identifier, err)
		}
		t := tenants.Tenant{
			ID:               id,
			Identifier:       s.Identifier,
			Name:             s.Name,
			DBProvider:       provider,
			EncryptionKey:    sealed.EncryptedTenantKey,
			ConnectionString: sealed.EncryptedConnectionString,
			OIDC:             oidc,
			ObfuscationKey:   obfKey,
			CreatedAt:        time.Now().UTC(),
		}
		if err := a.store.Create(ctx, t); err != nil {
			return fmt.Errorf("seed %s: create: %w", s.Identifier, err)
		}
		a.log.Infow("seeded tenant", "identifier", s.Identifier)
	}
	return nil
}
