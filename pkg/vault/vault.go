// Package vault implements two-stage envelope protection of tenant secrets:
// each tenant's data key is wrapped under the broker master key, and the
// tenant's connection string and OIDC client secret are sealed under the
// tenant key. Compromise of one tenant's key exposes nothing of its peers,
// and the catalog itself holds only ciphertext.
//
// All operations are pure functions of their inputs; nothing is cached and
// plaintext key material never outlives the call.
package vault

import (
	"errors"
	"fmt"

	"canopy/pkg/cryptobox"
	"canopy/pkg/tenants"
)

// ErrMissingKeyMaterial is returned when a tenant record carries no wrapped
// encryption key.
var ErrMissingKeyMaterial = errors.New("vault: tenant has no encryption key")

// Sealed is the ciphertext bundle produced at tenant-creation time.
type Sealed struct {
	EncryptedTenantKey        string
	EncryptedConnectionString string
	// EncryptedClientSecret is empty when no client secret was supplied.
	EncryptedClientSecret string
}

// UnwrapTenantKey recovers the tenant's data key using the master key.
func UnwrapTenantKey(masterKey []byte, t tenants.Tenant) ([]byte, error) {
	if t.EncryptionKey == "" {
		return nil, ErrMissingKeyMaterial
	}
	key, err := cryptobox.Open(masterKey, t.EncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("tenant key: %w", err)
	}
	if len(key) != cryptobox.KeySize {
		return nil, fmt.Errorf("tenant key: unwrapped %d bytes, want %d", len(key), cryptobox.KeySize)
	}
	return key, nil
}

// RevealConnectionString decrypts the tenant's database connection string.
func RevealConnectionString(masterKey []byte, t tenants.Tenant) (string, error) {
	tenantKey, err := UnwrapTenantKey(masterKey, t)
	if err != nil {
		return "", err
	}
	plain, err := cryptobox.Open(tenantKey, t.ConnectionString)
	if err != nil {
		return "", fmt.Errorf("connection string: %w", err)
	}
	return string(plain), nil
}

// RevealClientSecret decrypts the tenant's OIDC client secret. A tenant
// without a configured secret yields ok=false, not an error.
func RevealClientSecret(masterKey []byte, t tenants.Tenant) (string, bool, error) {
	if t.OIDC.ClientSecret == "" {
		return "", false, nil
	}
	tenantKey, err := UnwrapTenantKey(masterKey, t)
	if err != nil {
		return "", false, err
	}
	plain, err := cryptobox.Open(tenantKey, t.OIDC.ClientSecret)
	if err != nil {
		return "", false, fmt.Errorf("client secret: %w", err)
	}
	return string(plain), true, nil
}

// SealNewTenant generates a fresh 256-bit tenant key, wraps it under the
// master key, and seals both payloads under the tenant key. Used only at
// tenant-creation time; the plaintext tenant key is not retained.
func SealNewTenant(masterKey []byte, connString, clientSecret string) (Sealed, error) {
	tenantKey, err := cryptobox.NewKey()
	if err != nil {
		return Sealed{}, fmt.Errorf("tenant key: %w", err)
	}
	wrapped, err := cryptobox.Seal(masterKey, tenantKey)
	if err != nil {
		return Sealed{}, fmt.Errorf("tenant key: %w", err)
	}
	sealedConn, err := cryptobox.Seal(tenantKey, []byte(connString))
	if err != nil {
		return Sealed{}, fmt.Errorf("connection string: %w", err)
	}
	out := Sealed{
		EncryptedTenantKey:        wrapped,
		EncryptedConnectionString: sealedConn,
	}
	if clientSecret != "" {
		sealedSecret, err := cryptobox.Seal(tenantKey, []byte(clientSecret))
		if err != nil {
			return Sealed{}, fmt.Errorf("client secret: %w", err)
		}
		out.EncryptedClientSecret = sealedSecret
	}
	return out, nil
}
