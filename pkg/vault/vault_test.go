package vault

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"canopy/pkg/cryptobox"
	"canopy/pkg/tenants"
)

func newMasterKey(t *testing.T) []byte {
	t.Helper()
	key, err := cryptobox.NewKey()
	require.NoError(t, err)
	return key
}

func sealedTenant(t *testing.T, masterKey []byte, connString, clientSecret string) tenants.Tenant {
	t.Helper()
	sealed, err := SealNewTenant(masterKey, connString, clientSecret)
	require.NoError(t, err)
	return tenants.Tenant{
		Identifier:       "acme",
		EncryptionKey:    sealed.EncryptedTenantKey,
		ConnectionString: sealed.EncryptedConnectionString,
		OIDC:             tenants.OIDC{ClientSecret: sealed.EncryptedClientSecret},
	}
}

func TestEnvelopeRoundTrip(t *testing.T) {
	masterKey := newMasterKey(t)
	connString := "postgres://user:pw@db:5432/acme?sslmode=require"
	ten := sealedTenant(t, masterKey, connString, "s3cr3t")

	got, err := RevealConnectionString(masterKey, ten)
	require.NoError(t, err)
	assert.Equal(t, connString, got)

	secret, ok, err := RevealClientSecret(masterKey, ten)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "s3cr3t", secret)
}

func TestWrongMasterKeyFailsClosed(t *testing.T) {
	ten := sealedTenant(t, newMasterKey(t), "postgres://db/acme", "s3cr3t")
	other := newMasterKey(t)

	_, err := RevealConnectionString(other, ten)
	assert.ErrorIs(t, err, cryptobox.ErrAuthentication)

	_, _, err = RevealClientSecret(other, ten)
	assert.ErrorIs(t, err, cryptobox.ErrAuthentication)
}

func TestAbsentClientSecretIsNotAnError(t *testing.T) {
	masterKey := newMasterKey(t)
	ten := sealedTenant(t, masterKey, "postgres://db/acme", "")

	secret, ok, err := RevealClientSecret(masterKey, ten)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, secret)
}

func TestMissingKeyMaterial(t *testing.T) {
	masterKey := newMasterKey(t)
	ten := tenants.Tenant{Identifier: "bare"}

	_, err := UnwrapTenantKey(masterKey, ten)
	assert.ErrorIs(t, err, ErrMissingKeyMaterial)

	_, err = RevealConnectionString(masterKey, ten)
	assert.ErrorIs(t, err, ErrMissingKeyMaterial)
}

func TestTenantKeysAreIndependent(t *testing.T) {
	masterKey := newMasterKey(t)
	a := sealedTenant(t, masterKey, "postgres://db/a", "")
	b := sealedTenant(t, masterKey, "postgres://db/b", "")

	// Same master key, distinct tenant keys: swapping ciphertext between
	// tenants must fail authentication.
	a.ConnectionString, b.ConnectionString = b.ConnectionString, a.ConnectionString
	_, err := RevealConnectionString(masterKey, a)
	assert.ErrorIs(t, err, cryptobox.ErrAuthentication)
}
