// Package setuptoken issues and validates the one-time, time-boxed tokens
// handed back at tenant registration. Only the sha256 of a token is ever
// persisted; single-use enforcement (delete on consumption) is the caller's
// responsibility so it can happen atomically with the bootstrap action the
// token authorized.
package setuptoken

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"time"

	"github.com/google/uuid"

	"canopy/pkg/cryptobox"
)

const (
	// TTL is the fixed validity window for freshly issued tokens.
	TTL = time.Hour
	// tokenBytes of CSPRNG output per token (~88 chars base64).
	tokenBytes = 64
)

// Status of a validation attempt.
type Status int

const (
	StatusValid Status = iota
	StatusExpired
	StatusNotFound
)

func (s Status) String() string {
	switch s {
	case StatusValid:
		return "valid"
	case StatusExpired:
		return "expired"
	default:
		return "notFound"
	}
}

// ErrNotFound is returned by stores when no matching token row exists.
var ErrNotFound = errors.New("setup token not found")

// Token is the persisted form: hash only, never the plaintext.
type Token struct {
	ID        uuid.UUID
	TenantID  uuid.UUID
	TokenHash string
	CreatedAt time.Time
	ExpiresAt time.Time
}

// Store persists token hashes. Rows are cascade-deleted with their tenant.
type Store interface {
	Insert(ctx context.Context, tok Token) error
	GetByTenantAndHash(ctx context.Context, tenantID uuid.UUID, hash string) (Token, error)
	Delete(ctx context.Context, id uuid.UUID) error
	DeleteByTenant(ctx context.Context, tenantID uuid.UUID) error
}

// Issuer creates and checks setup tokens against a Store.
type Issuer struct {
	store Store
	now   func() time.Time
}

func NewIssuer(store Store) *Issuer {
	return &Issuer{store: store, now: time.Now}
}

// Issue mints a fresh token for the tenant and returns the plaintext. The
// caller hands it to the registrant; it is not recoverable afterwards.
func (i *Issuer) Issue(ctx context.Context, tenantID uuid.UUID) (string, error) {
	raw, err := cryptobox.RandomBytes(tokenBytes)
	if err != nil {
		return "", err
	}
	plaintext := base64.StdEncoding.EncodeToString(raw)
	now := i.now().UTC()
	tok := Token{
		ID:        uuid.New(),
		TenantID:  tenantID,
		TokenHash: Hash(plaintext),
		CreatedAt: now,
		ExpiresAt: now.Add(TTL),
	}
	if err := i.store.Insert(ctx, tok); err != nil {
		return "", err
	}
	return plaintext, nil
}

// Validate checks a candidate token for the tenant. It never deletes the
// row; callers delete on successful consumption.
func (i *Issuer) Validate(ctx context.Context, tenantID uuid.UUID, candidate string) (Status, error) {
	tok, err := i.store.GetByTenantAndHash(ctx, tenantID, Hash(candidate))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return StatusNotFound, nil
		}
		return StatusNotFound, err
	}
	if i.now().UTC().After(tok.ExpiresAt) {
		return StatusExpired, nil
	}
	return StatusValid, nil
}

// Consume deletes the stored token matching the candidate. Callers invoke
// it together with the bootstrap action the token authorized.
func (i *Issuer) Consume(ctx context.Context, tenantID uuid.UUID, candidate string) error {
	tok, err := i.store.GetByTenantAndHash(ctx, tenantID, Hash(candidate))
	if err != nil {
		return err
	}
	return i.store.Delete(ctx, tok.ID)
}

// RevokeAll deletes every outstanding token for a tenant. Called when the
// tenant itself is deleted; the postgres store also cascades via FK, but the
// lifecycle must hold for every store.
func (i *Issuer) RevokeAll(ctx context.Context, tenantID uuid.UUID) error {
	return i.store.DeleteByTenant(ctx, tenantID)
}

// Hash returns the base64-encoded sha256 of a plaintext token.
func Hash(plaintext string) string {
	sum := sha256.Sum256([]byte(plaintext))
	return base64.StdEncoding.EncodeToString(sum[:])
}
