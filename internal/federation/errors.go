package federation

import "errors"

var (
	// ErrMissingTenant: no tenant hint on the request; aborted before any
	// provider contact.
	ErrMissingTenant = errors.New("federation: tenant is required")
	// ErrTenantMismatch: the session claim and the callback URL disagree on
	// the tenant. Rejected regardless of token validity.
	ErrTenantMismatch = errors.New("federation: tenant mismatch")
	// ErrFederationUnavailable: the identity provider could not be reached
	// or returned garbage.
	ErrFederationUnavailable = errors.New("federation: identity provider unavailable")
	// ErrCredentialUnavailable: the tenant's client secret could not be
	// decrypted. Login fails closed.
	ErrCredentialUnavailable = errors.New("federation: tenant credentials unavailable")
)
