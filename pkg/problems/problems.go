package problems

import (
	"encoding/json"
	"net/http"
	"os"
	"strings"
)

// Problem slugs used across the broker. Each maps to a fixed HTTP status.
const (
	SlugValidation            = "validation"
	SlugMissingTenant         = "missing-tenant"
	SlugTenantMismatch        = "tenant-mismatch"
	SlugNotFound              = "not-found"
	SlugConflict              = "conflict"
	SlugCredentialUnavailable = "credential-unavailable"
	SlugFederationUnavailable = "federation-unavailable"
	SlugRateLimited           = "rate-limited"
	SlugAuthenticationFailed  = "authentication-failed"
)

var statusBySlug = map[string]int{
	SlugValidation:            http.StatusBadRequest,
	SlugMissingTenant:         http.StatusBadRequest,
	SlugTenantMismatch:        http.StatusUnauthorized,
	SlugNotFound:              http.StatusNotFound,
	SlugConflict:              http.StatusConflict,
	SlugCredentialUnavailable: http.StatusInternalServerError,
	SlugFederationUnavailable: http.StatusBadGateway,
	SlugRateLimited:           http.StatusTooManyRequests,
	SlugAuthenticationFailed:  http.StatusUnauthorized,
}

// Base returns the base URL for problem type identifiers.
// Order of precedence:
// 1. PROBLEM_BASE_URL (exact base, e.g. https://mydomain.com/problems)
// 2. BASE_PUBLIC_URL + "/problems" (if set)
// 3. https://example.com/problems (fallback)
func Base() string {
	if b := os.Getenv("PROBLEM_BASE_URL"); b != "" {
		return strings.TrimRight(b, "/")
	}
	if b := os.Getenv("BASE_PUBLIC_URL"); b != "" {
		return strings.TrimRight(b, "/") + "/problems"
	}
	return "https://example.com/problems"
}

// Type builds a full problem type URL for the given slug.
func Type(slug string) string { return Base() + "/" + slug }

// Status returns the HTTP status for a slug, 500 for unknown slugs.
func Status(slug string) int {
	if s, ok := statusBySlug[slug]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// Problem is an RFC 7807 response body.
type Problem struct {
	Type    string `json:"type"`
	Title   string `json:"title"`
	Status  int    `json:"status"`
	Detail  string `json:"detail,omitempty"`
	Message string `json:"message,omitempty"`
}

// Write emits a problem+json response for the slug. detail must not carry
// secrets; callers log the underlying error themselves.
func Write(w http.ResponseWriter, slug, detail string) {
	status := Status(slug)
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(Problem{
		Type:    Type(slug),
		Title:   http.StatusText(status),
		Status:  status,
		Detail:  detail,
		Message: detail,
	})
}
