// Package session implements the broker's stateless session: an HS256-signed
// JWT cookie carrying the authenticated identity, plus the short-lived state
// cookie that rides along the OIDC round trip. Both cookies are SameSite=None
// because the callback arrives from the provider's site.
package session

import (
	"errors"
	"net/http"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"
)

const (
	CookieName      = "canopy_session"
	StateCookieName = "canopy_oidc_state"

	stateTTL = 10 * time.Minute
)

var ErrNoSession = errors.New("session: not authenticated")

// Claims is the identity carried by an authenticated session.
type Claims struct {
	Subject string
	Name    string
	Email   string
	Roles   []string
	Tenant  string
}

// LoginState is the transient state for one login attempt.
type LoginState struct {
	State     string
	Nonce     string
	ReturnURL string
	Tenant    string
}

// Manager signs and verifies the two cookie payloads.
type Manager struct {
	key    []byte
	ttl    time.Duration
	secure bool
}

func NewManager(key []byte, ttl time.Duration, secure bool) *Manager {
	return &Manager{key: key, ttl: ttl, secure: secure}
}

// Issue writes a fresh session cookie for claims.
func (m *Manager) Issue(w http.ResponseWriter, claims Claims) error {
	now := time.Now().UTC()
	builder := jwt.NewBuilder().
		Issuer("canopy").
		Subject(claims.Subject).
		IssuedAt(now).
		Expiration(now.Add(m.ttl)).
		Claim("name", claims.Name).
		Claim("email", claims.Email).
		Claim("tenant", claims.Tenant)
	if len(claims.Roles) > 0 {
		builder = builder.Claim("roles", claims.Roles)
	}
	tok, err := builder.Build()
	if err != nil {
		return err
	}
	signed, err := jwt.Sign(tok, jwt.WithKey(jwa.HS256, m.key))
	if err != nil {
		return err
	}
	http.SetCookie(w, m.cookie(CookieName, string(signed), m.ttl))
	return nil
}

// FromRequest parses the session cookie. ErrNoSession when absent, invalid,
// or expired.
func (m *Manager) FromRequest(r *http.Request) (Claims, error) {
	c, err := r.Cookie(CookieName)
	if err != nil || c.Value == "" {
		return Claims{}, ErrNoSession
	}
	tok, err := jwt.Parse([]byte(c.Value), jwt.WithKey(jwa.HS256, m.key), jwt.WithValidate(true))
	if err != nil {
		return Claims{}, ErrNoSession
	}
	claims := Claims{Subject: tok.Subject()}
	claims.Name = stringClaim(tok, "name")
	claims.Email = stringClaim(tok, "email")
	claims.Tenant = stringClaim(tok, "tenant")
	if v, ok := tok.Get("roles"); ok {
		claims.Roles = toStrings(v)
	}
	return claims, nil
}

// Clear expires the session cookie.
func (m *Manager) Clear(w http.ResponseWriter) {
	http.SetCookie(w, m.cookie(CookieName, "", -time.Hour))
}

// IssueState writes the login-state cookie for one challenge.
func (m *Manager) IssueState(w http.ResponseWriter, st LoginState) error {
	now := time.Now().UTC()
	tok, err := jwt.NewBuilder().
		Issuer("canopy").
		IssuedAt(now).
		Expiration(now.Add(stateTTL)).
		Claim("state", st.State).
		Claim("nonce", st.Nonce).
		Claim("return_url", st.ReturnURL).
		Claim("tenant", st.Tenant).
		Build()
	if err != nil {
		return err
	}
	signed, err := jwt.Sign(tok, jwt.WithKey(jwa.HS256, m.key))
	if err != nil {
		return err
	}
	http.SetCookie(w, m.cookie(StateCookieName, string(signed), stateTTL))
	return nil
}

// TakeState parses and clears the login-state cookie.
func (m *Manager) TakeState(w http.ResponseWriter, r *http.Request) (LoginState, error) {
	defer http.SetCookie(w, m.cookie(StateCookieName, "", -time.Hour))
	c, err := r.Cookie(StateCookieName)
	if err != nil || c.Value == "" {
		return LoginState{}, errors.New("session: missing login state")
	}
	tok, err := jwt.Parse([]byte(c.Value), jwt.WithKey(jwa.HS256, m.key), jwt.WithValidate(true))
	if err != nil {
		return LoginState{}, errors.New("session: invalid login state")
	}
	return LoginState{
		State:     stringClaim(tok, "state"),
		Nonce:     stringClaim(tok, "nonce"),
		ReturnURL: stringClaim(tok, "return_url"),
		Tenant:    stringClaim(tok, "tenant"),
	}, nil
}

func (m *Manager) cookie(name, value string, ttl time.Duration) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		MaxAge:   int(ttl / time.Second),
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteNoneMode,
	}
}

func stringClaim(tok jwt.Token, name string) string {
	if v, ok := tok.Get(name); ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

func toStrings(v any) []string {
	switch vv := v.(type) {
	case []string:
		return vv
	case []any:
		out := make([]string, 0, len(vv))
		for _, e := range vv {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case string:
		if vv == "" {
			return nil
		}
		return []string{vv}
	}
	return nil
}
