// pkg/config/config.go
package config

import (
	"encoding/base64"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Env      string
	HTTPAddr string

	// Master key protecting every tenant's wrapped encryption key, and the
	// key signing broker session cookies. Both are base64-encoded 32 bytes.
	MasterKey  []byte
	SessionKey []byte

	// Default identity provider, used by tenants without their own OIDC
	// configuration.
	DefaultIssuer                string
	DefaultAuthorizationEndpoint string
	DefaultTokenEndpoint         string
	DefaultJWKSURI               string
	DefaultEndSessionEndpoint    string
	DefaultClientID              string
	DefaultClientSecret          string

	// Discovery-document cache behavior.
	DiscoveryTTL     time.Duration
	DiscoveryTimeout time.Duration

	SessionTTL    time.Duration
	SetupTokenTTL time.Duration

	// Registration rate limit (fixed window per source address).
	RegisterLimit  int
	RegisterWindow time.Duration

	RedisURL    string
	DatabaseURL string
}

func Load() Config {
	_ = godotenv.Load()
	cfg := Config{
		Env:                          env("CANOPY_ENV", "dev"),
		HTTPAddr:                     env("CANOPY_HTTP_ADDR", ":8080"),
		MasterKey:                    envKey("CANOPY_MASTER_KEY"),
		SessionKey:                   envKey("CANOPY_SESSION_KEY"),
		DefaultIssuer:                env("DEFAULT_OIDC_ISSUER", "https://accounts.google.com"),
		DefaultAuthorizationEndpoint: env("DEFAULT_OIDC_AUTHORIZATION_ENDPOINT", "https://accounts.google.com/o/oauth2/v2/auth"),
		DefaultTokenEndpoint:         env("DEFAULT_OIDC_TOKEN_ENDPOINT", "https://oauth2.googleapis.com/token"),
		DefaultJWKSURI:               env("DEFAULT_OIDC_JWKS_URI", "https://www.googleapis.com/oauth2/v3/certs"),
		DefaultEndSessionEndpoint:    env("DEFAULT_OIDC_END_SESSION_ENDPOINT", ""),
		DefaultClientID:              env("DEFAULT_OIDC_CLIENT_ID", ""),
		DefaultClientSecret:          env("DEFAULT_OIDC_CLIENT_SECRET", ""),
		DiscoveryTTL:                 envDur("DISCOVERY_TTL_SEC", 300) * time.Second,
		DiscoveryTimeout:             envDur("DISCOVERY_TIMEOUT_SEC", 5) * time.Second,
		SessionTTL:                   envDur("SESSION_TTL_SEC", 8*3600) * time.Second,
		SetupTokenTTL:                time.Hour,
		RegisterLimit:                envInt("REGISTER_RATE_LIMIT", 10),
		RegisterWindow:               envDur("REGISTER_RATE_WINDOW_SEC", 3600) * time.Second,
		RedisURL:                     env("REDIS_URL", ""),
		DatabaseURL:                  env("DATABASE_URL", ""),
	}
	if cfg.DatabaseURL == "" {
		log.Println("[WARN] DATABASE_URL not set — using in-memory tenant store for dev")
	}
	return cfg
}

func env(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func envInt(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func envDur(k string, def int) time.Duration {
	return time.Duration(envInt(k, def))
}

// envKey decodes a base64 256-bit key from the environment. Empty when unset;
// callers decide whether that is fatal (it is in prod, generated in dev).
func envKey(k string) []byte {
	v := os.Getenv(k)
	if v == "" {
		return nil
	}
	b, err := base64.StdEncoding.DecodeString(v)
	if err != nil {
		log.Fatalf("%s must be base64: %v", k, err)
	}
	if len(b) != 32 {
		log.Fatalf("%s must decode to 32 bytes, got %d", k, len(b))
	}
	return b
}
