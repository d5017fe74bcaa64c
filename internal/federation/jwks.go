package federation

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwk"
)

// jwksCache caches provider signing key sets per URL with a TTL. Expired
// entries refetch inline; verification is on the critical login path so the
// TTL is generous and key rotation tolerated via overlap at the provider.
type jwksCache struct {
	mu      sync.RWMutex
	entries map[string]jwksEntry
	ttl     time.Duration
}

type jwksEntry struct {
	set     jwk.Set
	fetched time.Time
}

func newJWKSCache(ttl time.Duration) *jwksCache {
	return &jwksCache{entries: map[string]jwksEntry{}, ttl: ttl}
}

func (c *jwksCache) get(ctx context.Context, url string) (jwk.Set, error) {
	c.mu.RLock()
	e, ok := c.entries[url]
	c.mu.RUnlock()
	if ok && time.Since(e.fetched) < c.ttl {
		return e.set, nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[url]; ok && time.Since(e.fetched) < c.ttl {
		return e.set, nil
	}
	set, err := jwk.Fetch(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("%w: jwks %s: %v", ErrFederationUnavailable, url, err)
	}
	c.entries[url] = jwksEntry{set: set, fetched: time.Now()}
	return set, nil
}
