package federation

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Metadata is the subset of the OIDC discovery document the broker consumes.
type Metadata struct {
	Issuer                string `json:"issuer"`
	AuthorizationEndpoint string `json:"authorization_endpoint"`
	TokenEndpoint         string `json:"token_endpoint"`
	JWKSURI               string `json:"jwks_uri"`
	EndSessionEndpoint    string `json:"end_session_endpoint"`
}

type metaEntry struct {
	meta    Metadata
	fetched time.Time
}

// MetadataCache caches discovery documents by address. Reads are served from
// cache; a stale entry is returned as-is while a single coalesced refresh
// runs in the background (stale-while-revalidate). At most one in-flight
// fetch exists per address.
type MetadataCache struct {
	log     *zap.SugaredLogger
	client  *http.Client
	ttl     time.Duration
	timeout time.Duration

	mu      sync.RWMutex
	entries map[string]metaEntry
	sfg     singleflight.Group
}

func NewMetadataCache(log *zap.SugaredLogger, ttl, timeout time.Duration) *MetadataCache {
	return &MetadataCache{
		log:     log,
		client:  &http.Client{Timeout: timeout},
		ttl:     ttl,
		timeout: timeout,
		entries: map[string]metaEntry{},
	}
}

// Get returns the discovery document published at addr.
func (c *MetadataCache) Get(ctx context.Context, addr string) (Metadata, error) {
	c.mu.RLock()
	e, ok := c.entries[addr]
	c.mu.RUnlock()
	if ok {
		if time.Since(e.fetched) >= c.ttl {
			go c.refresh(addr)
		}
		return e.meta, nil
	}

	v, err, _ := c.sfg.Do(addr, func() (any, error) {
		// Double-check after the singleflight barrier.
		c.mu.RLock()
		e, ok := c.entries[addr]
		c.mu.RUnlock()
		if ok {
			return e.meta, nil
		}
		meta, err := c.fetch(ctx, addr)
		if err != nil {
			return Metadata{}, err
		}
		c.store(addr, meta)
		return meta, nil
	})
	if err != nil {
		return Metadata{}, fmt.Errorf("%w: discovery %s: %v", ErrFederationUnavailable, addr, err)
	}
	return v.(Metadata), nil
}

// refresh re-fetches addr in the background. Errors keep the stale entry;
// concurrent refreshes for the same address coalesce to one fetch.
func (c *MetadataCache) refresh(addr string) {
	_, _, _ = c.sfg.Do("refresh:"+addr, func() (any, error) {
		ctx, cancel := context.WithTimeout(context.Background(), c.timeout*3)
		defer cancel()
		meta, err := c.fetch(ctx, addr)
		if err != nil {
			c.log.Warnw("discovery refresh failed, serving stale", "addr", addr, "err", err)
			return nil, nil
		}
		c.store(addr, meta)
		return nil, nil
	})
}

func (c *MetadataCache) store(addr string, meta Metadata) {
	c.mu.Lock()
	c.entries[addr] = metaEntry{meta: meta, fetched: time.Now()}
	c.mu.Unlock()
}

// fetch retrieves and decodes the document with a small retry budget.
// Discovery is an idempotent GET, so backoff retries are safe here (unlike
// token exchanges, which are never retried).
func (c *MetadataCache) fetch(ctx context.Context, addr string) (Metadata, error) {
	var meta Metadata
	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, addr, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		resp, err := c.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("discovery document returned %d", resp.StatusCode)
		}
		if err := json.NewDecoder(resp.Body).Decode(&meta); err != nil {
			return backoff.Permanent(fmt.Errorf("decode discovery document: %w", err))
		}
		return nil
	}
	bo := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 2), ctx)
	if err := backoff.Retry(op, bo); err != nil {
		return Metadata{}, err
	}
	if meta.AuthorizationEndpoint == "" || meta.TokenEndpoint == "" {
		return Metadata{}, fmt.Errorf("discovery document missing required endpoints")
	}
	return meta, nil
}
