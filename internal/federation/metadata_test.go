package federation

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func discoveryServer(t *testing.T, hits *atomic.Int64) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := hits.Add(1)
		_ = json.NewEncoder(w).Encode(Metadata{
			Issuer:                fmt.Sprintf("https://idp.example/v%d", n),
			AuthorizationEndpoint: "https://idp.example/authorize",
			TokenEndpoint:         "https://idp.example/token",
			JWKSURI:               "https://idp.example/jwks",
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestMetadataCacheServesFromCache(t *testing.T) {
	var hits atomic.Int64
	srv := discoveryServer(t, &hits)
	cache := NewMetadataCache(zap.NewNop().Sugar(), time.Minute, 2*time.Second)

	ctx := context.Background()
	first, err := cache.Get(ctx, srv.URL)
	require.NoError(t, err)
	second, err := cache.Get(ctx, srv.URL)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.EqualValues(t, 1, hits.Load())
}

func TestMetadataCacheStaleWhileRevalidate(t *testing.T) {
	var hits atomic.Int64
	srv := discoveryServer(t, &hits)
	cache := NewMetadataCache(zap.NewNop().Sugar(), 0, 2*time.Second)

	ctx := context.Background()
	first, err := cache.Get(ctx, srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "https://idp.example/v1", first.Issuer)

	// The stale entry is served immediately; the refresh runs behind it.
	stale, err := cache.Get(ctx, srv.URL)
	require.NoError(t, err)
	assert.Equal(t, first.Issuer, stale.Issuer)

	require.Eventually(t, func() bool {
		m, err := cache.Get(ctx, srv.URL)
		return err == nil && m.Issuer != first.Issuer
	}, 2*time.Second, 10*time.Millisecond)
}

func TestMetadataCacheFetchFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusInternalServerError)
	}))
	defer srv.Close()
	cache := NewMetadataCache(zap.NewNop().Sugar(), time.Minute, time.Second)

	_, err := cache.Get(context.Background(), srv.URL)
	assert.ErrorIs(t, err, ErrFederationUnavailable)
}

func TestMetadataCacheRejectsIncompleteDocument(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(Metadata{Issuer: "https://idp.example"})
	}))
	defer srv.Close()
	cache := NewMetadataCache(zap.NewNop().Sugar(), time.Minute, time.Second)

	_, err := cache.Get(context.Background(), srv.URL)
	assert.ErrorIs(t, err, ErrFederationUnavailable)
}
