package core

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCacheStore(t *testing.T, version string) (*RedisCacheStore, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store, err := NewRedisCacheStore(client, version)
	require.NoError(t, err)
	return store, client
}

func TestNewRedisCacheStoreValidation(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	_, err := NewRedisCacheStore(client, "")
	assert.Error(t, err)
	_, err = NewRedisCacheStore(client, "v1:extra")
	assert.Error(t, err)
}

func TestCacheStoreRoundTrip(t *testing.T) {
	store, _ := newTestCacheStore(t, "v1")
	ctx := context.Background()

	resp := CachedResponse{
		Status: http.StatusOK,
		Header: http.Header{"Content-Type": []string{"text/html"}},
		Body:   []byte("<html>hi</html>"),
	}
	require.NoError(t, store.Put(ctx, "/page", resp))

	got, err := store.Get(ctx, "/page")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, http.StatusOK, got.Status)
	assert.Equal(t, "text/html", got.Header.Get("Content-Type"))
	assert.Equal(t, []byte("<html>hi</html>"), got.Body)
}

func TestCacheStoreGetMissing(t *testing.T) {
	store, _ := newTestCacheStore(t, "v1")
	got, err := store.Get(context.Background(), "/nope")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestCacheStoreDeleteOtherVersions(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	ctx := context.Background()

	oldStore, err := NewRedisCacheStore(client, "v1")
	require.NoError(t, err)
	newStore, err := NewRedisCacheStore(client, "v2")
	require.NoError(t, err)

	resp := CachedResponse{Status: http.StatusOK, Body: []byte("x")}
	require.NoError(t, oldStore.Put(ctx, "/a", resp))
	require.NoError(t, oldStore.Put(ctx, "/b", resp))
	require.NoError(t, newStore.Put(ctx, "/a", resp))

	deleted, err := newStore.DeleteOtherVersions(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, deleted)

	gone, err := oldStore.Get(ctx, "/a")
	require.NoError(t, err)
	assert.Nil(t, gone)

	kept, err := newStore.Get(ctx, "/a")
	require.NoError(t, err)
	assert.NotNil(t, kept)
}

func TestCacheKey(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/courses/5", nil)
	assert.Equal(t, "/courses/5", CacheKey(req))

	req = httptest.NewRequest(http.MethodGet, "/search?q=go&page=2", nil)
	assert.Equal(t, "/search?q=go&page=2", CacheKey(req))
}
