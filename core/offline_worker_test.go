package core

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newLiveOrigin(t *testing.T, handler http.HandlerFunc) *OriginClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	origin, err := NewOriginClient(srv.URL)
	require.NoError(t, err)
	return origin
}

// newDeadOrigin returns a client whose every request fails at the network level.
func newDeadOrigin(t *testing.T) *OriginClient {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()
	origin, err := NewOriginClient(srv.URL)
	require.NoError(t, err)
	return origin
}

func navigationRequest(path string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")
	req.Header.Set("Sec-Fetch-Mode", "navigate")
	return req
}

func TestWorkerNavigationNetworkFirst(t *testing.T) {
	store, _ := newTestCacheStore(t, "v1")
	origin := newLiveOrigin(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte("live page"))
	})
	w := NewOfflineWorker(store, origin, nil, "/offline", discardLogger())

	rec := httptest.NewRecorder()
	w.ServeHTTP(rec, navigationRequest("/courses/5"))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "live page", rec.Body.String())

	// Successful responses are cached opportunistically.
	cached, err := store.Get(context.Background(), "/courses/5")
	require.NoError(t, err)
	require.NotNil(t, cached)
	assert.Equal(t, []byte("live page"), cached.Body)
	assert.Equal(t, int64(1), w.Counters().Network)
}

func TestWorkerNavigationNonOKNotCached(t *testing.T) {
	store, _ := newTestCacheStore(t, "v1")
	origin := newLiveOrigin(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	})
	w := NewOfflineWorker(store, origin, nil, "/offline", discardLogger())

	rec := httptest.NewRecorder()
	w.ServeHTTP(rec, navigationRequest("/missing"))

	assert.Equal(t, http.StatusNotFound, rec.Code)
	cached, err := store.Get(context.Background(), "/missing")
	require.NoError(t, err)
	assert.Nil(t, cached)
}

func TestWorkerNavigationFallsBackToCache(t *testing.T) {
	store, _ := newTestCacheStore(t, "v1")
	require.NoError(t, store.Put(context.Background(), "/courses/5", CachedResponse{
		Status: http.StatusOK,
		Header: http.Header{"Content-Type": []string{"text/html"}},
		Body:   []byte("cached page"),
	}))
	w := NewOfflineWorker(store, newDeadOrigin(t), nil, "/offline", discardLogger())

	rec := httptest.NewRecorder()
	w.ServeHTTP(rec, navigationRequest("/courses/5"))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "cached page", rec.Body.String())
	assert.Equal(t, int64(1), w.Counters().Cache)
}

func TestWorkerNavigationFallsBackToOfflinePage(t *testing.T) {
	store, _ := newTestCacheStore(t, "v1")
	require.NoError(t, store.Put(context.Background(), "/offline", CachedResponse{
		Status: http.StatusOK,
		Header: http.Header{"Content-Type": []string{"text/html"}},
		Body:   []byte("offline page"),
	}))
	w := NewOfflineWorker(store, newDeadOrigin(t), nil, "/offline", discardLogger())

	rec := httptest.NewRecorder()
	w.ServeHTTP(rec, navigationRequest("/never-cached"))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "offline page", rec.Body.String())
	assert.Equal(t, int64(1), w.Counters().Fallback)
}

func TestWorkerNavigationInlineFallback(t *testing.T) {
	store, _ := newTestCacheStore(t, "v1")
	w := NewOfflineWorker(store, newDeadOrigin(t), nil, "/offline", discardLogger())

	rec := httptest.NewRecorder()
	w.ServeHTTP(rec, navigationRequest("/never-cached"))

	// Synthesized page: implicit 200 with an HTML content type.
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, rec.Body.String(), "No connection")
}

func TestWorkerImagePlaceholder(t *testing.T) {
	store, _ := newTestCacheStore(t, "v1")
	w := NewOfflineWorker(store, newDeadOrigin(t), nil, "/offline", discardLogger())

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/media/banner.png", nil)
	req.Header.Set("Sec-Fetch-Dest", "image")
	w.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/svg+xml", rec.Header().Get("Content-Type"))
	assert.True(t, strings.HasPrefix(rec.Body.String(), "<svg"))
}

func TestWorkerAssetFailurePropagates(t *testing.T) {
	store, _ := newTestCacheStore(t, "v1")
	w := NewOfflineWorker(store, newDeadOrigin(t), nil, "/offline", discardLogger())

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/bundle.js", nil)
	req.Header.Set("Accept", "*/*")
	w.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestWorkerNonGETPassThrough(t *testing.T) {
	var gotMethod string
	store, _ := newTestCacheStore(t, "v1")
	origin := newLiveOrigin(t, func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		w.WriteHeader(http.StatusCreated)
	})
	w := NewOfflineWorker(store, origin, nil, "/offline", discardLogger())

	rec := httptest.NewRecorder()
	w.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/form", strings.NewReader("x=1")))

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, http.MethodPost, gotMethod)
	// POSTs never touch the cache.
	cached, err := store.Get(context.Background(), "/api/form")
	require.NoError(t, err)
	assert.Nil(t, cached)
}

func TestWorkerInstallPrecaches(t *testing.T) {
	store, _ := newTestCacheStore(t, "v1")
	origin := newLiveOrigin(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/broken" {
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte("asset " + r.URL.Path))
	})
	precache := []string{"/offline", "/", "/broken"}
	w := NewOfflineWorker(store, origin, precache, "/offline", discardLogger())

	require.NoError(t, w.Install(context.Background()))
	assert.Equal(t, StateInstalled, w.State())

	ctx := context.Background()
	offline, err := store.Get(ctx, "/offline")
	require.NoError(t, err)
	require.NotNil(t, offline)
	assert.Equal(t, []byte("asset /offline"), offline.Body)

	// A failing asset is skipped, never fatal.
	broken, err := store.Get(ctx, "/broken")
	require.NoError(t, err)
	assert.Nil(t, broken)
}

func TestWorkerActivateMigratesCache(t *testing.T) {
	store, client := newTestCacheStore(t, "v2")
	oldStore, err := NewRedisCacheStore(client, "v1")
	require.NoError(t, err)

	ctx := context.Background()
	resp := CachedResponse{Status: http.StatusOK, Body: []byte("stale")}
	require.NoError(t, oldStore.Put(ctx, "/a", resp))
	require.NoError(t, store.Put(ctx, "/a", resp))

	w := NewOfflineWorker(store, newDeadOrigin(t), nil, "/offline", discardLogger())
	require.NoError(t, w.Activate(ctx))
	assert.Equal(t, StateActive, w.State())

	gone, err := oldStore.Get(ctx, "/a")
	require.NoError(t, err)
	assert.Nil(t, gone)

	kept, err := store.Get(ctx, "/a")
	require.NoError(t, err)
	assert.NotNil(t, kept)
}
