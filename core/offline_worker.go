package core

import (
	"context"
	"log/slog"
	"net/http"
	"path"
	"strings"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

// WorkerState follows the service-worker lifecycle.
type WorkerState int32

const (
	StateInstalling WorkerState = iota
	StateInstalled
	StateActive
	StateRedundant
)

func (s WorkerState) String() string {
	switch s {
	case StateInstalling:
		return "installing"
	case StateInstalled:
		return "installed"
	case StateActive:
		return "active"
	case StateRedundant:
		return "redundant"
	default:
		return "unknown"
	}
}

const precacheConcurrency = 4

// WorkerCounters is a snapshot of how a worker version has served traffic.
type WorkerCounters struct {
	Network  int64 `json:"network"`
	Cache    int64 `json:"cache"`
	Fallback int64 `json:"fallback"`
}

// OfflineWorker is one installable version of the network-first caching
// layer. Content changes frequently upstream, so staleness loses to a
// slightly slower load: the cache is consulted only after the network fails,
// and the offline page exists for navigation continuity, not for serving
// stale data as live.
type OfflineWorker struct {
	store       CacheStore
	origin      *OriginClient
	logger      *slog.Logger
	precache    []string
	offlinePath string

	state       atomic.Int32
	skipWaiting atomic.Bool
	preload     atomic.Bool

	network  atomic.Int64
	cache    atomic.Int64
	fallback atomic.Int64
}

func NewOfflineWorker(store CacheStore, origin *OriginClient, precache []string, offlinePath string, logger *slog.Logger) *OfflineWorker {
	if offlinePath == "" {
		offlinePath = "/offline"
	}
	return &OfflineWorker{
		store:       store,
		origin:      origin,
		logger:      logger,
		precache:    precache,
		offlinePath: offlinePath,
	}
}

func (w *OfflineWorker) State() WorkerState { return WorkerState(w.state.Load()) }

func (w *OfflineWorker) Counters() WorkerCounters {
	return WorkerCounters{
		Network:  w.network.Load(),
		Cache:    w.cache.Load(),
		Fallback: w.fallback.Load(),
	}
}

// Install pre-populates the cache store with the essential paths. Attempts
// run concurrently and independently: a failed asset is logged and skipped,
// never aborting the install. Skip-waiting is forced afterwards so the new
// version does not sit behind open pages.
func (w *OfflineWorker) Install(ctx context.Context) error {
	w.state.Store(int32(StateInstalling))

	paths := w.precache
	if len(paths) == 0 {
		paths = []string{w.offlinePath, "/"}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(precacheConcurrency)
	for _, p := range paths {
		p := p
		g.Go(func() error {
			resp, err := w.origin.Get(gctx, p)
			if err != nil {
				w.logger.Warn("precache fetch failed", slog.String("path", p), slog.Any("error", err))
				return nil
			}
			if resp.Status != http.StatusOK {
				w.logger.Warn("precache skipped", slog.String("path", p), slog.Int("status", resp.Status))
				return nil
			}
			if err := w.store.Put(gctx, p, *resp); err != nil {
				w.logger.Warn("precache store failed", slog.String("path", p), slog.Any("error", err))
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	w.skipWaiting.Store(true)
	w.state.Store(int32(StateInstalled))
	w.logger.Info("worker installed", slog.String("version", w.store.Version()), slog.Int("precached", len(paths)))
	return nil
}

// Activate enables navigation preload and migrates the cache keyspace:
// every version other than this worker's is deleted.
func (w *OfflineWorker) Activate(ctx context.Context) error {
	w.preload.Store(true)
	deleted, err := w.store.DeleteOtherVersions(ctx)
	if err != nil {
		return err
	}
	w.state.Store(int32(StateActive))
	w.logger.Info("worker activated", slog.String("version", w.store.Version()), slog.Int("migrated_keys", deleted))
	return nil
}

// MakeRedundant marks a replaced version. It stops serving via the host; the
// struct itself needs no teardown.
func (w *OfflineWorker) MakeRedundant() {
	w.state.Store(int32(StateRedundant))
}

// ServeHTTP intercepts one fetch. Non-GET requests are proxied untouched;
// GET navigations and assets go through the network-first strategies.
func (w *OfflineWorker) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.passThrough(rw, r)
		return
	}
	if isNavigationRequest(r) {
		w.fetchNavigation(rw, r)
		return
	}
	w.fetchAsset(rw, r)
}

func (w *OfflineWorker) passThrough(rw http.ResponseWriter, r *http.Request) {
	resp, err := w.origin.Forward(r.Context(), r)
	if err != nil {
		w.logger.Warn("pass-through failed", slog.String("path", r.URL.Path), slog.Any("error", err))
		http.Error(rw, "upstream unavailable", http.StatusBadGateway)
		return
	}
	resp.WriteTo(rw)
}

// fetchNavigation: network first, then cached copy, then the pre-cached
// offline page, then a synthesized inline page. The caller always gets
// something renderable.
func (w *OfflineWorker) fetchNavigation(rw http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	key := CacheKey(r)

	resp, err := w.fetchLive(ctx, r)
	if err == nil {
		if resp.Status == http.StatusOK {
			w.putQuietly(ctx, key, resp)
		}
		w.network.Add(1)
		resp.WriteTo(rw)
		return
	}
	w.logger.Warn("navigation fetch failed", slog.String("path", r.URL.Path), slog.Any("error", err))

	if cached := w.getQuietly(ctx, key); cached != nil {
		w.cache.Add(1)
		cached.WriteTo(rw)
		return
	}
	if offline := w.getQuietly(ctx, w.offlinePath); offline != nil {
		w.fallback.Add(1)
		offline.WriteTo(rw)
		return
	}

	w.fallback.Add(1)
	rw.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = rw.Write([]byte(offlineFallbackHTML))
}

// fetchAsset: network first with opportunistic caching; cache on failure;
// images degrade to a placeholder, everything else propagates the failure.
func (w *OfflineWorker) fetchAsset(rw http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	key := CacheKey(r)

	resp, err := w.fetchLive(ctx, r)
	if err == nil {
		if resp.Status == http.StatusOK {
			w.putQuietly(ctx, key, resp)
		}
		w.network.Add(1)
		resp.WriteTo(rw)
		return
	}
	w.logger.Warn("asset fetch failed", slog.String("path", r.URL.Path), slog.Any("error", err))

	if cached := w.getQuietly(ctx, key); cached != nil {
		w.cache.Add(1)
		cached.WriteTo(rw)
		return
	}

	if isImageRequest(r) {
		w.fallback.Add(1)
		rw.Header().Set("Content-Type", "image/svg+xml")
		_, _ = rw.Write([]byte(placeholderSVG))
		return
	}

	http.Error(rw, "upstream unavailable", http.StatusBadGateway)
}

// fetchLive is the single live-fetch point; when navigation preload is
// enabled the request goes out immediately instead of waiting on a cache
// probe, which is exactly what this strategy does anyway.
func (w *OfflineWorker) fetchLive(ctx context.Context, r *http.Request) (*CachedResponse, error) {
	return w.origin.Forward(ctx, r)
}

func (w *OfflineWorker) putQuietly(ctx context.Context, key string, resp *CachedResponse) {
	if err := w.store.Put(ctx, key, *resp); err != nil {
		w.logger.Warn("cache put failed", slog.String("key", key), slog.Any("error", err))
	}
}

func (w *OfflineWorker) getQuietly(ctx context.Context, key string) *CachedResponse {
	cached, err := w.store.Get(ctx, key)
	if err != nil {
		w.logger.Warn("cache get failed", slog.String("key", key), slog.Any("error", err))
		return nil
	}
	return cached
}

// isNavigationRequest reports whether the request is a full-page load rather
// than a subordinate asset or API call.
func isNavigationRequest(r *http.Request) bool {
	if r.Method != http.MethodGet {
		return false
	}
	if r.Header.Get("Sec-Fetch-Mode") == "navigate" {
		return true
	}
	return strings.Contains(r.Header.Get("Accept"), "text/html")
}

var imageExtensions = map[string]struct{}{
	".png": {}, ".jpg": {}, ".jpeg": {}, ".gif": {}, ".webp": {}, ".svg": {}, ".ico": {}, ".avif": {},
}

func isImageRequest(r *http.Request) bool {
	if r.Header.Get("Sec-Fetch-Dest") == "image" {
		return true
	}
	if strings.HasPrefix(r.Header.Get("Accept"), "image/") {
		return true
	}
	_, ok := imageExtensions[strings.ToLower(path.Ext(r.URL.Path))]
	return ok
}

// offlineFallbackHTML is the last-resort page when neither the cache nor the
// pre-cached offline page can serve a navigation.
const offlineFallbackHTML = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>No connection</title>
<style>
body{font-family:system-ui,sans-serif;display:flex;align-items:center;justify-content:center;min-height:100vh;margin:0;background:#f5f5f5;color:#333}
main{text-align:center;padding:2rem}
button{margin-top:1rem;padding:.5rem 1.5rem;font-size:1rem;cursor:pointer}
</style>
</head>
<body>
<main>
<h1>No connection</h1>
<p>This page is not available offline. Check your connection and try again.</p>
<button onclick="location.reload()">Retry</button>
</main>
</body>
</html>
`

// placeholderSVG stands in for images that cannot be fetched or found in cache.
const placeholderSVG = `<svg xmlns="http://www.w3.org/2000/svg" width="200" height="150" viewBox="0 0 200 150">
<rect width="200" height="150" fill="#e0e0e0"/>
<text x="100" y="80" text-anchor="middle" fill="#9e9e9e" font-family="sans-serif" font-size="14">offline</text>
</svg>
`
