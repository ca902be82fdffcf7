package core

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// Worker control message types. The dispatch below is an open switch so new
// types can be added without breaking existing handling.
const MsgSkipWaiting = "SKIP_WAITING"

// WorkerMessage is the wire shape of the worker control channel.
type WorkerMessage struct {
	Type string `json:"type"`
}

// ErrNoActiveWorker is returned while no worker version has claimed control.
var ErrNoActiveWorker = errors.New("no active worker version")

// WorkerHost owns the lifecycle of worker versions: at most one active and
// one waiting. Fetches are delegated to the active version; a SKIP_WAITING
// message (or a version installed with skip-waiting set) promotes the waiting
// one, and the replaced version becomes redundant.
type WorkerHost struct {
	mu      sync.Mutex
	active  *OfflineWorker
	waiting *OfflineWorker
	logger  *slog.Logger
}

func NewWorkerHost(logger *slog.Logger) *WorkerHost {
	return &WorkerHost{logger: logger}
}

// Deploy installs a new worker version. Install always completes before any
// activation begins. With skip-waiting set (the default after Install) the
// version activates immediately; otherwise it parks as waiting.
func (h *WorkerHost) Deploy(ctx context.Context, w *OfflineWorker) error {
	if err := w.Install(ctx); err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.active == nil || w.skipWaiting.Load() {
		return h.activateLocked(ctx, w)
	}
	h.waiting = w
	h.logger.Info("worker waiting", slog.String("version", w.store.Version()))
	return nil
}

// HandleMessage dispatches one inbound control message.
func (h *WorkerHost) HandleMessage(ctx context.Context, msg WorkerMessage) {
	switch msg.Type {
	case MsgSkipWaiting:
		if err := h.ActivateWaiting(ctx); err != nil {
			h.logger.Warn("skip-waiting failed", slog.Any("error", err))
		}
	default:
		h.logger.Warn("unknown worker message", slog.String("type", msg.Type))
	}
}

// ActivateWaiting promotes the waiting version, if any.
func (h *WorkerHost) ActivateWaiting(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.waiting == nil {
		return nil
	}
	w := h.waiting
	h.waiting = nil
	return h.activateLocked(ctx, w)
}

func (h *WorkerHost) activateLocked(ctx context.Context, w *OfflineWorker) error {
	old := h.active
	if err := w.Activate(ctx); err != nil {
		return err
	}
	h.active = w
	if old != nil {
		old.MakeRedundant()
	}
	return nil
}

// Active returns the current active version, or nil before first activation.
func (h *WorkerHost) Active() *OfflineWorker {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.active
}

// ServeHTTP delegates every fetch to the active version.
func (h *WorkerHost) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	active := h.Active()
	if active == nil {
		http.Error(rw, ErrNoActiveWorker.Error(), http.StatusServiceUnavailable)
		return
	}
	active.ServeHTTP(rw, r)
}

// precacheManifestFile is the YAML shape of the essential-assets manifest.
type precacheManifestFile struct {
	Paths []string `yaml:"paths"`
}

// LoadPrecacheManifest returns the list of paths to pre-cache at install.
// Without a manifest file the compiled-in essentials are used. The offline
// fallback path is always part of the list.
func LoadPrecacheManifest(path, offlinePath string) ([]string, error) {
	paths := []string{offlinePath, "/", "/icons/icon-192x192.png", "/icons/icon-512x512.png"}
	if strings.TrimSpace(path) != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		var file precacheManifestFile
		if err := yaml.Unmarshal(data, &file); err != nil {
			return nil, err
		}
		if len(file.Paths) > 0 {
			paths = file.Paths
		}
	}

	hasOffline := false
	for _, p := range paths {
		if p == offlinePath {
			hasOffline = true
			break
		}
	}
	if !hasOffline {
		paths = append(paths, offlinePath)
	}
	return paths, nil
}
