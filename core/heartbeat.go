package core

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"
)

// DefaultHeartbeatInterval is the spacing between liveness pings.
const DefaultHeartbeatInterval = 3 * time.Minute

// SessionHeartbeat announces session liveness to the usage endpoints: one
// start call when the session begins, then periodic pings while it stays
// visible. Every call is fire-and-forget — failures are logged and the timer
// keeps running; no backoff, no retry.
type SessionHeartbeat struct {
	client   *http.Client
	base     string
	token    string
	interval time.Duration
	visible  func() bool
	logger   *slog.Logger

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewSessionHeartbeat builds a heartbeat against base (e.g. the origin URL).
// visible gates pings only, mirroring "only ping while the page is visible";
// nil means always visible. token, when set, is sent as a bearer credential.
func NewSessionHeartbeat(base, token string, interval time.Duration, visible func() bool, logger *slog.Logger) *SessionHeartbeat {
	if interval <= 0 {
		interval = DefaultHeartbeatInterval
	}
	return &SessionHeartbeat{
		client:   &http.Client{},
		base:     strings.TrimRight(base, "/"),
		token:    token,
		interval: interval,
		visible:  visible,
		logger:   logger,
	}
}

// Start begins a session. A second call while started is a no-op: the guard
// flag absorbs rapid re-invocation, though it cannot make delivery to the
// backend exactly-once. The start call's outcome does not matter — success
// or failure, the ping timer is scheduled.
func (h *SessionHeartbeat) Start(ctx context.Context) {
	h.mu.Lock()
	if h.started {
		h.mu.Unlock()
		return
	}
	h.started = true
	runCtx, cancel := context.WithCancel(ctx)
	h.cancel = cancel
	h.done = make(chan struct{})
	done := h.done
	h.mu.Unlock()

	go h.run(runCtx, done)
}

// Stop cancels the timer and clears the started flag so a later Start begins
// a new session. It waits for the run loop to exit, so no ping can fire
// after Stop returns.
func (h *SessionHeartbeat) Stop() {
	h.mu.Lock()
	if !h.started {
		h.mu.Unlock()
		return
	}
	h.started = false
	cancel := h.cancel
	done := h.done
	h.cancel = nil
	h.done = nil
	h.mu.Unlock()

	cancel()
	<-done
}

func (h *SessionHeartbeat) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	h.post(ctx, "/usage/start")

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if h.visible == nil || h.visible() {
				h.post(ctx, "/usage/ping")
			}
		}
	}
}

func (h *SessionHeartbeat) post(ctx context.Context, path string) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.base+path, nil)
	if err != nil {
		h.logger.Warn("heartbeat request build failed", slog.String("path", path), slog.Any("error", err))
		return
	}
	if h.token != "" {
		req.Header.Set("Authorization", "Bearer "+h.token)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		h.logger.Warn("heartbeat call failed", slog.String("path", path), slog.Any("error", err))
		return
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	if resp.StatusCode >= 400 {
		h.logger.Warn("heartbeat call rejected", slog.String("path", path), slog.Int("status", resp.StatusCode))
	}
}
