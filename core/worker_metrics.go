package core

import (
	"context"
	"encoding/json"
	"runtime"
	"time"
)

const (
	WorkerHeartbeatPrefix = "cacheworker:heartbeat:"
	WorkerHeartbeatTTL    = 45 * time.Second
)

// WorkerHeartbeatKey returns the redis key for a given worker process ID.
func WorkerHeartbeatKey(id string) string {
	return WorkerHeartbeatPrefix + id
}

// SaveWorkerHeartbeat stores the heartbeat JSON with TTL.
func SaveWorkerHeartbeat(ctx context.Context, client RedisClientRaw, hb CacheWorkerHeartbeat) error {
	hb.UpdatedAt = time.Now()
	data, err := json.Marshal(hb)
	if err != nil {
		return err
	}
	return client.Set(ctx, WorkerHeartbeatKey(hb.WorkerID), data, WorkerHeartbeatTTL).Err()
}

// CacheWorkerHeartbeat is the liveness record a cache worker process
// periodically publishes to redis for the admin metrics surface.
type CacheWorkerHeartbeat struct {
	WorkerID       string         `json:"worker_id"`
	Hostname       string         `json:"hostname"`
	PID            int            `json:"pid"`
	Version        string         `json:"version"` // build version / git SHA, when stamped
	CacheVersion   string         `json:"cache_version"`
	State          string         `json:"state"` // installing|installed|active|redundant
	UptimeSeconds  int64          `json:"uptime_seconds"`
	Served         WorkerCounters `json:"served"`
	MemoryRSSBytes uint64         `json:"memory_rss_bytes"`
	NumGoroutine   int            `json:"num_goroutine"`
	StartedAt      time.Time      `json:"started_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// UpdateRuntimeStats overwrites memory/goroutine fields with current values.
func (h *CacheWorkerHeartbeat) UpdateRuntimeStats() {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	h.MemoryRSSBytes = ms.Sys // approximation; replace with procfs if needed
	h.NumGoroutine = runtime.NumGoroutine()
}
