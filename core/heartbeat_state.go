package core

import (
	"context"
	"os"
	"sync"
	"time"
)

// HeartbeatState aggregates a single cache worker process's liveness record
// and flushes it to redis on a fixed cadence.
type HeartbeatState struct {
	mu       sync.Mutex
	hb       CacheWorkerHeartbeat
	snapshot func() (WorkerCounters, WorkerState)
	ticker   *time.Ticker
}

// NewHeartbeatState builds the aggregator. snapshot is polled on every flush
// for the serving counters and lifecycle state of the current version.
func NewHeartbeatState(workerID, hostname, cacheVersion string, snapshot func() (WorkerCounters, WorkerState)) *HeartbeatState {
	return &HeartbeatState{
		hb: CacheWorkerHeartbeat{
			WorkerID:     workerID,
			Hostname:     hostname,
			PID:          os.Getpid(),
			CacheVersion: cacheVersion,
			State:        StateInstalling.String(),
			StartedAt:    time.Now(),
			UpdatedAt:    time.Now(),
		},
		snapshot: snapshot,
		ticker:   time.NewTicker(5 * time.Second),
	}
}

// Start flushes immediately, then on every tick until ctx is canceled.
func (s *HeartbeatState) Start(ctx context.Context, client RedisClientRaw) {
	s.flush(ctx, client)
	defer s.ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.ticker.C:
			s.flush(ctx, client)
		}
	}
}

func (s *HeartbeatState) flush(ctx context.Context, client RedisClientRaw) {
	s.mu.Lock()
	s.hb.UptimeSeconds = int64(time.Since(s.hb.StartedAt).Seconds())
	if s.snapshot != nil {
		counters, state := s.snapshot()
		s.hb.Served = counters
		s.hb.State = state.String()
	}
	s.hb.UpdateRuntimeStats()
	hbCopy := s.hb
	s.mu.Unlock()
	_ = SaveWorkerHeartbeat(ctx, client, hbCopy)
}
