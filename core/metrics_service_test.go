package core

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMetricsFixture(t *testing.T) (*redis.Client, *EdgeMetrics, *MetricsService) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	edge := NewEdgeMetrics(client)
	return client, edge, NewMetricsService(client, edge)
}

func TestEdgeMetricsSnapshot(t *testing.T) {
	_, edge, _ := newMetricsFixture(t)
	ctx := context.Background()

	dm, err := edge.Snapshot(ctx)
	require.NoError(t, err)
	assert.Zero(t, dm.Allowed)
	assert.Zero(t, dm.Redirected)

	edge.Allowed(ctx)
	edge.Allowed(ctx)
	edge.Redirected(ctx)

	dm, err = edge.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), dm.Allowed)
	assert.Equal(t, int64(1), dm.Redirected)
}

func TestEdgeMetricsNilReceiver(t *testing.T) {
	var edge *EdgeMetrics
	ctx := context.Background()
	edge.Allowed(ctx)
	edge.Redirected(ctx)
	dm, err := edge.Snapshot(ctx)
	require.NoError(t, err)
	assert.Zero(t, dm.Allowed)
}

func TestMetricsServiceWorkers(t *testing.T) {
	client, _, svc := newMetricsFixture(t)
	ctx := context.Background()

	hb := CacheWorkerHeartbeat{
		WorkerID:     "host:1:abc",
		Hostname:     "host",
		PID:          1,
		CacheVersion: "v1",
		State:        StateActive.String(),
		Served:       WorkerCounters{Network: 10, Cache: 2, Fallback: 1},
		StartedAt:    time.Now(),
	}
	require.NoError(t, SaveWorkerHeartbeat(ctx, client, hb))

	workers, err := svc.Workers(ctx)
	require.NoError(t, err)
	require.Len(t, workers, 1)
	assert.Equal(t, "host:1:abc", workers[0].WorkerID)
	assert.Equal(t, int64(10), workers[0].Served.Network)
	assert.Equal(t, "active", workers[0].State)

	got, err := svc.WorkerByID(ctx, "host:1:abc")
	require.NoError(t, err)
	assert.Equal(t, "v1", got.CacheVersion)

	_, err = svc.WorkerByID(ctx, "missing")
	assert.True(t, errors.Is(err, redis.Nil))
}

func TestMetricsServiceOverview(t *testing.T) {
	client, edge, svc := newMetricsFixture(t)
	ctx := context.Background()

	edge.Allowed(ctx)
	require.NoError(t, SaveWorkerHeartbeat(ctx, client, CacheWorkerHeartbeat{WorkerID: "w1"}))

	decisions, workers, err := svc.Overview(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), decisions.Allowed)
	require.Len(t, workers, 1)
}

func TestHeartbeatStateFlush(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	state := NewHeartbeatState("w1", "host", "v3", func() (WorkerCounters, WorkerState) {
		return WorkerCounters{Network: 5}, StateActive
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel() // flush once, then exit
	state.Start(ctx, client)

	svc := NewMetricsService(client, NewEdgeMetrics(client))
	hb, err := svc.WorkerByID(context.Background(), "w1")
	require.NoError(t, err)
	assert.Equal(t, "host", hb.Hostname)
	assert.Equal(t, "v3", hb.CacheVersion)
	assert.Equal(t, "active", hb.State)
	assert.Equal(t, int64(5), hb.Served.Network)
	assert.Positive(t, hb.NumGoroutine)
}
