package core

import (
	"context"
	"encoding/json"
)

const (
	decisionAllowedKey    = "edge:decisions:allowed"
	decisionRedirectedKey = "edge:decisions:redirected"
)

// DecisionMetrics is the running total of edge authorization outcomes.
type DecisionMetrics struct {
	Allowed    int64 `json:"allowed"`
	Redirected int64 `json:"redirected"`
}

// EdgeMetrics counts authorization decisions in redis. A nil receiver is a
// no-op so the middleware works without a metrics backend.
type EdgeMetrics struct {
	redis RedisClientRaw
}

func NewEdgeMetrics(redis RedisClientRaw) *EdgeMetrics {
	return &EdgeMetrics{redis: redis}
}

func (m *EdgeMetrics) Allowed(ctx context.Context) {
	if m == nil {
		return
	}
	m.redis.Incr(ctx, decisionAllowedKey)
}

func (m *EdgeMetrics) Redirected(ctx context.Context) {
	if m == nil {
		return
	}
	m.redis.Incr(ctx, decisionRedirectedKey)
}

// Snapshot returns the current totals. Missing keys read as zero.
func (m *EdgeMetrics) Snapshot(ctx context.Context) (DecisionMetrics, error) {
	if m == nil {
		return DecisionMetrics{}, nil
	}
	var dm DecisionMetrics
	allowed, err := m.redis.Get(ctx, decisionAllowedKey).Int64()
	if err == nil {
		dm.Allowed = allowed
	} else if !isRedisNil(err) {
		return DecisionMetrics{}, err
	}
	redirected, err := m.redis.Get(ctx, decisionRedirectedKey).Int64()
	if err == nil {
		dm.Redirected = redirected
	} else if !isRedisNil(err) {
		return DecisionMetrics{}, err
	}
	return dm, nil
}

// MetricsService reads decision counters and cache-worker heartbeats out of
// redis for the admin surface.
type MetricsService struct {
	redis RedisClientRaw
	edge  *EdgeMetrics
}

func NewMetricsService(redis RedisClientRaw, edge *EdgeMetrics) *MetricsService {
	return &MetricsService{redis: redis, edge: edge}
}

// Overview returns the decision totals and all live workers.
func (s *MetricsService) Overview(ctx context.Context) (DecisionMetrics, []CacheWorkerHeartbeat, error) {
	decisions, err := s.edge.Snapshot(ctx)
	if err != nil {
		return DecisionMetrics{}, nil, err
	}
	workers, err := s.Workers(ctx)
	if err != nil {
		return decisions, nil, err
	}
	return decisions, workers, nil
}

// Workers returns every heartbeat still present in redis.
func (s *MetricsService) Workers(ctx context.Context) ([]CacheWorkerHeartbeat, error) {
	iter := s.redis.Scan(ctx, 0, WorkerHeartbeatPrefix+"*", 100).Iterator()
	var res []CacheWorkerHeartbeat
	for iter.Next(ctx) {
		key := iter.Val()
		val, err := s.redis.Get(ctx, key).Result()
		if err != nil {
			continue
		}
		var hb CacheWorkerHeartbeat
		if err := json.Unmarshal([]byte(val), &hb); err != nil {
			continue
		}
		res = append(res, hb)
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return res, nil
}

// WorkerByID returns one worker's heartbeat.
func (s *MetricsService) WorkerByID(ctx context.Context, id string) (*CacheWorkerHeartbeat, error) {
	val, err := s.redis.Get(ctx, WorkerHeartbeatKey(id)).Result()
	if err != nil {
		return nil, err
	}
	var hb CacheWorkerHeartbeat
	if err := json.Unmarshal([]byte(val), &hb); err != nil {
		return nil, err
	}
	return &hb, nil
}
