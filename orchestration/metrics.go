package orchestration

import (
	"sync"
	"time"

	"github.com/ahleung/storylens/breaker"
	"github.com/ahleung/storylens/cache"
	"github.com/ahleung/storylens/model"
)

// ModelStats holds per-model outcome counters.
type ModelStats struct {
	Successes int
	Failures  int
	LastError string
}

// Metrics is a point-in-time snapshot of manager activity.
type Metrics struct {
	TotalRequests int
	CacheHits     int
	CacheHitRate  float64
	CacheSize     int

	Models   map[string]ModelStats
	Breakers map[string]breaker.Stats

	// AvgDuration aggregates completed (non-cached) analyses per analysis
	// type.
	AvgDuration map[model.AnalysisType]time.Duration
}

type durationAgg struct {
	total time.Duration
	count int
}

type metricsState struct {
	mu        sync.Mutex
	requests  int
	cacheHits int
	models    map[string]ModelStats
	durations map[model.AnalysisType]durationAgg
}

func newMetricsState() *metricsState {
	return &metricsState{
		models:    make(map[string]ModelStats),
		durations: make(map[model.AnalysisType]durationAgg),
	}
}

func (m *metricsState) requestStarted() {
	m.mu.Lock()
	m.requests++
	m.mu.Unlock()
}

func (m *metricsState) cacheHit() {
	m.mu.Lock()
	m.cacheHits++
	m.mu.Unlock()
}

func (m *metricsState) modelSuccess(modelID string) {
	m.mu.Lock()
	stats := m.models[modelID]
	stats.Successes++
	m.models[modelID] = stats
	m.mu.Unlock()
}

func (m *metricsState) modelFailure(modelID string, err error) {
	m.mu.Lock()
	stats := m.models[modelID]
	stats.Failures++
	if err != nil {
		stats.LastError = err.Error()
	}
	m.models[modelID] = stats
	m.mu.Unlock()
}

func (m *metricsState) analysisDone(analysisType model.AnalysisType, d time.Duration) {
	if analysisType == "" {
		analysisType = model.AnalysisConsistency
	}
	m.mu.Lock()
	agg := m.durations[analysisType]
	agg.total += d
	agg.count++
	m.durations[analysisType] = agg
	m.mu.Unlock()
}

func (m *metricsState) snapshot(c *cache.PromptCache, b *breaker.Registry) Metrics {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := Metrics{
		TotalRequests: m.requests,
		CacheHits:     m.cacheHits,
		Models:        make(map[string]ModelStats, len(m.models)),
		AvgDuration:   make(map[model.AnalysisType]time.Duration, len(m.durations)),
	}
	for id, stats := range m.models {
		out.Models[id] = stats
	}
	for typ, agg := range m.durations {
		if agg.count > 0 {
			out.AvgDuration[typ] = agg.total / time.Duration(agg.count)
		}
	}
	if c != nil {
		out.CacheHitRate = c.HitRate()
		out.CacheSize = c.Len()
	}
	if b != nil {
		out.Breakers = b.Stats()
	}
	return out
}
