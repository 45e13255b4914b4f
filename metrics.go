package loom

// metrics.go is a thin abstraction over Prometheus so that loom can be run
// with or without metrics, grounded in Voskan-arena-cache's pkg/metrics.go:
// a metricsSink interface, a branchless noop implementation, and a
// Prometheus implementation that is only constructed when the caller
// opts in via WithMetrics(registry). The hot path never pays for metric
// updates unless metrics are enabled.

import (
	"strconv"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// HealthStatus summarizes the runtime's self-reported condition.
type HealthStatus int

const (
	HealthHealthy HealthStatus = iota
	HealthWarning
	HealthCritical
)

func (h HealthStatus) String() string {
	switch h {
	case HealthHealthy:
		return "Healthy"
	case HealthWarning:
		return "Warning"
	default:
		return "Critical"
	}
}

// PerformanceSnapshot is a point-in-time read of the counters MetricsSink
// tracks internally for health reporting.
type PerformanceSnapshot struct {
	ArchetypesCreated uint64
	ChunksAllocated   uint64
	ChunksFreed       uint64
	FramesCompleted   uint64
	LastFrameDuration time.Duration
}

// MetricsSink is the health/metrics collaborator described in spec.md §6.
type MetricsSink interface {
	RecordOperation(op EcsOperation, duration time.Duration)
	RecordQuery(entityCount int, duration time.Duration)
	RecordTransition(from, to ArchetypeID, duration time.Duration)
	FrameStart()
	FrameEnd()
	ChunkAllocated()
	ChunkFreed()
	ArchetypeCreated()
	Health() HealthStatus
	Snapshot() PerformanceSnapshot
}

/* ---------------- no-op implementation ---------------- */

type noopMetrics struct{}

func (noopMetrics) RecordOperation(EcsOperation, time.Duration)    {}
func (noopMetrics) RecordQuery(int, time.Duration)                 {}
func (noopMetrics) RecordTransition(ArchetypeID, ArchetypeID, time.Duration) {}
func (noopMetrics) FrameStart()                                    {}
func (noopMetrics) FrameEnd()                                       {}
func (noopMetrics) ChunkAllocated()                                 {}
func (noopMetrics) ChunkFreed()                                     {}
func (noopMetrics) ArchetypeCreated()                               {}
func (noopMetrics) Health() HealthStatus                            { return HealthHealthy }
func (noopMetrics) Snapshot() PerformanceSnapshot                   { return PerformanceSnapshot{} }

/* ---------------- Prometheus implementation ---------------- */

type promMetrics struct {
	operations  *prometheus.HistogramVec
	queries     *prometheus.HistogramVec
	transitions *prometheus.HistogramVec
	frames      prometheus.Counter
	frameLength prometheus.Histogram
	chunksAlloc prometheus.Counter
	chunksFreed prometheus.Counter
	archetypes  prometheus.Counter

	archetypesN atomic.Uint64
	chunksAllocN atomic.Uint64
	chunksFreedN atomic.Uint64
	framesN      atomic.Uint64
	lastFrameNs  atomic.Int64
	frameStartNs atomic.Int64
}

func newPromMetrics(reg *prometheus.Registry) *promMetrics {
	pm := &promMetrics{
		operations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "loom",
			Name:      "operation_duration_seconds",
			Help:      "Duration of core ECS operations by operation tag.",
		}, []string{"operation"}),
		queries: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "loom",
			Name:      "query_duration_seconds",
			Help:      "Duration of query execution, bucketed by matched entity count.",
		}, []string{"bucket"}),
		transitions: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "loom",
			Name:      "archetype_transition_duration_seconds",
			Help:      "Duration of archetype migrations.",
		}, []string{"from", "to"}),
		frames: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "loom",
			Name:      "frames_total",
			Help:      "Number of completed scheduler frames.",
		}),
		frameLength: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "loom",
			Name:      "frame_duration_seconds",
			Help:      "Duration of a full frame (all phases).",
		}),
		chunksAlloc: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "loom",
			Name:      "chunks_allocated_total",
			Help:      "Number of chunks allocated.",
		}),
		chunksFreed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "loom",
			Name:      "chunks_freed_total",
			Help:      "Number of chunks released.",
		}),
		archetypes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "loom",
			Name:      "archetypes_created_total",
			Help:      "Number of archetypes created.",
		}),
	}
	reg.MustRegister(pm.operations, pm.queries, pm.transitions, pm.frames,
		pm.frameLength, pm.chunksAlloc, pm.chunksFreed, pm.archetypes)
	return pm
}

func (m *promMetrics) RecordOperation(op EcsOperation, d time.Duration) {
	m.operations.WithLabelValues(op.String()).Observe(d.Seconds())
}

func (m *promMetrics) RecordQuery(entityCount int, d time.Duration) {
	m.queries.WithLabelValues(queryBucket(entityCount)).Observe(d.Seconds())
}

func queryBucket(n int) string {
	switch {
	case n <= 8:
		return "small"
	case n <= 1024:
		return "medium"
	default:
		return "large"
	}
}

func (m *promMetrics) RecordTransition(from, to ArchetypeID, d time.Duration) {
	m.transitions.WithLabelValues(
		strconv.FormatUint(uint64(from), 10),
		strconv.FormatUint(uint64(to), 10),
	).Observe(d.Seconds())
}

func (m *promMetrics) FrameStart() {
	m.frameStartNs.Store(time.Now().UnixNano())
}

func (m *promMetrics) FrameEnd() {
	m.frames.Inc()
	m.framesN.Add(1)

	start := m.frameStartNs.Load()
	if start == 0 {
		return
	}
	elapsed := time.Duration(time.Now().UnixNano() - start)
	m.frameLength.Observe(elapsed.Seconds())
	m.lastFrameNs.Store(int64(elapsed))
}

func (m *promMetrics) ChunkAllocated() {
	m.chunksAlloc.Inc()
	m.chunksAllocN.Add(1)
}

func (m *promMetrics) ChunkFreed() {
	m.chunksFreed.Inc()
	m.chunksFreedN.Add(1)
}

func (m *promMetrics) ArchetypeCreated() {
	m.archetypes.Inc()
	m.archetypesN.Add(1)
}

func (m *promMetrics) Health() HealthStatus {
	live := int64(m.chunksAllocN.Load()) - int64(m.chunksFreedN.Load())
	switch {
	case live < 0:
		return HealthCritical
	case live > 100000:
		return HealthWarning
	default:
		return HealthHealthy
	}
}

func (m *promMetrics) Snapshot() PerformanceSnapshot {
	return PerformanceSnapshot{
		ArchetypesCreated: m.archetypesN.Load(),
		ChunksAllocated:   m.chunksAllocN.Load(),
		ChunksFreed:       m.chunksFreedN.Load(),
		FramesCompleted:   m.framesN.Load(),
		LastFrameDuration: time.Duration(m.lastFrameNs.Load()),
	}
}

func newMetricsSink(reg *prometheus.Registry) MetricsSink {
	if reg == nil {
		return noopMetrics{}
	}
	return newPromMetrics(reg)
}
