package loom

// config.go defines World's functional-options configuration, adapted
// from Voskan-arena-cache's pkg/config.go (config[K,V]/Option[K,V]/
// defaultConfig). Options only capture references to external
// collaborators (logger, metrics registry); nothing here allocates
// unless required.

import (
	"runtime"

	"github.com/prometheus/client_golang/prometheus"
)

type worldConfig struct {
	chunkCapacity    int
	logger           Logger
	metricsRegistry  *prometheus.Registry
	schedulerWorkers int
}

func defaultWorldConfig() *worldConfig {
	return &worldConfig{
		chunkCapacity:    DefaultChunkCapacity,
		logger:           NullLogger{},
		schedulerWorkers: max(1, runtime.GOMAXPROCS(0)),
	}
}

// WorldOption configures a World at construction time.
type WorldOption func(*worldConfig)

// WithChunkCapacity overrides the fixed per-chunk row capacity (default
// DefaultChunkCapacity). Must be a power of two per spec.md §3.
func WithChunkCapacity(n int) WorldOption {
	return func(c *worldConfig) {
		if n > 0 {
			c.chunkCapacity = n
		}
	}
}

// WithLogger plugs a Logger sink. The default is a NullLogger.
func WithLogger(l Logger) WorldOption {
	return func(c *worldConfig) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithMetrics enables Prometheus metrics collection. Passing nil (the
// default) disables metrics and the hot path never pays for it.
func WithMetrics(reg *prometheus.Registry) WorldOption {
	return func(c *worldConfig) { c.metricsRegistry = reg }
}

// WithSchedulerWorkers overrides the fixed worker-pool size the
// SystemScheduler dispatches levels onto (default runtime.GOMAXPROCS(0)).
func WithSchedulerWorkers(n int) WorldOption {
	return func(c *worldConfig) {
		if n > 0 {
			c.schedulerWorkers = n
		}
	}
}
