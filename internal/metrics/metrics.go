// Package metrics exposes the pool's Prometheus surface. Retargeted from
// the teacher's per-tenant-labeled Collector to a single process-wide pool:
// no tenant label dimension, so there is no RemoveTenant-style cleanup
// needed either.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector holds every Prometheus metric the pool exposes.
type Collector struct {
	Registry *prometheus.Registry

	slotsActive  prometheus.Gauge
	slotsIdle    prometheus.Gauge
	slotsFailed  prometheus.Gauge
	slotsWaiting prometheus.Gauge

	acquireWaitDuration    prometheus.Histogram
	establishmentDuration  prometheus.Histogram
	probeDuration          prometheus.Histogram
	poolExhaustedTotal     prometheus.Counter
	acquiredTotal          prometheus.Counter
	releasedTotal          prometheus.Counter
	establishmentFailures  prometheus.Counter
	healthCheckEvictions   prometheus.Counter
	lifetimeRotations      prometheus.Counter
}

// New creates and registers all Prometheus metrics on a fresh registry.
// Safe to call multiple times — each call returns an independent registry
// so tests can create one per case without collisions.
func New() *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		Registry: reg,
		slotsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "dbpool_slots_active",
			Help: "Number of slots currently leased out",
		}),
		slotsIdle: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "dbpool_slots_idle",
			Help: "Number of slots currently idle and reusable",
		}),
		slotsFailed: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "dbpool_slots_failed",
			Help: "Number of slots currently in the Failed state awaiting eviction",
		}),
		slotsWaiting: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "dbpool_slots_waiting",
			Help: "Number of callers currently blocked in acquire",
		}),
		acquireWaitDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "dbpool_acquire_wait_duration_seconds",
			Help:    "Time spent waiting for a permit in acquire",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 16),
		}),
		establishmentDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "dbpool_establishment_duration_seconds",
			Help:    "Time spent establishing a new physical connection",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 14),
		}),
		probeDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "dbpool_probe_duration_seconds",
			Help:    "Time spent running a health probe against a pooled connection",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 12),
		}),
		poolExhaustedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dbpool_pool_exhausted_total",
			Help: "Total number of acquire calls rejected because the slot table was full",
		}),
		acquiredTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dbpool_acquired_total",
			Help: "Total number of successful acquires",
		}),
		releasedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dbpool_released_total",
			Help: "Total number of releases",
		}),
		establishmentFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dbpool_establishment_failures_total",
			Help: "Total number of connection establishment attempts that exhausted all retries",
		}),
		healthCheckEvictions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dbpool_health_check_evictions_total",
			Help: "Total number of slots evicted by the maintainer's health pass",
		}),
		lifetimeRotations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dbpool_lifetime_rotations_total",
			Help: "Total number of slots evicted by the maintainer for exceeding max_lifetime or max_idle_time",
		}),
	}

	reg.MustRegister(
		c.slotsActive,
		c.slotsIdle,
		c.slotsFailed,
		c.slotsWaiting,
		c.acquireWaitDuration,
		c.establishmentDuration,
		c.probeDuration,
		c.poolExhaustedTotal,
		c.acquiredTotal,
		c.releasedTotal,
		c.establishmentFailures,
		c.healthCheckEvictions,
		c.lifetimeRotations,
	)

	return c
}

// UpdateSlotGauges sets the four slot-table gauges from a point-in-time
// snapshot. Intended to be called from the same place that polls
// pool.Coordinator.Stats().
func (c *Collector) UpdateSlotGauges(active, idle, failed, waiting int) {
	c.slotsActive.Set(float64(active))
	c.slotsIdle.Set(float64(idle))
	c.slotsFailed.Set(float64(failed))
	c.slotsWaiting.Set(float64(waiting))
}

// AcquireWaitObserved records how long a caller waited inside acquire.
func (c *Collector) AcquireWaitObserved(d time.Duration) {
	c.acquireWaitDuration.Observe(d.Seconds())
}

// EstablishmentObserved records how long a connection establishment attempt
// took, successful or not.
func (c *Collector) EstablishmentObserved(d time.Duration) {
	c.establishmentDuration.Observe(d.Seconds())
}

// ProbeObserved records how long a health probe took.
func (c *Collector) ProbeObserved(d time.Duration) {
	c.probeDuration.Observe(d.Seconds())
}

// PoolExhausted increments the exhaustion counter. Wired as pool.OnPoolExhausted.
func (c *Collector) PoolExhausted() {
	c.poolExhaustedTotal.Inc()
}

// Acquired increments the successful-acquire counter.
func (c *Collector) Acquired() {
	c.acquiredTotal.Inc()
}

// Released increments the release counter.
func (c *Collector) Released() {
	c.releasedTotal.Inc()
}

// EstablishmentFailed increments the establishment-failure counter.
func (c *Collector) EstablishmentFailed() {
	c.establishmentFailures.Inc()
}

// HealthCheckEvicted increments the health-pass eviction counter.
func (c *Collector) HealthCheckEvicted() {
	c.healthCheckEvictions.Inc()
}

// LifetimeRotated increments the lifetime/idle-reclamation eviction counter.
func (c *Collector) LifetimeRotated() {
	c.lifetimeRotations.Inc()
}
