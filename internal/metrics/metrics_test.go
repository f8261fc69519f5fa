package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// newTestCollector creates a Collector registered with a fresh registry
// so tests don't conflict with each other or with the default registry.
func newTestCollector(t *testing.T) *Collector {
	t.Helper()
	return New()
}

func getGaugeValue(g prometheus.Gauge) float64 {
	m := &dto.Metric{}
	g.Write(m)
	return m.GetGauge().GetValue()
}

func getCounterValue(c prometheus.Counter) float64 {
	m := &dto.Metric{}
	c.Write(m)
	return m.GetCounter().GetValue()
}

func TestUpdateSlotGaugesIsSoleAuthority(t *testing.T) {
	c := newTestCollector(t)

	c.UpdateSlotGauges(3, 5, 1, 2)
	if v := getGaugeValue(c.slotsActive); v != 3 {
		t.Errorf("slotsActive = %v, want 3", v)
	}
	if v := getGaugeValue(c.slotsIdle); v != 5 {
		t.Errorf("slotsIdle = %v, want 5", v)
	}
	if v := getGaugeValue(c.slotsFailed); v != 1 {
		t.Errorf("slotsFailed = %v, want 1", v)
	}
	if v := getGaugeValue(c.slotsWaiting); v != 2 {
		t.Errorf("slotsWaiting = %v, want 2", v)
	}

	// A second call replaces, not accumulates.
	c.UpdateSlotGauges(0, 0, 0, 0)
	if v := getGaugeValue(c.slotsActive); v != 0 {
		t.Errorf("slotsActive = %v after reset, want 0", v)
	}
}

func TestAcquireWaitObserved(t *testing.T) {
	c := newTestCollector(t)

	c.AcquireWaitObserved(5 * time.Millisecond)
	c.AcquireWaitObserved(10 * time.Millisecond)

	families, err := c.Registry.Gather()
	if err != nil {
		t.Fatal(err)
	}
	if sampleCount(families, "dbpool_acquire_wait_duration_seconds") != 2 {
		t.Error("expected 2 acquire-wait samples")
	}
}

func TestEstablishmentAndProbeObserved(t *testing.T) {
	c := newTestCollector(t)

	c.EstablishmentObserved(50 * time.Millisecond)
	c.ProbeObserved(time.Millisecond)

	families, _ := c.Registry.Gather()
	if sampleCount(families, "dbpool_establishment_duration_seconds") != 1 {
		t.Error("expected 1 establishment-duration sample")
	}
	if sampleCount(families, "dbpool_probe_duration_seconds") != 1 {
		t.Error("expected 1 probe-duration sample")
	}
}

func TestCounters(t *testing.T) {
	c := newTestCollector(t)

	c.Acquired()
	c.Acquired()
	c.Released()
	c.EstablishmentFailed()
	c.PoolExhausted()
	c.PoolExhausted()
	c.HealthCheckEvicted()
	c.LifetimeRotated()
	c.LifetimeRotated()
	c.LifetimeRotated()

	if v := getCounterValue(c.acquiredTotal); v != 2 {
		t.Errorf("acquiredTotal = %v, want 2", v)
	}
	if v := getCounterValue(c.releasedTotal); v != 1 {
		t.Errorf("releasedTotal = %v, want 1", v)
	}
	if v := getCounterValue(c.establishmentFailures); v != 1 {
		t.Errorf("establishmentFailures = %v, want 1", v)
	}
	if v := getCounterValue(c.poolExhaustedTotal); v != 2 {
		t.Errorf("poolExhaustedTotal = %v, want 2", v)
	}
	if v := getCounterValue(c.healthCheckEvictions); v != 1 {
		t.Errorf("healthCheckEvictions = %v, want 1", v)
	}
	if v := getCounterValue(c.lifetimeRotations); v != 3 {
		t.Errorf("lifetimeRotations = %v, want 3", v)
	}
}

func TestNewDoesNotPanicOnMultipleCalls(t *testing.T) {
	// Each call registers on its own fresh registry, not the global
	// default, so repeated construction (for example one Collector per
	// test) must never panic on duplicate registration.
	defer func() {
		if r := recover(); r != nil {
			t.Errorf("New() panicked on repeated calls: %v", r)
		}
	}()

	c1 := New()
	c2 := New()

	c1.Acquired()
	c2.Acquired()
	c2.Acquired()

	if v := getCounterValue(c1.acquiredTotal); v != 1 {
		t.Errorf("c1 acquiredTotal = %v, want 1", v)
	}
	if v := getCounterValue(c2.acquiredTotal); v != 2 {
		t.Errorf("c2 acquiredTotal = %v, want 2", v)
	}
}

func sampleCount(families []*dto.MetricFamily, name string) uint64 {
	for _, f := range families {
		if f.GetName() == name {
			m := f.GetMetric()
			if len(m) == 0 {
				return 0
			}
			return m[0].GetHistogram().GetSampleCount()
		}
	}
	return 0
}
