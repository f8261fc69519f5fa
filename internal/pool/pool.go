// Package pool implements the bounded, health-checked, lifetime-managed
// connection pool described in spec.md: a fair permit counter gates
// concurrent leases, a slot table tracks every pooled connection's
// lifecycle, and a background maintainer reclaims stale or unhealthy
// slots without blocking live traffic.
package pool

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hobansearch/tonsurance-dbpool/internal/config"
	"github.com/hobansearch/tonsurance-dbpool/internal/dbdriver"
	"github.com/hobansearch/tonsurance-dbpool/internal/endpoint"
)

// OnPoolExhausted is invoked whenever acquire rejects a caller because the
// slot table is full and none are idle — used to drive an external counter
// (the metrics package) without this package importing it.
type OnPoolExhausted func()

// MetricsSink receives pool lifecycle events. It is the same decoupling
// pattern as OnPoolExhausted: the pool package depends only on this narrow
// interface, never on the metrics package directly. *metrics.Collector
// satisfies it.
type MetricsSink interface {
	Acquired()
	Released()
	EstablishmentFailed()
	HealthCheckEvicted()
	LifetimeRotated()
	AcquireWaitObserved(time.Duration)
	EstablishmentObserved(time.Duration)
	ProbeObserved(time.Duration)
}

// Stats is a point-in-time snapshot of the pool's slot table and
// cumulative counters (spec.md §6 "pool interface"). OldestSlotAge and
// TotalUseCount are supplemented beyond the minimal interface spec.md
// describes, grounded in the teacher's per-tenant Stats struct which
// already carried this kind of richer accounting.
type Stats struct {
	Total   int
	Active  int
	Idle    int
	Failed  int
	Waiting int

	CumulativeAcquired int64
	CumulativeReleased int64
	// CumulativeFailed counts failed connect attempts, not failed slots: a
	// slot that fails twice and then succeeds on its third attempt still
	// contributes 2 here (spec.md §8 Scenario D).
	CumulativeFailed int64

	OldestSlotAge time.Duration
	TotalUseCount int64
}

// Coordinator is the pool: Acquire, Release, and WithConnection orchestrate
// the fair permit counter and the slot table under a single mutex
// (spec.md §4.4).
type Coordinator struct {
	mu     sync.Mutex
	ep     *endpoint.Descriptor
	driver dbdriver.Driver
	cfg    config.PoolConfig
	sem    *fairSemaphore

	slots  map[int64]*slot
	nextID int64

	cumAcquired int64
	cumReleased int64
	cumFailed   int64

	closed      atomic.Bool
	onExhausted OnPoolExhausted
	metrics     MetricsSink

	maintainer *maintainer
}

// New constructs a Coordinator: it resolves a driver for ep.Scheme,
// allocates base_size+overflow permits, and establishes base_size slots in
// parallel before returning (spec.md §4.4 "Construction").
func New(ctx context.Context, ep *endpoint.Descriptor, cfg config.PoolConfig) (*Coordinator, error) {
	drv, err := dbdriver.ForScheme(ep.Scheme)
	if err != nil {
		return nil, err
	}
	return NewWithDriver(ctx, ep, cfg, drv), nil
}

// NewWithDriver is New with an injectable driver, used by tests to run the
// full coordinator against a fake driver without a real database.
func NewWithDriver(ctx context.Context, ep *endpoint.Descriptor, cfg config.PoolConfig, drv dbdriver.Driver) *Coordinator {
	c := &Coordinator{
		ep:     ep,
		driver: drv,
		cfg:    cfg,
		sem:    newFairSemaphore(cfg.MaxTotal()),
		slots:  make(map[int64]*slot, cfg.MaxTotal()),
	}

	var wg sync.WaitGroup
	results := make([]*slot, cfg.BaseSize)
	for i := 0; i < cfg.BaseSize; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			id := atomic.AddInt64(&c.nextID, 1)
			results[idx] = establishSlot(ctx, id, c.driver, c.ep, c.cfg)
		}(i)
	}
	wg.Wait()

	for _, s := range results {
		c.slots[s.id] = s
		c.cumFailed += s.failedAttempts
		if s.state == StateFailed {
			slog.Error("initial slot establishment failed", "slot_id", s.id, "err", s.failure)
		} else {
			slog.Debug("slot created", "slot_id", s.id)
		}
	}

	slog.Info("pool created", "base_size", cfg.BaseSize, "overflow", cfg.Overflow,
		"max_total", cfg.MaxTotal(), "scheme", ep.Scheme)

	c.maintainer = newMaintainer(c, cfg.HealthCheckInterval)
	c.maintainer.start()

	return c
}

// SetOnPoolExhausted installs the exhaustion callback. Must be called
// before concurrent traffic starts; there is no lock around reading it.
func (c *Coordinator) SetOnPoolExhausted(cb OnPoolExhausted) {
	c.onExhausted = cb
}

// SetMetricsSink installs the metrics sink. Must be called before
// concurrent traffic starts; there is no lock around reading it.
func (c *Coordinator) SetMetricsSink(m MetricsSink) {
	c.metrics = m
}

func (c *Coordinator) observeEstablishment(d time.Duration) {
	if c.metrics != nil {
		c.metrics.EstablishmentObserved(d)
	}
}

// Acquire returns a live borrowed handle within at most
// cfg.ConnectionTimeout, or an AcquisitionTimeout error (spec.md §4.4
// "Operation: acquire").
func (c *Coordinator) Acquire(ctx context.Context) (dbdriver.Handle, error) {
	if c.closed.Load() {
		return nil, newShutdownInProgress()
	}

	acqCtx, cancel := context.WithTimeout(ctx, c.cfg.ConnectionTimeout)
	defer cancel()

	waitStart := time.Now()
	if err := c.sem.wait(acqCtx); err != nil {
		if ctx.Err() == nil {
			// Our own deadline fired, not the caller's context.
			return nil, newAcquisitionTimeout(c.cfg.ConnectionTimeout.String())
		}
		return nil, err
	}
	if c.metrics != nil {
		c.metrics.AcquireWaitObserved(time.Since(waitStart))
	}

	// Permit admitted. From here on every early return must signal() to
	// compensate, except the success path, which keeps the permit for the
	// lifetime of the lease.
	c.mu.Lock()

	if c.closed.Load() {
		c.mu.Unlock()
		c.sem.signal()
		return nil, newShutdownInProgress()
	}

	if s := c.findReusableIdleLocked(); s != nil {
		s.markActive()
		c.cumAcquired++
		handle := s.handle
		c.mu.Unlock()
		if c.metrics != nil {
			c.metrics.Acquired()
		}
		slog.Debug("slot acquired", "slot_id", s.id, "reused", true)
		return handle, nil
	}

	if len(c.slots) >= c.cfg.MaxTotal() {
		c.mu.Unlock()
		c.notifyExhausted()
		c.sem.signal()
		return nil, newPoolExhausted()
	}

	id := atomic.AddInt64(&c.nextID, 1)
	c.mu.Unlock()

	establishStart := time.Now()
	newSlot := establishSlot(acqCtx, id, c.driver, c.ep, c.cfg)
	c.observeEstablishment(time.Since(establishStart))

	c.mu.Lock()
	c.slots[id] = newSlot
	c.cumFailed += newSlot.failedAttempts
	if newSlot.state == StateFailed {
		c.mu.Unlock()
		c.sem.signal()
		if c.metrics != nil {
			c.metrics.EstablishmentFailed()
		}
		slog.Error("connection establishment failed", "slot_id", id, "err", newSlot.failure)
		return nil, newEstablishmentFailure(newSlot.failure)
	}

	newSlot.markActive()
	c.cumAcquired++
	handle := newSlot.handle
	c.mu.Unlock()
	if c.metrics != nil {
		c.metrics.Acquired()
	}
	slog.Debug("slot acquired", "slot_id", id, "reused", false)
	return handle, nil
}

// findReusableIdleLocked returns an Idle, live, non-rotate-eligible slot,
// or nil. Must be called with c.mu held.
func (c *Coordinator) findReusableIdleLocked() *slot {
	for _, s := range c.slots {
		if s.state != StateIdle {
			continue
		}
		if s.handle == nil {
			continue
		}
		if s.isRotateEligible(c.cfg.MaxLifetime) {
			continue
		}
		return s
	}
	return nil
}

func (c *Coordinator) notifyExhausted() {
	if c.onExhausted != nil {
		c.onExhausted()
	}
}

// Release returns a handle to the pool. Identification is by handle
// identity, not by slot id (spec.md §4.4 "Operation: release").
func (c *Coordinator) Release(h dbdriver.Handle) {
	c.mu.Lock()
	for _, s := range c.slots {
		if s.handle == h {
			s.markIdle()
			c.cumReleased++
			c.mu.Unlock()
			c.sem.signal()
			if c.metrics != nil {
				c.metrics.Released()
			}
			slog.Debug("slot released", "slot_id", s.id)
			return
		}
	}
	c.mu.Unlock()

	slog.Warn("release of unrecognized handle")
	c.sem.signal()
}

// WithConnection acquires a lease, runs fn with the borrowed handle, and
// releases the lease on every exit path, including fn panicking or erroring
// (spec.md §4.4 "Operation: with-connection"). The deferred Release runs
// during Go's normal panic unwinding, so no explicit recover is needed to
// guarantee the release happens.
func (c *Coordinator) WithConnection(ctx context.Context, fn func(dbdriver.Handle) error) error {
	h, err := c.Acquire(ctx)
	if err != nil {
		return err
	}
	defer c.Release(h)
	return fn(h)
}

// Stats returns a point-in-time snapshot of the pool.
func (c *Coordinator) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	st := Stats{
		CumulativeAcquired: c.cumAcquired,
		CumulativeReleased: c.cumReleased,
		CumulativeFailed:   c.cumFailed,
		Waiting:            c.sem.waitingCount(),
	}
	for _, s := range c.slots {
		st.Total++
		switch s.state {
		case StateActive:
			st.Active++
		case StateIdle:
			st.Idle++
		case StateFailed:
			st.Failed++
		}
		st.TotalUseCount += s.useCount
		if age := time.Since(s.createdAt); age > st.OldestSlotAge {
			st.OldestSlotAge = age
		}
	}
	return st
}

const drainTimeout = 30 * time.Second

// Shutdown cancels the maintainer and closes every slot. Active leases are
// given up to drainTimeout to be released normally before their slots are
// force closed (SPEC_FULL.md §4 "Graceful drain", grounded in the teacher's
// TenantPool.Drain). Safe to call more than once.
func (c *Coordinator) Shutdown(ctx context.Context) {
	if !c.closed.CompareAndSwap(false, true) {
		return
	}

	c.maintainer.stop()
	c.drain(ctx)
	slog.Info("pool shut down")
}

func (c *Coordinator) drain(ctx context.Context) {
	deadline := time.Now().Add(drainTimeout)

	for {
		c.mu.Lock()
		activeCount := 0
		for _, s := range c.slots {
			if s.state == StateActive {
				activeCount++
			}
		}
		if activeCount == 0 || time.Now().After(deadline) {
			for id, s := range c.slots {
				s.close(ctx)
				delete(c.slots, id)
			}
			c.mu.Unlock()
			if activeCount > 0 {
				slog.Warn("force-closed active slots after drain timeout", "count", activeCount)
			}
			return
		}
		c.mu.Unlock()
		time.Sleep(50 * time.Millisecond)
	}
}
