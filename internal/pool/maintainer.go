package pool

import (
	"context"
	"log/slog"
	"time"
)

// maintainer is the background task from spec.md §4.5: on each tick it runs
// a health pass (probe every Idle slot outside the coordinator's mutex,
// evict the ones that fail) followed by a cleanup pass (evict Failed slots
// and slots that crossed max_idle_time or max_lifetime). Grounded in the
// teacher's TenantPool.reapLoop/reapIdle, generalized from per-tenant reaping
// to a single pool and split health from lifetime reclamation into two
// distinct passes per spec.md §4.5.
type maintainer struct {
	c        *Coordinator
	interval time.Duration
	stopCh   chan struct{}
	doneCh   chan struct{}
}

func newMaintainer(c *Coordinator, interval time.Duration) *maintainer {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &maintainer{
		c:        c,
		interval: interval,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

func (m *maintainer) start() {
	go m.loop()
}

func (m *maintainer) stop() {
	close(m.stopCh)
	<-m.doneCh
}

func (m *maintainer) loop() {
	defer close(m.doneCh)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), m.interval)
			m.c.runHealthPass(ctx)
			m.c.runCleanupPass()
			cancel()
		case <-m.stopCh:
			return
		}
	}
}

// runHealthPass probes every reusable Idle slot and evicts the ones that
// fail. Candidates are reserved by transitioning them Idle -> HealthCheck
// under c.mu (so Acquire, which only considers State == Idle, skips them
// without the maintainer holding the lock for the probe's I/O); each is then
// probed unlocked, and finally either restored to Idle or evicted under
// c.mu again (spec.md §4.5 "Health pass", spec.md §8 property 8 "Maintainer
// non-interference").
func (c *Coordinator) runHealthPass(ctx context.Context) {
	c.mu.Lock()
	var candidates []*slot
	for _, s := range c.slots {
		if s.state != StateIdle || s.handle == nil {
			continue
		}
		s.state = StateHealthCheck
		candidates = append(candidates, s)
	}
	c.mu.Unlock()

	if len(candidates) == 0 {
		return
	}

	for _, s := range candidates {
		probeStart := time.Now()
		healthy, err := c.probeSafely(ctx, s)
		if c.metrics != nil {
			c.metrics.ProbeObserved(time.Since(probeStart))
		}

		c.mu.Lock()
		if current, ok := c.slots[s.id]; !ok || current != s {
			// Evicted or replaced by another path while we probed; nothing
			// to reconcile.
			c.mu.Unlock()
			continue
		}
		if healthy {
			s.state = StateIdle
			c.mu.Unlock()
			continue
		}
		s.state = StateFailed
		s.failure = err
		delete(c.slots, s.id)
		c.mu.Unlock()

		s.close(ctx)
		if c.metrics != nil {
			c.metrics.HealthCheckEvicted()
		}
		slog.Warn("slot failed health probe, evicted", "slot_id", s.id, "err", err)
	}
}

// probeSafely runs the driver's probe and recovers from a panic inside it,
// treating a panic the same as a failed probe so one misbehaving driver
// call can never take down the maintainer goroutine.
func (c *Coordinator) probeSafely(ctx context.Context, s *slot) (healthy bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("panic in driver probe, treating as unhealthy", "slot_id", s.id, "panic", r)
			healthy, err = false, nil
		}
	}()
	ok, probeErr := c.driver.Probe(ctx, s.handle)
	if probeErr != nil {
		return false, probeErr
	}
	return ok, nil
}

// runCleanupPass evicts Failed slots and Idle slots that crossed
// max_idle_time or max_lifetime. Active and HealthCheck slots are always
// left untouched (spec.md §4.5 "Cleanup pass").
func (c *Coordinator) runCleanupPass() {
	c.mu.Lock()
	var evicted []*slot
	var rotated []*slot
	for id, s := range c.slots {
		switch {
		case s.state == StateFailed:
			evicted = append(evicted, s)
			delete(c.slots, id)
		case s.state == StateIdle && (s.isIdleExpired(c.cfg.MaxIdleTime) || s.isRotateEligible(c.cfg.MaxLifetime)):
			evicted = append(evicted, s)
			rotated = append(rotated, s)
			delete(c.slots, id)
		}
	}
	c.mu.Unlock()

	if len(evicted) == 0 {
		return
	}

	if c.metrics != nil {
		for range rotated {
			c.metrics.LifetimeRotated()
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, s := range evicted {
		s.close(ctx)
		slog.Debug("slot reclaimed by cleanup pass", "slot_id", s.id, "last_state", s.state)
	}
}
