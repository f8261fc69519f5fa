package pool

import (
	"context"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/hobansearch/tonsurance-dbpool/internal/config"
	"github.com/hobansearch/tonsurance-dbpool/internal/dbdriver"
	"github.com/hobansearch/tonsurance-dbpool/internal/endpoint"
)

// State is the lifecycle state of a connection slot (spec.md §3).
type State int

const (
	StateIdle State = iota
	StateActive
	StateFailed
	StateHealthCheck
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateActive:
		return "active"
	case StateFailed:
		return "failed"
	case StateHealthCheck:
		return "health_check"
	default:
		return "unknown"
	}
}

// slot is one pool-owned record holding a single driver connection and its
// lifecycle state (spec.md §3). All mutable fields are written only under
// the coordinator's mutex — slot itself holds no lock.
type slot struct {
	id        int64
	handle    dbdriver.Handle // nil iff state == StateFailed
	failure   error           // set iff state == StateFailed
	state     State
	createdAt time.Time
	lastUsed  time.Time
	useCount  int64

	// failedAttempts counts every connect attempt establishSlot made that
	// returned an error, including ones a later attempt recovered from.
	// spec.md §8 Scenario D counts failures per attempt, not per slot: a
	// driver that fails twice then succeeds on retry_attempts=3 still owes
	// the failure counter 2, even though the slot itself ends up Idle, not
	// Failed.
	failedAttempts int64
}

// isRotateEligible reports whether the slot has exceeded max_lifetime and
// must never be handed out again, regardless of health (spec.md §4.2
// "Rotate predicate").
func (s *slot) isRotateEligible(maxLifetime time.Duration) bool {
	if maxLifetime <= 0 {
		return false
	}
	return time.Since(s.createdAt) > maxLifetime
}

// isIdleExpired reports whether an Idle slot has been idle longer than
// max_idle_time.
func (s *slot) isIdleExpired(maxIdleTime time.Duration) bool {
	if maxIdleTime <= 0 || s.state != StateIdle {
		return false
	}
	return time.Since(s.lastUsed) > maxIdleTime
}

// markActive transitions Idle -> Active, bumping last-used and use-count.
// Must be called under the coordinator's mutex.
func (s *slot) markActive() {
	s.state = StateActive
	s.lastUsed = time.Now()
	s.useCount++
}

// markIdle transitions Active -> Idle. Must be called under the
// coordinator's mutex.
func (s *slot) markIdle() {
	s.state = StateIdle
	s.lastUsed = time.Now()
}

// close releases the slot's driver handle, if any. Safe to call for a
// Failed slot (no driver action needed).
func (s *slot) close(ctx context.Context) {
	if s.handle == nil {
		return
	}
	slog.Debug("closing slot", "slot_id", s.id)
	if err := s.handle.Close(ctx); err != nil {
		slog.Debug("slot close error", "slot_id", s.id, "err", err)
	}
}

// establishSlot attempts to obtain a new driver connection for ep, making
// at most cfg.RetryAttempts attempts in total (the first plus
// cfg.RetryAttempts-1 retries) with a fixed inter-attempt delay
// (spec.md §4.2 "Establish"). On exhaustion it returns a slot in Failed
// state carrying the last error rather than propagating it directly, so
// the maintainer can still see and evict it (spec.md §4.4 "Edge cases").
func establishSlot(ctx context.Context, id int64, drv dbdriver.Driver, ep *endpoint.Descriptor, cfg config.PoolConfig) *slot {
	attempts := cfg.RetryAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	var established dbdriver.Handle
	var failedAttempts int64
	remaining := attempts
	bo := backoff.WithMaxRetries(backoff.NewConstantBackOff(cfg.RetryDelay), uint64(attempts-1))

	err := backoff.Retry(func() error {
		handle, connErr := drv.Connect(ctx, ep)
		if connErr == nil {
			established = handle
			return nil
		}
		lastErr = connErr
		failedAttempts++
		remaining--
		slog.Warn("connection establishment attempt failed",
			"slot_id", id, "remaining_attempts", remaining, "err", connErr)
		return connErr
	}, bo)

	if err != nil {
		return &slot{
			id:             id,
			state:          StateFailed,
			failure:        lastErr,
			createdAt:      time.Now(),
			lastUsed:       time.Now(),
			failedAttempts: failedAttempts,
		}
	}

	now := time.Now()
	return &slot{
		id:             id,
		handle:         established,
		state:          StateIdle,
		createdAt:      now,
		lastUsed:       now,
		failedAttempts: failedAttempts,
	}
}
