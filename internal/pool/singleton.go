package pool

import (
	"context"
	"sync"

	"github.com/hobansearch/tonsurance-dbpool/internal/config"
	"github.com/hobansearch/tonsurance-dbpool/internal/endpoint"
)

// singleton holds the process-wide pool. Construction is guarded by a plain
// mutex rather than sync.Once so Shutdown can clear it and a later GetPool
// can rebuild a fresh one — tests rely on this for isolation between cases
// (spec.md §4.6 "Singleton").
var (
	singletonMu sync.Mutex
	instance    *Coordinator
)

// GetPool returns the process-wide pool, constructing it on first call.
// Concurrent callers during construction all block on the same build and
// receive the same instance; GetPool is idempotent once built.
func GetPool(ctx context.Context, ep *endpoint.Descriptor, cfg config.PoolConfig) (*Coordinator, error) {
	singletonMu.Lock()
	defer singletonMu.Unlock()

	if instance != nil {
		return instance, nil
	}

	c, err := New(ctx, ep, cfg)
	if err != nil {
		return nil, err
	}
	instance = c
	return instance, nil
}

// ShutdownSingleton shuts down and clears the process-wide pool, if one was
// built. Safe to call even if GetPool was never called.
func ShutdownSingleton(ctx context.Context) {
	singletonMu.Lock()
	c := instance
	instance = nil
	singletonMu.Unlock()

	if c != nil {
		c.Shutdown(ctx)
	}
}
