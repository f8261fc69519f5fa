package pool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/hobansearch/tonsurance-dbpool/internal/dbdriver"
	"github.com/hobansearch/tonsurance-dbpool/internal/endpoint"
)

// fakeHandle is an in-memory stand-in for a live driver connection.
type fakeHandle struct {
	id     int64
	closed atomic.Bool
}

func (h *fakeHandle) Close(ctx context.Context) error {
	h.closed.Store(true)
	return nil
}

var _ dbdriver.Handle = (*fakeHandle)(nil)

// fakeDriver is a scriptable dbdriver.Driver used to exercise the
// coordinator without a real database. failFirstN lets a test simulate a
// connection that fails N times before succeeding, exercising establishSlot's
// retry path; unhealthy marks specific handles as failing Probe, exercising
// the maintainer's health pass.
type fakeDriver struct {
	mu          sync.Mutex
	nextID      int64
	connectErr  error
	failFirstN  int
	connectCnt  int
	unhealthy   map[*fakeHandle]bool
	probeErr    error
	connectHook func()
}

func newFakeDriver() *fakeDriver {
	return &fakeDriver{unhealthy: make(map[*fakeHandle]bool)}
}

func (d *fakeDriver) Connect(ctx context.Context, ep *endpoint.Descriptor) (dbdriver.Handle, error) {
	d.mu.Lock()
	d.connectCnt++
	attempt := d.connectCnt
	failFirstN := d.failFirstN
	connectErr := d.connectErr
	hook := d.connectHook
	d.mu.Unlock()

	if hook != nil {
		hook()
	}

	if connectErr != nil {
		return nil, connectErr
	}
	if attempt <= failFirstN {
		return nil, errors.New("fake driver: simulated establishment failure")
	}

	d.mu.Lock()
	d.nextID++
	id := d.nextID
	d.mu.Unlock()
	return &fakeHandle{id: id}, nil
}

func (d *fakeDriver) Probe(ctx context.Context, h dbdriver.Handle) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.probeErr != nil {
		return false, d.probeErr
	}
	fh := h.(*fakeHandle)
	if d.unhealthy[fh] {
		return false, nil
	}
	return true, nil
}

func (d *fakeDriver) markUnhealthy(h dbdriver.Handle) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.unhealthy[h.(*fakeHandle)] = true
}
