package pool

import (
	"context"
	"sync"
)

// fairSemaphore is the "fair permit counter" from spec.md §4.3: a bounded
// counting semaphore that wakes waiters strictly in arrival order. It is
// built over a mutex and a FIFO queue of one-shot wake channels rather than
// sync.Cond, because cond.Wait cannot be raced against a context
// cancellation without a second goroutine — see spec.md §9 "Semaphore
// availability".
type fairSemaphore struct {
	mu          sync.Mutex
	available   int
	outstanding int
	waiters     []chan struct{}
}

func newFairSemaphore(n int) *fairSemaphore {
	return &fairSemaphore{available: n}
}

// wait consumes one permit, blocking in FIFO order until one is available
// or ctx is done. On cancellation it guarantees no permit is leaked: if
// this waiter had not yet been granted a permit, none is consumed; if a
// permit was already in flight to it when cancellation won the race, that
// permit is forwarded to the next waiter (or returned to the pool) before
// wait returns.
func (s *fairSemaphore) wait(ctx context.Context) error {
	s.mu.Lock()
	if s.available > 0 {
		s.available--
		s.outstanding++
		s.mu.Unlock()
		return nil
	}
	ch := make(chan struct{}, 1)
	s.waiters = append(s.waiters, ch)
	s.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		s.mu.Lock()
		for i, w := range s.waiters {
			if w == ch {
				s.waiters = append(s.waiters[:i], s.waiters[i+1:]...)
				s.mu.Unlock()
				return ctx.Err()
			}
		}
		// Not found: signal() already popped us and is mid-handoff (or
		// finished it) racing against our own cancellation. signal() always
		// sends on ch after popping it (ch is buffered, so the send never
		// blocks); receive that permit and forward it on, since we're not
		// using it.
		s.mu.Unlock()
		<-ch
		s.signal()
		return ctx.Err()
	}
}

// tryAcquire consumes a permit only if one is immediately available,
// without ever entering the waiter queue.
func (s *fairSemaphore) tryAcquire() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.available > 0 {
		s.available--
		s.outstanding++
		return true
	}
	return false
}

// signal releases one permit, waking the longest-waiting waiter if any.
func (s *fairSemaphore) signal() {
	s.mu.Lock()
	if len(s.waiters) > 0 {
		ch := s.waiters[0]
		s.waiters = s.waiters[1:]
		s.mu.Unlock()
		ch <- struct{}{}
		return
	}
	s.available++
	s.outstanding--
	s.mu.Unlock()
}

// outstandingCount returns the number of permits currently granted.
func (s *fairSemaphore) outstandingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.outstanding
}

// waitingCount returns the number of goroutines currently queued.
func (s *fairSemaphore) waitingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.waiters)
}
