package transfer

import (
	"context"
	"sync"
)

// DefaultWorkers is the default number of transfers allowed in flight.
const DefaultWorkers = 4

// slots bounds concurrent transfers with a buffered-channel semaphore.
// Unlike a request limiter it never gives up waiting; only ctx ends the wait.
type slots struct {
	sem chan struct{}

	mu     sync.Mutex
	active int
}

func newSlots(n int) *slots {
	if n <= 0 {
		n = DefaultWorkers
	}
	return &slots{sem: make(chan struct{}, n)}
}

// acquire blocks until a slot is free or ctx is done.
// The caller must release exactly once after a nil return.
func (s *slots) acquire(ctx context.Context) error {
	select {
	case s.sem <- struct{}{}:
		s.mu.Lock()
		s.active++
		s.mu.Unlock()
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *slots) release() {
	s.mu.Lock()
	s.active--
	s.mu.Unlock()
	<-s.sem
}

func (s *slots) inUse() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

func (s *slots) capacity() int {
	return cap(s.sem)
}
