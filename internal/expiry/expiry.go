package expiry

import (
	"sync"
	"time"
)

// Handle identifies a posted callback. The zero Handle is never issued.
type Handle uint64

// Service schedules single-shot callbacks.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
//   - Callbacks run on their own goroutine and must not assume any lock is held.
type Service struct {
	mu      sync.Mutex
	next    Handle
	pending map[Handle]*time.Timer
	closed  bool
}

// New creates an empty timer service.
func New() *Service {
	return &Service{
		pending: make(map[Handle]*time.Timer),
	}
}

// Post schedules fn to run once after delay.
//
// The returned handle can be passed to Cancel. After Close, Post returns a
// handle whose callback never fires.
func (s *Service) Post(delay time.Duration, fn func()) Handle {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.next++
	h := s.next
	if s.closed {
		return h
	}

	s.pending[h] = time.AfterFunc(delay, func() {
		// Only the goroutine that removes the entry may run the callback.
		s.mu.Lock()
		_, ok := s.pending[h]
		delete(s.pending, h)
		s.mu.Unlock()

		if ok {
			fn()
		}
	})
	return h
}

// Cancel stops a pending callback.
// Returns true if the callback had not fired yet and will now never fire.
func (s *Service) Cancel(h Handle) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.pending[h]
	if !ok {
		return false
	}
	delete(s.pending, h)
	t.Stop()
	return true
}

// Pending returns the number of callbacks that are armed and not yet fired.
func (s *Service) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Close cancels every pending callback. Later posts never fire.
// Safe to call multiple times.
func (s *Service) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for h, t := range s.pending {
		t.Stop()
		delete(s.pending, h)
	}
	s.closed = true
}
