package gobtcmini

import (
	"sync"
	"time"

	"github.com/lightningnetwork/lnd/clock"
)

// retryScheduler runs at most one delayed task per key. Scheduling a key
// again replaces the pending task; cancelled tasks never run.
type retryScheduler struct {
	clock clock.Clock

	mu      sync.Mutex
	pending map[string]chan struct{}
	quit    chan struct{}
	stopped bool
	wg      sync.WaitGroup
}

func newRetryScheduler(c clock.Clock) *retryScheduler {
	return &retryScheduler{
		clock:   c,
		pending: make(map[string]chan struct{}),
		quit:    make(chan struct{}),
	}
}

// Schedule runs task after delay unless key is cancelled or rescheduled first.
func (s *retryScheduler) Schedule(key string, delay time.Duration, task func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return
	}
	if cancel, ok := s.pending[key]; ok {
		close(cancel)
	}
	cancel := make(chan struct{})
	s.pending[key] = cancel
	fire := s.clock.TickAfter(delay)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		select {
		case <-fire:
		case <-cancel:
			return
		case <-s.quit:
			return
		}

		s.mu.Lock()
		current, ok := s.pending[key]
		if !ok || current != cancel {
			s.mu.Unlock()
			return
		}
		delete(s.pending, key)
		s.mu.Unlock()

		task()
	}()
}

// Cancel drops the pending task for key and reports whether one existed.
func (s *retryScheduler) Cancel(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	cancel, ok := s.pending[key]
	if !ok {
		return false
	}
	close(cancel)
	delete(s.pending, key)
	return true
}

// Pending reports whether a task is waiting for key.
func (s *retryScheduler) Pending(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.pending[key]
	return ok
}

// Stop cancels all pending tasks and waits for running ones.
func (s *retryScheduler) Stop() {
	s.mu.Lock()
	if !s.stopped {
		s.stopped = true
		close(s.quit)
		s.pending = make(map[string]chan struct{})
	}
	s.mu.Unlock()
	s.wg.Wait()
}
