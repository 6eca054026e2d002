// Package schedule provides named, cancellable one-shot timers. Timer-based
// side effects (auto-read delays, read-mark debounces) are keyed by message
// or session id so a superseding event can cancel the stale task
// deterministically instead of racing a bare time.AfterFunc.
package schedule

import (
	"sync"
	"time"
)

// Scheduler owns a set of pending tasks keyed by string.
type Scheduler struct {
	mu      sync.Mutex
	timers  map[string]*time.Timer
	stopped bool
}

// NewScheduler creates an empty scheduler.
func NewScheduler() *Scheduler {
	return &Scheduler{timers: make(map[string]*time.Timer)}
}

// Schedule arms fn to run after d. An existing task under the same key is
// cancelled and replaced.
func (s *Scheduler) Schedule(key string, d time.Duration, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	if t, ok := s.timers[key]; ok {
		t.Stop()
	}
	s.timers[key] = time.AfterFunc(d, func() {
		s.mu.Lock()
		delete(s.timers, key)
		s.mu.Unlock()
		fn()
	})
}

// Cancel stops a pending task. Reports whether a task was pending.
func (s *Scheduler) Cancel(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.timers[key]
	if !ok {
		return false
	}
	delete(s.timers, key)
	return t.Stop()
}

// Pending reports whether a task is armed under key.
func (s *Scheduler) Pending(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.timers[key]
	return ok
}

// Stop cancels every pending task and rejects new ones.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	for key, t := range s.timers {
		t.Stop()
		delete(s.timers, key)
	}
}
