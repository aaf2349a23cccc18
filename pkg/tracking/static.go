package tracking

import (
	"sync"
	"time"
)

// Static is a Provider whose sample is set directly. It backs dry runs,
// teleoperation without a tracker and tests.
type Static struct {
	mu     sync.RWMutex
	sample Sample
	ok     bool
}

// NewStatic returns an empty provider; Latest reports !ok until Set is called.
func NewStatic() *Static {
	return &Static{}
}

// Set replaces the current sample. A zero At is stamped with time.Now.
func (s *Static) Set(sample Sample) {
	if sample.At.IsZero() {
		sample.At = time.Now()
	}
	s.mu.Lock()
	s.sample = sample
	s.ok = true
	s.mu.Unlock()
}

// Update modifies the current sample in place.
func (s *Static) Update(fn func(*Sample)) {
	s.mu.Lock()
	fn(&s.sample)
	s.ok = true
	s.mu.Unlock()
}

// Latest implements Provider.
func (s *Static) Latest() (Sample, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sample, s.ok
}

var _ Provider = (*Static)(nil)
