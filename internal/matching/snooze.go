package matching

import (
	"sort"
	"sync"
	"time"
)

// DefaultCooldown is how long a declined trip stays hidden from a driver.
const DefaultCooldown = 60 * time.Second

// SnoozeSet hides declined trips from one driver for a cool-down. It is
// process-local and never persisted; entries expire lazily on read.
type SnoozeSet struct {
	Cooldown time.Duration
	Now      func() time.Time

	mu    sync.Mutex
	until map[string]time.Time
}

func NewSnoozeSet(cooldown time.Duration) *SnoozeSet {
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	return &SnoozeSet{Cooldown: cooldown, Now: time.Now, until: make(map[string]time.Time)}
}

func (s *SnoozeSet) now() time.Time {
	if s.Now == nil {
		return time.Now()
	}
	return s.Now()
}

func (s *SnoozeSet) Snooze(tripID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.until == nil {
		s.until = make(map[string]time.Time)
	}
	s.until[tripID] = s.now().Add(s.Cooldown)
}

func (s *SnoozeSet) Contains(tripID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.purge()
	_, ok := s.until[tripID]
	return ok
}

// IDs returns the currently snoozed trip ids in sorted order.
func (s *SnoozeSet) IDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.purge()
	out := make([]string, 0, len(s.until))
	for id := range s.until {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (s *SnoozeSet) purge() {
	now := s.now()
	for id, t := range s.until {
		if !now.Before(t) {
			delete(s.until, id)
		}
	}
}
