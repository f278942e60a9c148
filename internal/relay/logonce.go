package relay

import "sync"

// onceSet remembers keys for the lifetime of the process so that high rate
// conditions are logged a single time.
type onceSet struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

func newOnceSet() *onceSet {
	return &onceSet{seen: make(map[string]struct{})}
}

// First reports whether key is seen for the first time and marks it.
func (s *onceSet) First(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.seen[key]; ok {
		return false
	}
	s.seen[key] = struct{}{}
	return true
}

func (s *onceSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.seen)
}
