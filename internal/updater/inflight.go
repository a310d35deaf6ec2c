package updater

import (
	"context"
	"sync"
)

// inflightSet tracks cancellation functions for executing requests.
type inflightSet struct {
	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

func (s *inflightSet) add(id string, cancel context.CancelFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancels == nil {
		s.cancels = make(map[string]context.CancelFunc)
	}
	s.cancels[id] = cancel
}

func (s *inflightSet) remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.cancels, id)
}

func (s *inflightSet) cancelAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, cancel := range s.cancels {
		cancel()
		delete(s.cancels, id)
	}
}
