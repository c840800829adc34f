package memory

import (
	"sync"

	"arena-engine/internal/arena"
)

// ArenaStore is an in-memory registry of live machines, keyed by
// lesson+player. One machine exists per player per lesson at a time; a
// quit drops it, a retry reuses it.
type ArenaStore struct {
	mu       sync.RWMutex
	machines map[string]*arena.Machine
}

func NewArenaStore() *ArenaStore {
	return &ArenaStore{
		machines: make(map[string]*arena.Machine),
	}
}

// GetOrCreate returns the live machine for key, building one via create on
// first use.
func (s *ArenaStore) GetOrCreate(key string, create func() *arena.Machine) *arena.Machine {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m, ok := s.machines[key]; ok {
		return m
	}
	m := create()
	s.machines[key] = m
	return m
}

func (s *ArenaStore) Get(key string) (*arena.Machine, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.machines[key]
	return m, ok
}

// Delete drops the machine for key, if any.
func (s *ArenaStore) Delete(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.machines, key)
}
