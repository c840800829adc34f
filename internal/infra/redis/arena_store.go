package redis

import (
	"context"
	"sync"
	"time"

	"arena-engine/internal/arena"
	"github.com/redis/go-redis/v9"
)

// ArenaStore is a Redis-aware registry of live machines.
// Notes:
//   - Machines themselves stay in-process; the engine's timers and
//     broadcast fan-out are not serializable.
//   - Redis marks play-through liveness so operators (and a future
//     cross-instance router) can see who is mid-exam.
type ArenaStore struct {
	client   *redis.Client
	ttl      time.Duration
	mu       sync.RWMutex
	machines map[string]*arena.Machine
}

func NewArenaStore(client *redis.Client, ttl time.Duration) *ArenaStore {
	return &ArenaStore{
		client:   client,
		ttl:      ttl,
		machines: make(map[string]*arena.Machine),
	}
}

func (s *ArenaStore) GetOrCreate(key string, create func() *arena.Machine) *arena.Machine {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m, ok := s.machines[key]; ok {
		return m
	}
	m := create()
	s.machines[key] = m
	// best-effort liveness marker
	_ = s.client.Set(context.Background(), s.key(key), "1", s.ttl).Err()
	return m
}

func (s *ArenaStore) Get(key string) (*arena.Machine, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.machines[key]
	return m, ok
}

func (s *ArenaStore) Delete(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.machines, key)
	_ = s.client.Del(context.Background(), s.key(key)).Err()
}

func (s *ArenaStore) key(k string) string {
	return "arena:live:" + k
}
