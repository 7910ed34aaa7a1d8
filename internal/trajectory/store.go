package trajectory

import (
	"context"
	"sync"
	"time"

	"github.com/saviobatista/orbit-tracker/internal/types"
)

type velocityEntry struct {
	velocity types.Vector3
	seenAt   time.Time
}

// MemoryVelocityStore is an in-process VelocityStore. Entries not refreshed
// within ttl are treated as absent so a spacecraft that resumes reporting
// after a long gap starts again with zero acceleration.
type MemoryVelocityStore struct {
	mu      sync.Mutex
	entries map[int64]velocityEntry
	ttl     time.Duration
	now     clock
}

// NewMemoryVelocityStore creates a store; ttl <= 0 disables expiry
func NewMemoryVelocityStore(ttl time.Duration) *MemoryVelocityStore {
	return &MemoryVelocityStore{
		entries: make(map[int64]velocityEntry),
		ttl:     ttl,
		now:     time.Now,
	}
}

// GetVelocity returns the last velocity stored for a spacecraft
func (s *MemoryVelocityStore) GetVelocity(_ context.Context, externalID int64) (types.Vector3, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[externalID]
	if !ok {
		return types.Vector3{}, false, nil
	}
	if s.expired(e) {
		delete(s.entries, externalID)
		return types.Vector3{}, false, nil
	}
	return e.velocity, true, nil
}

// SetVelocity records the latest velocity for a spacecraft
func (s *MemoryVelocityStore) SetVelocity(_ context.Context, externalID int64, v types.Vector3) error {
	s.mu.Lock()
	s.entries[externalID] = velocityEntry{velocity: v, seenAt: s.now()}
	s.mu.Unlock()
	return nil
}

// Sweep removes expired entries and returns how many were dropped
func (s *MemoryVelocityStore) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	dropped := 0
	for id, e := range s.entries {
		if s.expired(e) {
			delete(s.entries, id)
			dropped++
		}
	}
	return dropped
}

// Len returns the number of cached velocities, expired or not
func (s *MemoryVelocityStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func (s *MemoryVelocityStore) expired(e velocityEntry) bool {
	return s.ttl > 0 && s.now().Sub(e.seenAt) > s.ttl
}

// keyedMutex serializes work per key. Lock entries are reference counted and
// removed once no goroutine holds or waits on them.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[int64]*keyLock
}

type keyLock struct {
	sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[int64]*keyLock)}
}

// Lock acquires the lock for key and returns its release function
func (k *keyedMutex) Lock(key int64) func() {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &keyLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.Lock()
	return func() {
		l.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}

func (k *keyedMutex) size() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}
