package auth

import (
	"context"
	"sync"
	"time"

	"github.com/loopxjstar/Get-Gmails/core/domain"
	"github.com/loopxjstar/Get-Gmails/core/port/out"
)

// MemorySessionStore is the default process-local session store. Entries
// carry an expiry and a janitor evicts them, so the table never grows
// without bound.
type MemorySessionStore struct {
	mu       sync.RWMutex
	sessions map[string]memoryEntry

	stopOnce sync.Once
	stop     chan struct{}
}

type memoryEntry struct {
	session   domain.Session
	expiresAt time.Time
}

// NewMemorySessionStore creates a store whose janitor sweeps at the given
// interval. A non-positive interval disables the janitor (tests).
func NewMemorySessionStore(sweepInterval time.Duration) *MemorySessionStore {
	s := &MemorySessionStore{
		sessions: make(map[string]memoryEntry),
		stop:     make(chan struct{}),
	}
	if sweepInterval > 0 {
		go s.janitor(sweepInterval)
	}
	return s
}

func (s *MemorySessionStore) Put(_ context.Context, sess *domain.Session, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sess.ID] = memoryEntry{session: *sess, expiresAt: time.Now().Add(ttl)}
	return nil
}

func (s *MemorySessionStore) Get(_ context.Context, id string) (*domain.Session, error) {
	s.mu.RLock()
	entry, ok := s.sessions[id]
	s.mu.RUnlock()
	if !ok || time.Now().After(entry.expiresAt) {
		return nil, out.ErrSessionNotFound
	}
	sess := entry.session
	return &sess, nil
}

func (s *MemorySessionStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
	return nil
}

// Close stops the janitor.
func (s *MemorySessionStore) Close() {
	s.stopOnce.Do(func() { close(s.stop) })
}

func (s *MemorySessionStore) janitor(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			now := time.Now()
			s.mu.Lock()
			for id, entry := range s.sessions {
				if now.After(entry.expiresAt) {
					delete(s.sessions, id)
				}
			}
			s.mu.Unlock()
		}
	}
}

var _ out.SessionStore = (*MemorySessionStore)(nil)
