package a2a

import (
	"context"
	"sync"
	"time"
)

// Session is the proof of a successful handshake. A session may outlive the
// connection that created it; a reconnecting client re-handshakes but the old
// session stays valid until its TTL expires or it is revoked.
type Session struct {
	Token     string    `json:"token"`
	Address   string    `json:"address"`
	TokenID   int64     `json:"tokenId"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Expired reports whether the session is past its TTL at the given instant.
func (s *Session) Expired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

// SessionStore abstracts session persistence so that single-instance
// deployments use the in-memory table while clustered deployments can plug in
// a shared store (see internal/store).
type SessionStore interface {
	Put(ctx context.Context, session *Session) error
	// Get returns nil, nil when the token is unknown or expired.
	Get(ctx context.Context, token string) (*Session, error)
	Delete(ctx context.Context, token string) error
	// Sweep removes expired sessions and returns how many were evicted.
	Sweep(ctx context.Context) (int, error)
	// Count returns the number of live sessions.
	Count(ctx context.Context) (int, error)
}

// MemorySessionStore is the default single-instance SessionStore.
type MemorySessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{sessions: make(map[string]*Session)}
}

func (s *MemorySessionStore) Put(_ context.Context, session *Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[session.Token] = session
	return nil
}

// Get treats an expired-but-present session as absent and lazily evicts it.
func (s *MemorySessionStore) Get(_ context.Context, token string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[token]
	if !ok {
		return nil, nil
	}
	if session.Expired(time.Now()) {
		delete(s.sessions, token)
		return nil, nil
	}
	return session, nil
}

func (s *MemorySessionStore) Delete(_ context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, token)
	return nil
}

func (s *MemorySessionStore) Sweep(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	evicted := 0
	for token, session := range s.sessions {
		if session.Expired(now) {
			delete(s.sessions, token)
			evicted++
		}
	}
	return evicted, nil
}

func (s *MemorySessionStore) Count(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions), nil
}
