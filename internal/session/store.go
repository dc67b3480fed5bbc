package session

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

var (
	// ErrNotFound is returned by a RemoteStore when no record matches.
	ErrNotFound = errors.New("session: not found")
	// ErrUnauthenticated is returned when a token does not resolve to a
	// live session.
	ErrUnauthenticated = errors.New("session: unauthenticated")
)

// RemoteStore is the session store shared by every server instance.
//
// A record is attached while a connection holds it and appears in the
// active queries. A detached record no longer has a connection but keeps
// its token resolvable until it expires, so the token can be presented again
// after a reconnect.
type RemoteStore interface {
	// Save inserts or replaces the record for s.ID as attached.
	Save(ctx context.Context, s Session) error
	// Detach takes s out of the active and per-user indexes and keeps it
	// resolvable by token.
	Detach(ctx context.Context, s Session) error
	// Delete removes the record for sessionID. Missing records are not an
	// error.
	Delete(ctx context.Context, sessionID string) error
	// Revoke deletes every detached record holding token.
	Revoke(ctx context.Context, token string) error
	// FindActive returns every attached record that is authenticated and
	// unexpired at now.
	FindActive(ctx context.Context, now time.Time) ([]Session, error)
	// FindActiveByUser is FindActive restricted to userID.
	FindActiveByUser(ctx context.Context, userID string, now time.Time) ([]Session, error)
	// FindByToken returns the most recent record still holding token,
	// attached or not and whatever its status, or ErrNotFound.
	FindByToken(ctx context.Context, token string) (Session, error)
}

// MemoryStore is a RemoteStore kept in process memory. It serves single
// instance deployments and tests; several directories may share one
// MemoryStore to simulate a cluster. Expired records are evicted by the
// active queries.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]Session
	attached map[string]struct{}
	tokens   map[string]map[string]struct{}
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]Session),
		attached: make(map[string]struct{}),
		tokens:   make(map[string]map[string]struct{}),
	}
}

func (m *MemoryStore) Save(_ context.Context, s Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if prev, ok := m.sessions[s.ID]; ok && prev.Token != s.Token {
		m.untoken(prev.Token, prev.ID)
	}
	m.sessions[s.ID] = s
	m.attached[s.ID] = struct{}{}
	if s.Token != "" {
		ids, ok := m.tokens[s.Token]
		if !ok {
			ids = make(map[string]struct{})
			m.tokens[s.Token] = ids
		}
		ids[s.ID] = struct{}{}
	}
	return nil
}

func (m *MemoryStore) Detach(_ context.Context, s Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.attached, s.ID)
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.drop(sessionID)
	return nil
}

func (m *MemoryStore) Revoke(_ context.Context, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id := range m.tokens[token] {
		if _, ok := m.attached[id]; !ok {
			m.drop(id)
		}
	}
	return nil
}

func (m *MemoryStore) FindActive(_ context.Context, now time.Time) ([]Session, error) {
	return m.filter(now, func(s Session) bool { return s.Active(now) }), nil
}

func (m *MemoryStore) FindActiveByUser(_ context.Context, userID string, now time.Time) ([]Session, error) {
	return m.filter(now, func(s Session) bool { return s.UserID == userID && s.Active(now) }), nil
}

func (m *MemoryStore) FindByToken(_ context.Context, token string) (Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var (
		found Session
		ok    bool
	)
	for id := range m.tokens[token] {
		s, exists := m.sessions[id]
		if !exists {
			continue
		}
		if !ok || newer(s, found) {
			found, ok = s, true
		}
	}
	if !ok {
		return Session{}, ErrNotFound
	}
	return found, nil
}

// Len returns the number of records and of indexed tokens.
func (m *MemoryStore) Len() (sessions, tokens int) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions), len(m.tokens)
}

// filter evicts records expired at now and returns the attached ones that
// satisfy keep.
func (m *MemoryStore) filter(now time.Time, keep func(Session) bool) []Session {
	m.mu.Lock()
	out := make([]Session, 0, len(m.attached))
	for id, s := range m.sessions {
		if s.Expired(now) {
			m.drop(id)
			continue
		}
		if _, ok := m.attached[id]; ok && keep(s) {
			out = append(out, s)
		}
	}
	m.mu.Unlock()

	sortSessions(out)
	return out
}

// drop removes a record and its index entries. The caller holds m.mu.
func (m *MemoryStore) drop(id string) {
	s, ok := m.sessions[id]
	if !ok {
		return
	}
	delete(m.sessions, id)
	delete(m.attached, id)
	m.untoken(s.Token, id)
}

func (m *MemoryStore) untoken(token, id string) {
	ids, ok := m.tokens[token]
	if !ok {
		return
	}
	delete(ids, id)
	if len(ids) == 0 {
		delete(m.tokens, token)
	}
}

func newer(a, b Session) bool {
	if a.StartDate.Equal(b.StartDate) {
		return a.ID > b.ID
	}
	return a.StartDate.After(b.StartDate)
}

func sortSessions(sessions []Session) {
	sort.SliceStable(sessions, func(i, j int) bool {
		if sessions[i].StartDate.Equal(sessions[j].StartDate) {
			return sessions[i].ID < sessions[j].ID
		}
		return sessions[i].StartDate.Before(sessions[j].StartDate)
	})
}

var _ RemoteStore = (*MemoryStore)(nil)
