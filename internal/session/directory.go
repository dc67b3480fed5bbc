package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Tyrowin/socialchat/internal/domain"
)

// Directory is the authoritative record of active sessions. It is safe for
// concurrent use; per-entry operations are independent and the local lock is
// never held across a call into the RemoteStore.
type Directory struct {
	mu    sync.RWMutex
	local map[string]Session // by connection id

	remote     RemoteStore
	instanceID string
	now        func() time.Time
	logger     *zap.Logger
}

// Option configures a Directory.
type Option func(*Directory)

// WithClock overrides the time source used for expiry checks.
func WithClock(now func() time.Time) Option {
	return func(d *Directory) { d.now = now }
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(d *Directory) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithInstanceID tells the directory which server instance it runs in.
// Remote records owned by this instance but missing from the local cache
// are stale and are left out of query results.
func WithInstanceID(id string) Option {
	return func(d *Directory) { d.instanceID = id }
}

// NewDirectory returns a Directory backed by remote. A nil remote store is
// replaced with a private MemoryStore.
func NewDirectory(remote RemoteStore, opts ...Option) *Directory {
	if remote == nil {
		remote = NewMemoryStore()
	}
	d := &Directory{
		local:  make(map[string]Session),
		remote: remote,
		now:    time.Now,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Put inserts or replaces the local entry for s.ConnectionID and reports
// whether it was newly inserted.
func (d *Directory) Put(s Session) bool {
	_, replaced := d.swap(s)
	return !replaced
}

// Get returns the local entry for connectionID.
func (d *Directory) Get(connectionID string) (Session, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	s, ok := d.local[connectionID]
	return s, ok
}

// Remove deletes the local entry for connectionID when its transport
// closes. The shared record is detached rather than deleted so its token
// can reauthenticate a new connection until the session expires. It is a
// no-op when the entry is absent.
func (d *Directory) Remove(ctx context.Context, connectionID string) {
	d.mu.Lock()
	s, ok := d.local[connectionID]
	delete(d.local, connectionID)
	d.mu.Unlock()

	if !ok || s.ID == "" || s.Status != StatusAuthenticated {
		return
	}
	d.detachRemote(ctx, s)
}

// Logoff ends the session of connectionID. Its shared record is deleted and
// the token stops resolving unless another connection still holds it.
func (d *Directory) Logoff(ctx context.Context, connectionID string) {
	d.mu.Lock()
	s, ok := d.local[connectionID]
	delete(d.local, connectionID)
	d.mu.Unlock()

	if !ok || s.ID == "" || s.Status != StatusAuthenticated {
		return
	}
	d.deleteRemote(ctx, s.ID)
	if s.Token == "" {
		return
	}
	if err := d.remote.Revoke(ctx, s.Token); err != nil {
		d.logger.Warn("Failed to revoke session token",
			zap.String("session_id", s.ID), zap.Error(err))
	}
}

// Purge drops a stale session. The local entry is only removed if it still
// refers to s.ID. An expired record is deleted from the shared store; an
// unexpired one whose connection is gone is detached.
func (d *Directory) Purge(ctx context.Context, s Session) {
	d.mu.Lock()
	if cur, ok := d.local[s.ConnectionID]; ok && cur.ID == s.ID {
		delete(d.local, s.ConnectionID)
	}
	d.mu.Unlock()

	if s.ID == "" {
		return
	}
	if s.Expired(d.now()) {
		d.deleteRemote(ctx, s.ID)
		return
	}
	d.detachRemote(ctx, s)
}

// FindActive returns every active session: local entries first, then
// remote entries not already represented locally.
func (d *Directory) FindActive(ctx context.Context) []Session {
	now := d.now()
	local := d.snapshot(func(s Session) bool { return s.Active(now) })

	remote, err := d.remote.FindActive(ctx, now)
	if err != nil {
		d.logger.Warn("Remote session lookup failed; using local sessions only", zap.Error(err))
		return local
	}
	return d.merge(local, remote, now)
}

// FindActiveByUser is FindActive restricted to userID.
func (d *Directory) FindActiveByUser(ctx context.Context, userID string) []Session {
	now := d.now()
	local := d.snapshot(func(s Session) bool { return s.UserID == userID && s.Active(now) })

	remote, err := d.remote.FindActiveByUser(ctx, userID, now)
	if err != nil {
		d.logger.Warn("Remote session lookup failed; using local sessions only",
			zap.String("user_id", userID), zap.Error(err))
		return local
	}
	return d.merge(local, remote, now)
}

// Authenticate binds s to user and token and persists it locally and in the
// shared store so other processes can resolve the token.
func (d *Directory) Authenticate(ctx context.Context, s Session, user domain.User, token string) error {
	if user.ID == "" {
		return errors.New("session: authenticate requires a user id")
	}
	s.UserID = user.ID
	s.Token = token
	s.Status = StatusAuthenticated
	if s.Type == "" {
		s.Type = TypeAuthenticate
	}
	return d.store(ctx, s)
}

// Reauthenticate validates token against a live session and, on success,
// stores s as a new session for the same user and token. It returns the
// owning user id, or ErrUnauthenticated. Expired records found on the way
// are purged and never revived.
func (d *Directory) Reauthenticate(ctx context.Context, s Session, token string) (string, error) {
	if _, _, err := ParseToken(token); err != nil {
		return "", ErrUnauthenticated
	}

	now := d.now()
	owner, err := d.lookupToken(ctx, token, now)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return "", ErrUnauthenticated
		}
		return "", fmt.Errorf("resolve token: %w", err)
	}
	if !owner.Active(now) {
		if owner.Expired(now) {
			d.logger.Info("Purging expired session", zap.String("session_id", owner.ID))
			d.Purge(ctx, owner)
		}
		return "", ErrUnauthenticated
	}

	s.UserID = owner.UserID
	s.Token = token
	s.Status = StatusAuthenticated
	s.Type = TypeReauthenticate
	if err := d.store(ctx, s); err != nil {
		return "", err
	}
	return owner.UserID, nil
}

// lookupToken prefers an active local session holding token and falls back
// to the shared store.
func (d *Directory) lookupToken(ctx context.Context, token string, now time.Time) (Session, error) {
	var (
		found Session
		ok    bool
	)
	d.mu.RLock()
	for _, s := range d.local {
		if s.Token == token && s.Active(now) && (!ok || s.StartDate.After(found.StartDate)) {
			found, ok = s, true
		}
	}
	d.mu.RUnlock()

	if ok {
		return found, nil
	}
	return d.remote.FindByToken(ctx, token)
}

// store writes s to the local cache and the shared store. A session it
// replaces on the same connection is removed from the shared store so peers
// never see two sessions for one connection.
func (d *Directory) store(ctx context.Context, s Session) error {
	if s.ID == "" || s.ConnectionID == "" {
		return errors.New("session: id and connection id are required")
	}

	prev, replaced := d.swap(s)
	if err := d.remote.Save(ctx, s); err != nil {
		d.restore(s, prev, replaced)
		return fmt.Errorf("save session %s: %w", s.ID, err)
	}

	if replaced && prev.ID != "" && prev.ID != s.ID && prev.Status == StatusAuthenticated {
		d.deleteRemote(ctx, prev.ID)
	}
	return nil
}

func (d *Directory) swap(s Session) (Session, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	prev, ok := d.local[s.ConnectionID]
	d.local[s.ConnectionID] = s
	return prev, ok
}

func (d *Directory) restore(s, prev Session, replaced bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if cur, ok := d.local[s.ConnectionID]; !ok || cur.ID != s.ID {
		return
	}
	if replaced {
		d.local[s.ConnectionID] = prev
	} else {
		delete(d.local, s.ConnectionID)
	}
}

func (d *Directory) deleteRemote(ctx context.Context, sessionID string) {
	if err := d.remote.Delete(ctx, sessionID); err != nil {
		d.logger.Warn("Failed to delete shared session record",
			zap.String("session_id", sessionID), zap.Error(err))
	}
}

func (d *Directory) detachRemote(ctx context.Context, s Session) {
	if err := d.remote.Detach(ctx, s); err != nil {
		d.logger.Warn("Failed to detach shared session record",
			zap.String("session_id", s.ID), zap.Error(err))
	}
}

func (d *Directory) snapshot(keep func(Session) bool) []Session {
	d.mu.RLock()
	out := make([]Session, 0, len(d.local))
	for _, s := range d.local {
		if keep(s) {
			out = append(out, s)
		}
	}
	d.mu.RUnlock()

	sortSessions(out)
	return out
}

// merge appends to local the remote sessions that are active, not already
// known locally (same session id and user id), and not stale records of
// this instance.
func (d *Directory) merge(local, remote []Session, now time.Time) []Session {
	out := make([]Session, 0, len(local)+len(remote))
	out = append(out, local...)

	for _, r := range remote {
		if !r.Active(now) {
			continue
		}
		if d.instanceID != "" && r.OwnedBy(d.instanceID) {
			if !containsSession(local, r) {
				d.logger.Debug("Skipping stale session owned by this instance", zap.String("session_id", r.ID))
			}
			continue
		}
		if containsSession(out, r) {
			continue
		}
		out = append(out, r)
	}
	return out
}

func containsSession(sessions []Session, s Session) bool {
	for _, existing := range sessions {
		if existing.sameAs(s) {
			return true
		}
	}
	return false
}
