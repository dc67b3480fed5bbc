package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
)

func storedSession(userID string, start time.Time) Session {
	id := uuid.NewString()
	return Session{
		ID:           id,
		ConnectionID: uuid.NewString(),
		UserID:       userID,
		Status:       StatusAuthenticated,
		Type:         TypeAuthenticate,
		Token:        NewToken(userID, id),
		StartDate:    start,
		ExpiryDate:   start.Add(time.Hour),
	}
}

// TestMemoryStoreReleasesRecords runs many login cycles and expects the
// store to end up empty.
func TestMemoryStoreReleasesRecords(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()

	t.Run("logoff", func(t *testing.T) {
		store := NewMemoryStore()
		d := newTestDirectory(t, store, "a", clock)
		for i := 0; i < 1000; i++ {
			conn := uuid.NewString()
			authenticate(t, d, clock, "a", conn, "u1")
			d.Logoff(ctx, conn)
		}
		if n, tokens := store.Len(); n != 0 || tokens != 0 {
			t.Errorf("store holds %d records and %d tokens", n, tokens)
		}
	})

	t.Run("disconnect then expiry", func(t *testing.T) {
		store := NewMemoryStore()
		d := newTestDirectory(t, store, "a", clock)
		for i := 0; i < 1000; i++ {
			conn := uuid.NewString()
			authenticate(t, d, clock, "a", conn, "u1")
			d.Remove(ctx, conn)
		}
		if n, _ := store.Len(); n != 1000 {
			t.Fatalf("detached records = %d, want 1000 until they expire", n)
		}

		if _, err := store.FindActive(ctx, clock.Now().Add(2*time.Hour)); err != nil {
			t.Fatalf("FindActive: %v", err)
		}
		if n, tokens := store.Len(); n != 0 || tokens != 0 {
			t.Errorf("store holds %d records and %d tokens after expiry", n, tokens)
		}
	})
}

// TestMemoryStoreDeleteReleasesToken deletes the only record of a token.
func TestMemoryStoreDeleteReleasesToken(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	s := storedSession("u1", time.Now())

	if err := store.Save(ctx, s); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := store.Delete(ctx, s.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := store.FindByToken(ctx, s.Token); !errors.Is(err, ErrNotFound) {
		t.Errorf("FindByToken error = %v, want ErrNotFound", err)
	}
	if _, tokens := store.Len(); tokens != 0 {
		t.Errorf("tokens = %d, want 0", tokens)
	}
}

// TestMemoryStoreTokenFallsBack deletes the newest record holding a token
// and expects the older one to resolve.
func TestMemoryStoreTokenFallsBack(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	now := time.Now()

	older := storedSession("u1", now)
	newer := storedSession("u1", now.Add(time.Second))
	newer.Token = older.Token
	for _, s := range []Session{older, newer} {
		if err := store.Save(ctx, s); err != nil {
			t.Fatalf("Save: %v", err)
		}
	}

	if got, _ := store.FindByToken(ctx, older.Token); got.ID != newer.ID {
		t.Fatalf("FindByToken = %s, want the newest record %s", got.ID, newer.ID)
	}
	if err := store.Delete(ctx, newer.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	got, err := store.FindByToken(ctx, older.Token)
	if err != nil || got.ID != older.ID {
		t.Errorf("FindByToken = %s, %v, want %s", got.ID, err, older.ID)
	}
}

// TestMemoryStoreDetach hides a record from active queries without losing
// its token, and Revoke then removes it.
func TestMemoryStoreDetach(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	now := time.Now()
	s := storedSession("u1", now)

	if err := store.Save(ctx, s); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := store.Detach(ctx, s); err != nil {
		t.Fatalf("Detach: %v", err)
	}

	if got, _ := store.FindActive(ctx, now); len(got) != 0 {
		t.Errorf("FindActive = %+v, want none", got)
	}
	if got, _ := store.FindActiveByUser(ctx, "u1", now); len(got) != 0 {
		t.Errorf("FindActiveByUser = %+v, want none", got)
	}
	if got, err := store.FindByToken(ctx, s.Token); err != nil || got.ID != s.ID {
		t.Fatalf("FindByToken = %+v, %v", got, err)
	}

	if err := store.Revoke(ctx, s.Token); err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	if _, err := store.FindByToken(ctx, s.Token); !errors.Is(err, ErrNotFound) {
		t.Errorf("FindByToken after Revoke error = %v, want ErrNotFound", err)
	}
}
