// Package store defines the persistence contracts used by the authentication
// core and the chat message core. Implementations live in the memory and
// postgres subpackages.
package store

import (
	"context"
	"errors"

	"github.com/Tyrowin/socialchat/internal/domain"
)

var (
	// ErrNotFound is returned when the requested record does not exist.
	ErrNotFound = errors.New("store: not found")
	// ErrUsernameInUse is returned by UserStore.Create for duplicate usernames.
	ErrUsernameInUse = errors.New("store: username in use")
)

// UserStore persists users.
type UserStore interface {
	// FindByUsername returns the full user record, password hash included.
	FindByUsername(ctx context.Context, username string) (domain.User, error)
	FindByID(ctx context.Context, id string) (domain.User, error)
	// Create stores u, assigning an id when u.ID is empty, and returns the
	// stored record.
	Create(ctx context.Context, u domain.User) (domain.User, error)
	Exists(ctx context.Context, username string) (bool, error)
	// FindContacts returns every user except excludeUserID as contacts,
	// ordered by name.
	FindContacts(ctx context.Context, excludeUserID string) ([]domain.Contact, error)
	// FindDestinationType returns ContactUser when id names a user, or
	// ErrNotFound.
	FindDestinationType(ctx context.Context, id string) (domain.ContactType, error)
}

// GroupStore persists groups.
type GroupStore interface {
	// FindGroups returns the groups userID belongs to, ordered by name.
	FindGroups(ctx context.Context, userID string) ([]domain.Group, error)
	// FindDestinationType returns the contact type of group id, or
	// ErrNotFound.
	FindDestinationType(ctx context.Context, id string) (domain.ContactType, error)
	// FindMembers returns the member user ids of group id.
	FindMembers(ctx context.Context, groupID string) ([]string, error)
}

// MessageStore persists chat messages.
type MessageStore interface {
	Insert(ctx context.Context, m domain.ChatMessage) error
	// FindMessages returns the conversation between from and destinationID
	// ordered by date. For ContactUser the conversation covers both
	// directions; for groups it is every message addressed to the group.
	FindMessages(ctx context.Context, from, destinationID string, destinationType domain.ContactType) ([]domain.ChatMessage, error)
}
