// Package memory provides in-process implementations of the store
// interfaces. They back single instance deployments without a database and
// the package tests.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/Tyrowin/socialchat/internal/domain"
	"github.com/Tyrowin/socialchat/internal/store"
)

// Users is an in-memory store.UserStore.
type Users struct {
	mu         sync.RWMutex
	byID       map[string]domain.User
	byUsername map[string]string
}

// NewUsers returns an empty user store.
func NewUsers() *Users {
	return &Users{
		byID:       make(map[string]domain.User),
		byUsername: make(map[string]string),
	}
}

func (s *Users) FindByUsername(_ context.Context, username string) (domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byUsername[username]
	if !ok {
		return domain.User{}, store.ErrNotFound
	}
	return s.byID[id], nil
}

func (s *Users) FindByID(_ context.Context, id string) (domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.byID[id]
	if !ok {
		return domain.User{}, store.ErrNotFound
	}
	return u, nil
}

func (s *Users) Create(_ context.Context, u domain.User) (domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, taken := s.byUsername[u.Username]; taken {
		return domain.User{}, store.ErrUsernameInUse
	}
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	s.byID[u.ID] = u
	s.byUsername[u.Username] = u.ID
	return u, nil
}

func (s *Users) Exists(_ context.Context, username string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.byUsername[username]
	return ok, nil
}

func (s *Users) FindContacts(_ context.Context, excludeUserID string) ([]domain.Contact, error) {
	s.mu.RLock()
	out := make([]domain.Contact, 0, len(s.byID))
	for id, u := range s.byID {
		if id != excludeUserID {
			out = append(out, u.Contact())
		}
	}
	s.mu.RUnlock()

	sortContacts(out)
	return out, nil
}

func (s *Users) FindDestinationType(_ context.Context, id string) (domain.ContactType, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.byID[id]; !ok {
		return "", store.ErrNotFound
	}
	return domain.ContactUser, nil
}

// Groups is an in-memory store.GroupStore seeded with the all users group.
type Groups struct {
	mu     sync.RWMutex
	groups map[string]domain.Group
}

// NewGroups returns a group store holding domain.AllUsersGroup and the
// given groups.
func NewGroups(groups ...domain.Group) *Groups {
	s := &Groups{groups: make(map[string]domain.Group)}
	all := domain.AllUsersGroup()
	s.groups[all.ID] = all
	for _, g := range groups {
		s.groups[g.ID] = g
	}
	return s
}

// Add stores g, replacing any group with the same id.
func (s *Groups) Add(g domain.Group) {
	s.mu.Lock()
	s.groups[g.ID] = g
	s.mu.Unlock()
}

func (s *Groups) FindGroups(_ context.Context, userID string) ([]domain.Group, error) {
	s.mu.RLock()
	out := make([]domain.Group, 0, len(s.groups))
	for _, g := range s.groups {
		if g.HasMember(userID) {
			out = append(out, g)
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return lessFold(out[i].Name, out[i].ID, out[j].Name, out[j].ID) })
	return out, nil
}

func (s *Groups) FindDestinationType(_ context.Context, id string) (domain.ContactType, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	g, ok := s.groups[id]
	if !ok {
		return "", store.ErrNotFound
	}
	return g.ContactType, nil
}

func (s *Groups) FindMembers(_ context.Context, groupID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	g, ok := s.groups[groupID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return append([]string(nil), g.Members...), nil
}

// Messages is an in-memory store.MessageStore.
type Messages struct {
	mu       sync.RWMutex
	messages []domain.ChatMessage
}

// NewMessages returns an empty message store.
func NewMessages() *Messages {
	return &Messages{}
}

func (s *Messages) Insert(_ context.Context, m domain.ChatMessage) error {
	s.mu.Lock()
	s.messages = append(s.messages, m)
	s.mu.Unlock()
	return nil
}

func (s *Messages) FindMessages(_ context.Context, from, destinationID string, destinationType domain.ContactType) ([]domain.ChatMessage, error) {
	s.mu.RLock()
	out := make([]domain.ChatMessage, 0)
	for _, m := range s.messages {
		if inConversation(m, from, destinationID, destinationType) {
			out = append(out, m)
		}
	}
	s.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out, nil
}

func inConversation(m domain.ChatMessage, from, destinationID string, destinationType domain.ContactType) bool {
	if destinationType.IsGroup() {
		return m.DestinationID == destinationID
	}
	if m.DestinationType != domain.ContactUser {
		return false
	}
	return (m.From == from && m.DestinationID == destinationID) ||
		(m.From == destinationID && m.DestinationID == from)
}

func sortContacts(contacts []domain.Contact) {
	sort.Slice(contacts, func(i, j int) bool {
		return lessFold(contacts[i].Name, contacts[i].ID, contacts[j].Name, contacts[j].ID)
	})
}

func lessFold(nameA, idA, nameB, idB string) bool {
	a, b := strings.ToLower(nameA), strings.ToLower(nameB)
	if a == b {
		return idA < idB
	}
	return a < b
}

var (
	_ store.UserStore    = (*Users)(nil)
	_ store.GroupStore   = (*Groups)(nil)
	_ store.MessageStore = (*Messages)(nil)
)
