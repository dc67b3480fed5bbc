// Package chat implements the chat message core: persisting and fanning out
// user messages, contact lists, new-contact announcements and chat history.
//
// Handlers run synchronously; the dispatcher schedules them on the worker
// pool keyed by connection so messages from one session keep their order.
package chat

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Tyrowin/socialchat/internal/domain"
	"github.com/Tyrowin/socialchat/internal/metrics"
	"github.com/Tyrowin/socialchat/internal/protocol"
	"github.com/Tyrowin/socialchat/internal/session"
	"github.com/Tyrowin/socialchat/internal/store"
)

const defaultMimeType = "text/plain"

// Broadcaster delivers chat frames.
type Broadcaster interface {
	BroadcastToSession(ctx context.Context, s session.Session, msg protocol.Message)
	BroadcastToAllExceptSession(ctx context.Context, s session.Session, msg protocol.Message)
	BroadcastChatMessage(ctx context.Context, s session.Session, chat domain.ChatMessage)
}

// Service is the chat message core.
type Service struct {
	users       store.UserStore
	groups      store.GroupStore
	messages    store.MessageStore
	broadcaster Broadcaster
	now         func() time.Time
	logger      *zap.Logger
	metrics     *metrics.Metrics
}

// Option configures a Service.
type Option func(*Service)

// WithClock overrides the time source used to stamp messages.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetrics counts persisted messages.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// NewService wires the chat message core.
func NewService(users store.UserStore, groups store.GroupStore, messages store.MessageStore, broadcaster Broadcaster, opts ...Option) *Service {
	s := &Service{
		users:       users,
		groups:      groups,
		messages:    messages,
		broadcaster: broadcaster,
		now:         time.Now,
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// HandleChatMessage stamps, persists and broadcasts a message sent by the
// user of current. The sender is always the session's user.
func (s *Service) HandleChatMessage(ctx context.Context, current session.Session, req protocol.ChatMessageRequest) {
	if req.DestinationID == "" || !req.DestinationType.Valid() {
		s.broadcaster.BroadcastToSession(ctx, current, protocol.Message{
			Type:    protocol.TypeUserMessage,
			Payload: protocol.NewError(protocol.StatusInvalidRequest, "destinationId and a valid destinationType are required").Payload(),
		})
		return
	}

	mimeType := strings.TrimSpace(req.MimeType)
	if mimeType == "" {
		mimeType = defaultMimeType
	}
	msg := domain.ChatMessage{
		ID:              uuid.NewString(),
		From:            current.UserID,
		DestinationID:   req.DestinationID,
		DestinationType: req.DestinationType,
		Content:         req.Content,
		MimeType:        mimeType,
		Date:            s.now().UTC(),
	}

	if err := s.messages.Insert(ctx, msg); err != nil {
		s.logger.Error("Failed to persist chat message",
			zap.String("message_id", msg.ID), zap.String("from", msg.From), zap.Error(err))
		return
	}
	s.metrics.ChatMessage()
	s.broadcaster.BroadcastChatMessage(ctx, current, msg)
}

// HandleContactsMessage sends current every other user followed by the
// groups current's user belongs to.
func (s *Service) HandleContactsMessage(ctx context.Context, current session.Session) {
	contacts, err := s.contacts(ctx, current.UserID)
	if err != nil {
		s.logger.Error("Failed to load contacts", zap.String("user_id", current.UserID), zap.Error(err))
		s.broadcaster.BroadcastToSession(ctx, current, protocol.Message{
			Type:    protocol.TypeContactsList,
			Payload: protocol.ErrorPayloadOf(err),
		})
		return
	}
	s.broadcaster.BroadcastToSession(ctx, current, protocol.Message{Type: protocol.TypeContactsList, Payload: contacts})
}

func (s *Service) contacts(ctx context.Context, userID string) ([]domain.Contact, error) {
	users, err := s.users.FindContacts(ctx, userID)
	if err != nil {
		return nil, err
	}
	groups, err := s.groups.FindGroups(ctx, userID)
	if err != nil {
		return nil, err
	}

	out := make([]domain.Contact, 0, len(users)+len(groups))
	out = append(out, users...)
	for _, g := range groups {
		out = append(out, g.Contact())
	}
	return out, nil
}

// HandleNewContact announces contact to every active session except
// current's connection.
func (s *Service) HandleNewContact(ctx context.Context, contact domain.Contact, current session.Session) {
	s.broadcaster.BroadcastToAllExceptSession(ctx, current, protocol.Message{
		Type:    protocol.TypeNewContactRegistered,
		Payload: []domain.Contact{contact},
	})
}

// HandleChatHistory sends current the conversation with req.DestinationID.
// Unknown destinations get an empty history.
func (s *Service) HandleChatHistory(ctx context.Context, current session.Session, req protocol.ChatHistoryRequest) {
	history, err := s.history(ctx, current.UserID, req.DestinationID)
	if err != nil {
		s.logger.Error("Failed to load chat history",
			zap.String("user_id", current.UserID), zap.String("destination_id", req.DestinationID), zap.Error(err))
		s.broadcaster.BroadcastToSession(ctx, current, protocol.Message{
			Type:    protocol.TypeChatHistory,
			Payload: protocol.ErrorPayloadOf(err),
		})
		return
	}
	s.broadcaster.BroadcastToSession(ctx, current, protocol.Message{
		Type: protocol.TypeChatHistory,
		Payload: protocol.ChatHistoryResponse{
			DestinationID: req.DestinationID,
			ChatHistory:   history,
		},
	})
}

func (s *Service) history(ctx context.Context, userID, destinationID string) ([]domain.ChatMessage, error) {
	kind, err := s.destinationType(ctx, destinationID)
	if errors.Is(err, store.ErrNotFound) {
		return []domain.ChatMessage{}, nil
	}
	if err != nil {
		return nil, err
	}
	return s.messages.FindMessages(ctx, userID, destinationID, kind)
}

// destinationType asks the user store first, then the group store.
func (s *Service) destinationType(ctx context.Context, id string) (domain.ContactType, error) {
	if id == "" {
		return "", store.ErrNotFound
	}
	kind, err := s.users.FindDestinationType(ctx, id)
	if !errors.Is(err, store.ErrNotFound) {
		return kind, err
	}
	return s.groups.FindDestinationType(ctx, id)
}
