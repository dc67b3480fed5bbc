// Package broadcast resolves logical targets (one session, everyone but one
// session, the audience of a chat message) into concrete writes. Sessions
// served by this process are written through the local connection hub;
// sessions owned by another instance are forwarded through a Relay.
package broadcast

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/Tyrowin/socialchat/internal/domain"
	"github.com/Tyrowin/socialchat/internal/metrics"
	"github.com/Tyrowin/socialchat/internal/protocol"
	"github.com/Tyrowin/socialchat/internal/session"
)

// ErrNoSubscriber is returned by a Relay when no process listens for the
// target instance any more.
var ErrNoSubscriber = errors.New("broadcast: no subscriber for instance")

// Connections writes frames to connections held by this process.
type Connections interface {
	// Deliver queues payload for connectionID. It fails when the connection
	// is unknown or cannot accept more frames.
	Deliver(connectionID string, payload []byte) error
	// Disconnect drops connectionID from the hub and closes it.
	Disconnect(connectionID string)
}

// Relay forwards frames to connections owned by other instances.
type Relay interface {
	Forward(ctx context.Context, instanceID, connectionID string, payload []byte) error
}

// Sessions is the part of the session directory the broadcaster needs.
type Sessions interface {
	FindActive(ctx context.Context) []session.Session
	FindActiveByUser(ctx context.Context, userID string) []session.Session
	Remove(ctx context.Context, connectionID string)
	Purge(ctx context.Context, s session.Session)
}

// GroupMembers resolves the members of a group destination.
type GroupMembers interface {
	FindMembers(ctx context.Context, groupID string) ([]string, error)
}

// Broadcaster fans frames out to sessions.
type Broadcaster struct {
	sessions   Sessions
	conns      Connections
	relay      Relay
	groups     GroupMembers
	instanceID string
	logger     *zap.Logger
	metrics    *metrics.Metrics
}

// Option configures a Broadcaster.
type Option func(*Broadcaster)

// WithRelay enables cross-process delivery.
func WithRelay(r Relay) Option {
	return func(b *Broadcaster) { b.relay = r }
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(b *Broadcaster) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// WithMetrics records delivery outcomes.
func WithMetrics(m *metrics.Metrics) Option {
	return func(b *Broadcaster) { b.metrics = m }
}

// New returns a Broadcaster for the given server instance.
func New(instanceID string, sessions Sessions, conns Connections, groups GroupMembers, opts ...Option) *Broadcaster {
	b := &Broadcaster{
		sessions:   sessions,
		conns:      conns,
		groups:     groups,
		instanceID: instanceID,
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// BroadcastToSession sends msg to s only.
func (b *Broadcaster) BroadcastToSession(ctx context.Context, s session.Session, msg protocol.Message) {
	frame, ok := b.encode(msg)
	if !ok {
		return
	}
	b.deliver(ctx, s, frame)
}

// BroadcastToAllExceptSession sends msg to every active session except the
// one on s's connection.
func (b *Broadcaster) BroadcastToAllExceptSession(ctx context.Context, s session.Session, msg protocol.Message) {
	frame, ok := b.encode(msg)
	if !ok {
		return
	}
	for _, target := range b.sessions.FindActive(ctx) {
		if target.ConnectionID == s.ConnectionID {
			continue
		}
		b.deliver(ctx, target, frame)
	}
}

// BroadcastChatMessage sends a chat message to its audience. For a user
// destination that is every session of the recipient and of the sender;
// for the all users group every active session; for a group every session
// of every member.
func (b *Broadcaster) BroadcastChatMessage(ctx context.Context, s session.Session, chat domain.ChatMessage) {
	frame, ok := b.encode(protocol.Message{Type: protocol.TypeUserMessage, Payload: chat})
	if !ok {
		return
	}

	var targets []session.Session
	switch chat.DestinationType {
	case domain.ContactUser:
		targets = append(targets, b.sessions.FindActiveByUser(ctx, chat.DestinationID)...)
		if chat.DestinationID != s.UserID {
			targets = append(targets, b.sessions.FindActiveByUser(ctx, s.UserID)...)
		}
	case domain.ContactAllUsersGroup:
		targets = b.sessions.FindActive(ctx)
	case domain.ContactGroup:
		members, err := b.groups.FindMembers(ctx, chat.DestinationID)
		if err != nil {
			b.logger.Warn("Failed to resolve group members",
				zap.String("group_id", chat.DestinationID), zap.Error(err))
			return
		}
		for _, userID := range members {
			targets = append(targets, b.sessions.FindActiveByUser(ctx, userID)...)
		}
	default:
		b.logger.Warn("Dropping chat message with unknown destination type",
			zap.String("message_id", chat.ID), zap.String("destination_type", string(chat.DestinationType)))
		return
	}

	seen := make(map[string]struct{}, len(targets))
	for _, target := range targets {
		if _, dup := seen[target.ConnectionID]; dup {
			continue
		}
		seen[target.ConnectionID] = struct{}{}
		b.deliver(ctx, target, frame)
	}
}

func (b *Broadcaster) encode(msg protocol.Message) ([]byte, bool) {
	frame, err := msg.Encode()
	if err != nil {
		b.logger.Error("Failed to encode outbound message",
			zap.String("type", string(msg.Type)), zap.Error(err))
		return nil, false
	}
	return frame, true
}

// deliver writes frame to one target. Failures never affect other targets.
func (b *Broadcaster) deliver(ctx context.Context, s session.Session, frame []byte) {
	if s.Server.InstanceID == "" || s.OwnedBy(b.instanceID) {
		b.deliverLocal(ctx, s, frame)
		return
	}
	b.deliverRemote(ctx, s, frame)
}

func (b *Broadcaster) deliverLocal(ctx context.Context, s session.Session, frame []byte) {
	if err := b.conns.Deliver(s.ConnectionID, frame); err != nil {
		b.metrics.Delivery(metrics.DeliveryFailed)
		b.logger.Info("Write failed; dropping connection",
			zap.String("connection_id", s.ConnectionID), zap.String("session_id", s.ID), zap.Error(err))
		b.conns.Disconnect(s.ConnectionID)
		b.sessions.Remove(ctx, s.ConnectionID)
		return
	}
	b.metrics.Delivery(metrics.DeliveryLocal)
}

func (b *Broadcaster) deliverRemote(ctx context.Context, s session.Session, frame []byte) {
	if b.relay == nil {
		b.metrics.Delivery(metrics.DeliveryFailed)
		b.logger.Debug("No relay configured; skipping remote session",
			zap.String("session_id", s.ID), zap.String("instance_id", s.Server.InstanceID))
		return
	}

	err := b.relay.Forward(ctx, s.Server.InstanceID, s.ConnectionID, frame)
	switch {
	case err == nil:
		b.metrics.Delivery(metrics.DeliveryRelayed)
	case errors.Is(err, ErrNoSubscriber):
		b.metrics.Delivery(metrics.DeliveryStale)
		b.logger.Info("Purging session of unreachable instance",
			zap.String("session_id", s.ID), zap.String("instance_id", s.Server.InstanceID))
		b.sessions.Purge(ctx, s)
	default:
		b.metrics.Delivery(metrics.DeliveryFailed)
		b.logger.Warn("Relay forward failed",
			zap.String("session_id", s.ID), zap.String("instance_id", s.Server.InstanceID), zap.Error(err))
	}
}
