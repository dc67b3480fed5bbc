package server

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/Tyrowin/socialchat/internal/protocol"
	"github.com/Tyrowin/socialchat/internal/session"
)

// Directory is the part of the session directory the transport uses.
type Directory interface {
	Put(s session.Session) bool
	Get(connectionID string) (session.Session, bool)
	Remove(ctx context.Context, connectionID string)
}

// Sender delivers a message to one session.
type Sender interface {
	BroadcastToSession(ctx context.Context, s session.Session, msg protocol.Message)
}

// Presence tracks connections coming and going and answers the requests
// that need no other service.
type Presence struct {
	directory Directory
	sender    Sender
	logger    *zap.Logger
}

// NewPresence returns a Presence.
func NewPresence(directory Directory, sender Sender, logger *zap.Logger) *Presence {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Presence{directory: directory, sender: sender, logger: logger}
}

// Connected records the pending session of a new connection.
func (p *Presence) Connected(s session.Session) {
	p.directory.Put(s)
	p.logger.Debug("Connection opened",
		zap.String("connection_id", s.ConnectionID), zap.String("session_id", s.ID))
}

// Disconnected forgets the connection's session.
func (p *Presence) Disconnected(ctx context.Context, connectionID string) {
	p.directory.Remove(ctx, connectionID)
	p.logger.Debug("Connection closed", zap.String("connection_id", connectionID))
}

// Ping answers a PING.
func (p *Presence) Ping(ctx context.Context, s session.Session) {
	p.reply(ctx, s, protocol.TypePing, protocol.StatusPayload{Status: protocol.StatusSuccess})
}

// InvalidRequest reports a frame that could not be decoded.
func (p *Presence) InvalidRequest(ctx context.Context, s session.Session, err error) {
	payload := protocol.ErrorPayloadOf(err)
	if payload.Status != protocol.StatusInvalidRequest {
		payload = protocol.NewError(protocol.StatusInvalidRequest, "invalid request").Payload()
	}
	p.reply(ctx, s, protocol.TypeInvalidRequest, payload)
}

// NotAuthenticated rejects a request of type t made before login.
func (p *Presence) NotAuthenticated(ctx context.Context, s session.Session, t protocol.MessageType) {
	err := protocol.NewError(protocol.StatusNotAuthenticated, fmt.Sprintf("%s requires an authenticated session", t))
	p.reply(ctx, s, protocol.TypeNotAuthenticated, err.Payload())
}

func (p *Presence) reply(ctx context.Context, s session.Session, t protocol.MessageType, payload any) {
	p.sender.BroadcastToSession(ctx, s, protocol.Message{Type: t, Payload: payload})
}
