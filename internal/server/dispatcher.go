package server

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Tyrowin/socialchat/internal/metrics"
	"github.com/Tyrowin/socialchat/internal/protocol"
	"github.com/Tyrowin/socialchat/internal/session"
	"github.com/Tyrowin/socialchat/internal/worker"
)

// ConnectionHandler receives the lifecycle events of a connection. All
// calls for one connection come from its read pump, in order.
type ConnectionHandler interface {
	Open(ctx context.Context, cc ConnectionContext)
	Message(ctx context.Context, cc ConnectionContext, frame []byte)
	Close(ctx context.Context, cc ConnectionContext)
}

// AuthHandler is the authentication core.
type AuthHandler interface {
	HandleAuthenticate(ctx context.Context, s session.Session, req protocol.AuthenticateRequest)
	HandleReauthenticate(ctx context.Context, s session.Session, req protocol.ReauthenticateRequest)
	HandleSignup(ctx context.Context, s session.Session, req protocol.SignupRequest)
	HandleLogoff(ctx context.Context, s session.Session)
}

// ChatHandler is the chat message core.
type ChatHandler interface {
	HandleChatMessage(ctx context.Context, s session.Session, req protocol.ChatMessageRequest)
	HandleContactsMessage(ctx context.Context, s session.Session)
	HandleChatHistory(ctx context.Context, s session.Session, req protocol.ChatHistoryRequest)
}

// Services are the collaborators of a Dispatcher.
type Services struct {
	Directory Directory
	Auth      AuthHandler
	Chat      ChatHandler
	Sender    Sender
	Pool      *worker.Pool
}

type handlerFunc func(ctx context.Context, s session.Session)

// Dispatcher is the per-connection protocol state machine. A connection is
// CONNECTED while its session is pending and AUTHENTICATED once the
// directory holds an active session for it. Handlers run on the worker pool
// keyed by connection id, never on the read pump.
type Dispatcher struct {
	server   session.ServerDetails
	svc      Services
	registry *protocol.Registry
	presence *Presence

	mu   sync.RWMutex
	open map[string]ConnectionContext

	logger  *zap.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

// NewDispatcher returns a Dispatcher for connections owned by server.
func NewDispatcher(server session.ServerDetails, svc Services, opts ...Option) *Dispatcher {
	s := newSettings(opts)
	return &Dispatcher{
		server:   server,
		svc:      svc,
		registry: protocol.NewRegistry(),
		presence: NewPresence(svc.Directory, svc.Sender, s.logger),
		open:     make(map[string]ConnectionContext),
		logger:   s.logger,
		metrics:  s.metrics,
		now:      s.now,
	}
}

// Open registers a pending session for the connection. A token supplied
// at connect time is used to reauthenticate immediately.
func (d *Dispatcher) Open(ctx context.Context, cc ConnectionContext) {
	d.mu.Lock()
	d.open[cc.ConnectionID] = cc
	d.mu.Unlock()

	d.presence.Connected(d.pending(cc))

	if cc.Token != "" {
		req := protocol.ReauthenticateRequest{Token: cc.Token}
		d.submit(ctx, cc.ConnectionID, func(ctx context.Context, s session.Session) {
			d.svc.Auth.HandleReauthenticate(ctx, s, req)
		})
	}
}

// Message decodes one frame and schedules its handler. Frames that do not
// decode are answered with INVALID_REQUEST; the connection stays open.
func (d *Dispatcher) Message(ctx context.Context, cc ConnectionContext, frame []byte) {
	req, err := d.registry.Decode(frame)
	if err != nil {
		d.metrics.FrameReceived(metrics.FrameInvalid)
		d.logger.Info("Rejecting invalid request",
			zap.String("connection_id", cc.ConnectionID), zap.Error(err))
		d.submit(ctx, cc.ConnectionID, func(ctx context.Context, s session.Session) {
			d.presence.InvalidRequest(ctx, s, err)
		})
		return
	}
	d.metrics.FrameReceived(string(req.Type))

	handle, ok := d.route(req)
	if !ok {
		d.logger.Debug("Dropping message type with no inbound route",
			zap.String("connection_id", cc.ConnectionID), zap.String("type", string(req.Type)))
		return
	}
	d.submit(ctx, cc.ConnectionID, handle)
}

// Close removes the connection's session once its queued requests have run.
func (d *Dispatcher) Close(ctx context.Context, cc ConnectionContext) {
	closeTask := func(ctx context.Context) {
		d.presence.Disconnected(ctx, cc.ConnectionID)
		d.mu.Lock()
		delete(d.open, cc.ConnectionID)
		d.mu.Unlock()
	}

	if err := d.svc.Pool.Submit(ctx, cc.ConnectionID, closeTask); err != nil {
		d.logger.Debug("Worker pool unavailable; closing session inline",
			zap.String("connection_id", cc.ConnectionID), zap.Error(err))
		closeTask(context.Background())
	}
}

func (d *Dispatcher) route(req protocol.Request) (handlerFunc, bool) {
	switch req.Type {
	case protocol.TypeAuthenticate:
		p := req.Payload.(*protocol.AuthenticateRequest)
		return func(ctx context.Context, s session.Session) {
			d.svc.Auth.HandleAuthenticate(ctx, s, *p)
		}, true

	case protocol.TypeSignup:
		p := req.Payload.(*protocol.SignupRequest)
		return func(ctx context.Context, s session.Session) {
			d.svc.Auth.HandleSignup(ctx, s, *p)
		}, true

	case protocol.TypeReauthenticate:
		p := req.Payload.(*protocol.ReauthenticateRequest)
		return func(ctx context.Context, s session.Session) {
			d.svc.Auth.HandleReauthenticate(ctx, s, *p)
		}, true

	case protocol.TypeLogoff:
		return d.svc.Auth.HandleLogoff, true

	case protocol.TypeUserMessage:
		p := req.Payload.(*protocol.ChatMessageRequest)
		return d.authenticated(req.Type, func(ctx context.Context, s session.Session) {
			d.svc.Chat.HandleChatMessage(ctx, s, *p)
		}), true

	case protocol.TypeChatHistory:
		p := req.Payload.(*protocol.ChatHistoryRequest)
		return d.authenticated(req.Type, func(ctx context.Context, s session.Session) {
			d.svc.Chat.HandleChatHistory(ctx, s, *p)
		}), true

	case protocol.TypeContactsList:
		return d.authenticated(req.Type, d.svc.Chat.HandleContactsMessage), true

	case protocol.TypePing:
		return d.presence.Ping, true
	}
	return nil, false
}

// authenticated guards next behind an active session.
func (d *Dispatcher) authenticated(t protocol.MessageType, next handlerFunc) handlerFunc {
	return func(ctx context.Context, s session.Session) {
		if !s.Authenticated() || !s.Active(d.now()) {
			d.presence.NotAuthenticated(ctx, s, t)
			return
		}
		next(ctx, s)
	}
}

// submit queues handle on the connection's shard. The session is looked up
// when the task runs so it sees the effect of earlier requests.
func (d *Dispatcher) submit(ctx context.Context, connectionID string, handle handlerFunc) {
	err := d.svc.Pool.Submit(ctx, connectionID, func(ctx context.Context) {
		s, ok := d.current(connectionID)
		if !ok {
			d.logger.Debug("Connection closed before its request ran", zap.String("connection_id", connectionID))
			return
		}
		handle(ctx, s)
	})
	if err != nil {
		d.logger.Warn("Dropping request; worker pool unavailable",
			zap.String("connection_id", connectionID), zap.Error(err))
	}
}

// current returns the connection's session. An open connection whose
// session was removed (logoff, failed reauthentication) starts over with a
// new pending session.
func (d *Dispatcher) current(connectionID string) (session.Session, bool) {
	if s, ok := d.svc.Directory.Get(connectionID); ok {
		return s, true
	}

	d.mu.RLock()
	cc, open := d.open[connectionID]
	d.mu.RUnlock()
	if !open {
		return session.Session{}, false
	}

	s := d.pending(cc)
	d.svc.Directory.Put(s)
	return s, true
}

func (d *Dispatcher) pending(cc ConnectionContext) session.Session {
	return session.Session{
		ID:           uuid.NewString(),
		ConnectionID: cc.ConnectionID,
		UserDevice:   cc.Device(),
		Server:       d.server,
		Status:       session.StatusPending,
		StartDate:    d.now(),
	}
}
