// Package auth implements login, signup, reauthentication and logoff. Every
// handler sends exactly one response envelope to the initiating session;
// signup additionally announces the new contact to everyone else.
package auth

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

// DefaultDescription is given to every new user.
const DefaultDescription = "Hi, I'm using SocialChat!"

// Directory is the part of the session directory used for authentication.
type Directory interface {
	Authenticate(ctx context.Context, s session.Session, user domain.User, token string) error
	Reauthenticate(ctx context.Context, s session.Session, token string) (string, error)
	Logoff(ctx context.Context, connectionID string)
}

// Sender delivers a message to one session.
type Sender interface {
	BroadcastToSession(ctx context.Context, s session.Session, msg protocol.Message)
}

// ContactAnnouncer tells other sessions about a newly registered user.
type ContactAnnouncer interface {
	HandleNewContact(ctx context.Context, contact domain.Contact, s session.Session)
}

// Config controls authentication behaviour.
type Config struct {
	// RequirePassword enables password verification on AUTHENTICATE. When
	// false only the username has to exist.
	RequirePassword bool
	SessionTTL      time.Duration
	BcryptCost      int
	AvatarURLs      []string
	// Server identifies this instance on every session it creates.
	Server session.ServerDetails
}

// Service is the authentication core.
type Service struct {
	cfg       Config
	users     store.UserStore
	directory Directory
	sender    Sender
	announcer ContactAnnouncer
	hasher    *Hasher
	avatars   *AvatarPicker
	now       func() time.Time
	logger    *zap.Logger
	metrics   *metrics.Metrics
}

// Option configures a Service.
type Option func(*Service)

// WithClock overrides the time source for session start and expiry.
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

// WithMetrics records authentication results.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// NewService wires the authentication core.
func NewService(cfg Config, users store.UserStore, directory Directory, sender Sender, announcer ContactAnnouncer, opts ...Option) *Service {
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = 24 * time.Hour
	}
	s := &Service{
		cfg:       cfg,
		users:     users,
		directory: directory,
		sender:    sender,
		announcer: announcer,
		hasher:    NewHasher(cfg.BcryptCost),
		avatars:   NewAvatarPicker(cfg.AvatarURLs),
		now:       time.Now,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// HandleAuthenticate logs current's connection in and replies with an
// AUTHENTICATE envelope.
func (s *Service) HandleAuthenticate(ctx context.Context, current session.Session, req protocol.AuthenticateRequest) {
	resp, _, err := s.authenticate(ctx, current, req)
	s.record(protocol.TypeAuthenticate, err)
	if err != nil {
		s.logger.Warn("Failed to authenticate user",
			zap.String("username", req.Username), zap.String("connection_id", current.ConnectionID), zap.Error(err))
		s.reply(ctx, current, protocol.TypeAuthenticate, protocol.ErrorPayloadOf(err))
		return
	}
	s.reply(ctx, current, protocol.TypeAuthenticate, resp)
}

// HandleReauthenticate binds current's connection to the session that
// issued req.Token. Success reuses the token; failure is answered with a
// NOT_AUTHENTICATED envelope.
func (s *Service) HandleReauthenticate(ctx context.Context, current session.Session, req protocol.ReauthenticateRequest) {
	resp, err := s.reauthenticate(ctx, current, req.Token)
	s.record(protocol.TypeReauthenticate, err)
	if err != nil {
		s.logger.Warn("Failed to reauthenticate",
			zap.String("connection_id", current.ConnectionID), zap.Error(err))
		s.reply(ctx, current, protocol.TypeNotAuthenticated, protocol.ErrorPayloadOf(err))
		return
	}
	s.reply(ctx, current, protocol.TypeReauthenticate, resp)
}

// HandleSignup registers a user, logs them in on current's connection and
// announces them to every other active session.
func (s *Service) HandleSignup(ctx context.Context, current session.Session, req protocol.SignupRequest) {
	resp, created, next, err := s.signup(ctx, current, req)
	s.record(protocol.TypeSignup, err)
	if err != nil {
		s.logger.Warn("Failed to create user", zap.String("username", req.Username), zap.Error(err))
		s.reply(ctx, current, protocol.TypeSignup, protocol.ErrorPayloadOf(err))
		return
	}
	s.reply(ctx, current, protocol.TypeSignup, resp)
	s.announcer.HandleNewContact(ctx, created.Contact(), next)
	s.logger.Info("New user registered", zap.String("username", created.Username), zap.String("user_id", created.ID))
}

// HandleLogoff ends current's session and acknowledges with LOGOFF.
func (s *Service) HandleLogoff(ctx context.Context, current session.Session) {
	s.Logoff(ctx, current)
	s.reply(ctx, current, protocol.TypeLogoff, protocol.StatusPayload{Status: protocol.StatusSuccess})
}

// Logoff ends current's session and invalidates its token. It never fails.
func (s *Service) Logoff(ctx context.Context, current session.Session) {
	s.directory.Logoff(ctx, current.ConnectionID)
}

func (s *Service) authenticate(ctx context.Context, current session.Session, req protocol.AuthenticateRequest) (protocol.AuthenticateResponse, session.Session, error) {
	user, err := s.users.FindByUsername(ctx, req.Username)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return protocol.AuthenticateResponse{}, session.Session{}, protocol.NewError(protocol.StatusInvalidCredentials, "invalid credentials")
		}
		return protocol.AuthenticateResponse{}, session.Session{}, protocol.Wrap(protocol.StatusServerError, "failed to authenticate", err)
	}
	if s.cfg.RequirePassword {
		if user.Password == "" || s.hasher.Compare(user.Password, req.Password) != nil {
			return protocol.AuthenticateResponse{}, session.Session{}, protocol.NewError(protocol.StatusInvalidCredentials, "invalid credentials")
		}
	}
	return s.startSession(ctx, current, user, req.UserDeviceDetails)
}

// startSession creates and stores a fresh AUTHENTICATE session for user on
// current's connection.
func (s *Service) startSession(ctx context.Context, current session.Session, user domain.User, device *domain.DeviceDetails) (protocol.AuthenticateResponse, session.Session, error) {
	next := s.derive(current, session.TypeAuthenticate)
	if device != nil {
		next.UserDevice = mergeDevice(*device, current.UserDevice)
	}

	token := session.NewToken(user.ID, next.ID)
	if err := s.directory.Authenticate(ctx, next, user, token); err != nil {
		return protocol.AuthenticateResponse{}, session.Session{}, protocol.Wrap(protocol.StatusServerError, "failed to authenticate", err)
	}
	next.UserID, next.Token, next.Status = user.ID, token, session.StatusAuthenticated

	s.logger.Info("New session authenticated",
		zap.String("session_id", next.ID), zap.String("user_id", user.ID), zap.String("connection_id", next.ConnectionID))
	return protocol.AuthenticateResponse{User: user.DTO(), Token: token, Status: protocol.StatusSuccess}, next, nil
}

func (s *Service) reauthenticate(ctx context.Context, current session.Session, token string) (protocol.AuthenticateResponse, error) {
	next := s.derive(current, session.TypeReauthenticate)

	userID, err := s.directory.Reauthenticate(ctx, next, token)
	if err != nil {
		if errors.Is(err, session.ErrUnauthenticated) {
			return protocol.AuthenticateResponse{}, protocol.NewError(protocol.StatusNotAuthenticated, "token is not valid")
		}
		return protocol.AuthenticateResponse{}, protocol.Wrap(protocol.StatusServerError, "failed to reauthenticate", err)
	}

	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		s.directory.Logoff(ctx, next.ConnectionID)
		if errors.Is(err, store.ErrNotFound) {
			return protocol.AuthenticateResponse{}, protocol.NewError(protocol.StatusInvalidCredentials, "couldn't identify user for token")
		}
		return protocol.AuthenticateResponse{}, protocol.Wrap(protocol.StatusServerError, "failed to load user", err)
	}

	s.logger.Info("Session reauthenticated",
		zap.String("session_id", next.ID), zap.String("user_id", user.ID), zap.String("connection_id", next.ConnectionID))
	return protocol.AuthenticateResponse{User: user.DTO(), Token: token, Status: protocol.StatusSuccess}, nil
}

func (s *Service) signup(ctx context.Context, current session.Session, req protocol.SignupRequest) (protocol.AuthenticateResponse, domain.User, session.Session, error) {
	fail := func(err error) (protocol.AuthenticateResponse, domain.User, session.Session, error) {
		return protocol.AuthenticateResponse{}, domain.User{}, session.Session{}, err
	}

	name := strings.TrimSpace(req.Name)
	username := strings.TrimSpace(req.Username)
	switch {
	case name == "":
		return fail(protocol.NewError(protocol.StatusInvalidName, "name must be defined"))
	case username == "":
		return fail(protocol.NewError(protocol.StatusInvalidUsername, "username must be defined"))
	case strings.TrimSpace(req.Password) == "":
		return fail(protocol.NewError(protocol.StatusInvalidPassword, "password must be defined"))
	}

	hash, err := s.hasher.Hash(req.Password)
	if err != nil {
		return fail(protocol.Wrap(protocol.StatusServerError, "failed to create user", err))
	}

	created, err := s.users.Create(ctx, domain.User{
		Username:    username,
		Password:    hash,
		Name:        name,
		Avatar:      s.avatars.Pick(),
		Description: DefaultDescription,
	})
	if err != nil {
		if errors.Is(err, store.ErrUsernameInUse) {
			return fail(protocol.NewError(protocol.StatusUsernameInUse, "username already taken"))
		}
		return fail(protocol.Wrap(protocol.StatusServerError, "failed to create user", err))
	}

	resp, next, err := s.startSession(ctx, current, created, nil)
	if err != nil {
		return fail(err)
	}
	return resp, created, next, nil
}

// derive returns a new pending session on current's connection.
func (s *Service) derive(current session.Session, t session.Type) session.Session {
	now := s.now()
	return session.Session{
		ID:           uuid.NewString(),
		ConnectionID: current.ConnectionID,
		UserDevice:   current.UserDevice,
		Server:       s.cfg.Server,
		Status:       session.StatusPending,
		Type:         t,
		StartDate:    now,
		ExpiryDate:   now.Add(s.cfg.SessionTTL),
	}
}

func (s *Service) reply(ctx context.Context, current session.Session, t protocol.MessageType, payload any) {
	s.sender.BroadcastToSession(ctx, current, protocol.Message{Type: t, Payload: payload})
}

func (s *Service) record(t protocol.MessageType, err error) {
	s.metrics.AuthResult(string(t), string(protocol.StatusOf(err)))
}

// mergeDevice fills fields the client did not report from what the
// transport observed.
func mergeDevice(reported, observed domain.DeviceDetails) domain.DeviceDetails {
	if reported.UserAgent == "" {
		reported.UserAgent = observed.UserAgent
	}
	reported.RemoteAddr = observed.RemoteAddr
	return reported
}
