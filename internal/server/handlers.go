package server

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// HandlerConfig configures the WebSocket endpoint.
type HandlerConfig struct {
	AllowedOrigins []string
	Limits         Limits
}

// Handler upgrades HTTP requests to WebSocket connections and hands them
// to the hub.
type Handler struct {
	hub        *Hub
	dispatcher ConnectionHandler
	limits     Limits
	origins    *originPolicy
	upgrader   websocket.Upgrader
	logger     *zap.Logger
}

// NewHandler returns the WebSocket endpoint.
func NewHandler(hub *Hub, dispatcher ConnectionHandler, cfg HandlerConfig, opts ...Option) *Handler {
	s := newSettings(opts)
	h := &Handler{
		hub:        hub,
		dispatcher: dispatcher,
		limits:     cfg.Limits,
		origins:    newOriginPolicy(cfg.AllowedOrigins, s.logger),
		logger:     s.logger,
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.origins.checkOrigin,
	}
	return h
}

// WebSocketHandler validates that the request uses the GET method,
// upgrades the connection and registers a new Client with the hub.
func (h *Handler) WebSocketHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed. WebSocket endpoint only accepts GET requests.", http.StatusMethodNotAllowed)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Info("WebSocket upgrade failed", zap.String("remote_addr", r.RemoteAddr), zap.Error(err))
		return
	}

	info := ConnectionContext{
		ConnectionID: uuid.NewString(),
		RemoteAddr:   r.RemoteAddr,
		UserAgent:    r.UserAgent(),
		Token:        tokenFromRequest(r),
	}
	client := NewClient(conn, h.hub, info, h.dispatcher, h.limits)

	if err := h.hub.Register(client); err != nil {
		h.logger.Info("Rejecting connection during shutdown", zap.String("remote_addr", r.RemoteAddr))
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
		client.closeConnection()
	}
}

// tokenFromRequest returns the token query parameter or the bearer token
// of the Authorization header.
func tokenFromRequest(r *http.Request) string {
	if token := r.URL.Query().Get("token"); token != "" {
		return token
	}
	const prefix = "bearer "
	auth := r.Header.Get("Authorization")
	if len(auth) > len(prefix) && strings.EqualFold(auth[:len(prefix)], prefix) {
		return strings.TrimSpace(auth[len(prefix):])
	}
	return ""
}

// HealthHandler provides a simple health check endpoint that returns server status.
func HealthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprintf(w, "SocialChat server is running!")
}
