package server

import (
	"strings"

	"github.com/Tyrowin/socialchat/internal/domain"
)

// ConnectionContext is attached to a WebSocket connection when it is
// accepted and travels with every event the connection produces.
type ConnectionContext struct {
	ConnectionID string
	RemoteAddr   string
	UserAgent    string
	// Token is a session token supplied at connect time, either as the
	// "token" query parameter or as an Authorization bearer token.
	Token string
}

// Device returns what the transport observed about the client.
func (c ConnectionContext) Device() domain.DeviceDetails {
	return domain.DeviceDetails{UserAgent: c.UserAgent, RemoteAddr: c.RemoteAddr}
}

// isExpectedCloseError checks if an error is expected during connection closure.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "websocket: close sent") ||
		strings.Contains(errStr, "broken pipe")
}
