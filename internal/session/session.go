package session

import (
	"time"

	"github.com/Tyrowin/socialchat/internal/domain"
)

// Status is the authentication state of a session.
type Status string

const (
	StatusPending       Status = "PENDING"
	StatusAuthenticated Status = "AUTHENTICATED"
	StatusExpired       Status = "EXPIRED"
)

// Type records how a session was established.
type Type string

const (
	TypeAuthenticate   Type = "AUTHENTICATE"
	TypeReauthenticate Type = "REAUTHENTICATE"
)

// ServerDetails identifies the process that owns the live connection of a
// session. It is what makes cross-process delivery possible.
type ServerDetails struct {
	InstanceID string `json:"instanceId"`
	Host       string `json:"host,omitempty"`
}

// Session binds one connection attempt to a user. ID changes on every
// authentication; ConnectionID lives as long as the transport connection.
type Session struct {
	ID           string               `json:"id"`
	ConnectionID string               `json:"connectionId"`
	UserID       string               `json:"userId,omitempty"`
	UserDevice   domain.DeviceDetails `json:"userDevice"`
	Server       ServerDetails        `json:"server"`
	Status       Status               `json:"status"`
	Type         Type                 `json:"type,omitempty"`
	Token        string               `json:"token,omitempty"`
	StartDate    time.Time            `json:"startDate"`
	ExpiryDate   time.Time            `json:"expiryDate"`
}

// Active reports whether s is authenticated and not expired at now.
func (s Session) Active(now time.Time) bool {
	return s.Status == StatusAuthenticated && s.ExpiryDate.After(now)
}

// Expired reports whether s was authenticated but its expiry has passed.
func (s Session) Expired(now time.Time) bool {
	return s.Status == StatusExpired || (s.Status == StatusAuthenticated && !s.ExpiryDate.After(now))
}

// Authenticated reports whether the session has been bound to a user.
func (s Session) Authenticated() bool {
	return s.Status == StatusAuthenticated && s.UserID != ""
}

// OwnedBy reports whether s lives on the given server instance.
func (s Session) OwnedBy(instanceID string) bool {
	return s.Server.InstanceID == instanceID
}

func (s Session) sameAs(other Session) bool {
	return s.ID == other.ID && s.UserID == other.UserID
}
