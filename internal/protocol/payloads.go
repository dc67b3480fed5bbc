package protocol

import "github.com/Tyrowin/socialchat/internal/domain"

// AuthenticateRequest is the payload of an inbound AUTHENTICATE envelope.
type AuthenticateRequest struct {
	Username          string                `json:"username"`
	Password          string                `json:"password,omitempty"`
	UserDeviceDetails *domain.DeviceDetails `json:"userDeviceDetails,omitempty"`
}

// SignupRequest is the payload of an inbound SIGNUP envelope.
type SignupRequest struct {
	Username string `json:"username"`
	Name     string `json:"name"`
	Password string `json:"password"`
}

// ReauthenticateRequest is the payload of an inbound REAUTHENTICATE envelope.
type ReauthenticateRequest struct {
	Token string `json:"token"`
}

// AuthenticateResponse is sent back on successful AUTHENTICATE, SIGNUP and
// REAUTHENTICATE requests.
type AuthenticateResponse struct {
	User   domain.UserDTO `json:"user"`
	Token  string         `json:"token"`
	Status ResponseStatus `json:"status"`
}

// ChatMessageRequest is the payload of an inbound USER_MESSAGE envelope.
// The sender is never taken from the client.
type ChatMessageRequest struct {
	DestinationID   string             `json:"destinationId"`
	DestinationType domain.ContactType `json:"destinationType"`
	Content         string             `json:"content"`
	MimeType        string             `json:"mimeType"`
}

// ChatHistoryRequest is the payload of an inbound CHAT_HISTORY envelope.
type ChatHistoryRequest struct {
	DestinationID string `json:"destinationId"`
}

// ChatHistoryResponse carries the history of one conversation.
type ChatHistoryResponse struct {
	DestinationID string               `json:"destinationId"`
	ChatHistory   []domain.ChatMessage `json:"chatHistory"`
}

// StatusPayload acknowledges requests that carry no other data, such as
// PING and LOGOFF.
type StatusPayload struct {
	Status ResponseStatus `json:"status"`
}
