package protocol

import (
	"encoding/json"
	"fmt"
)

// MessageType is the discriminator of an envelope.
type MessageType string

const (
	TypeAuthenticate         MessageType = "AUTHENTICATE"
	TypeReauthenticate       MessageType = "REAUTHENTICATE"
	TypeSignup               MessageType = "SIGNUP"
	TypeLogoff               MessageType = "LOGOFF"
	TypeNotAuthenticated     MessageType = "NOT_AUTHENTICATED"
	TypeUserMessage          MessageType = "USER_MESSAGE"
	TypeChatHistory          MessageType = "CHAT_HISTORY"
	TypeContactsList         MessageType = "CONTACTS_LIST"
	TypeNewContactRegistered MessageType = "NEW_CONTACT_REGISTERED"
	TypePing                 MessageType = "PING"
	TypeInvalidRequest       MessageType = "INVALID_REQUEST"
)

// Envelope is the tagged structure exchanged in both directions.
type Envelope struct {
	Type    MessageType     `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Encode marshals payload into an envelope of type t and returns the frame.
// A nil payload produces an envelope without a payload field.
func Encode(t MessageType, payload any) ([]byte, error) {
	env := Envelope{Type: t}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode %s payload: %w", t, err)
		}
		env.Payload = raw
	}
	return json.Marshal(env)
}

// Message is an outbound envelope whose payload has not been encoded yet.
type Message struct {
	Type    MessageType
	Payload any
}

// Encode returns the wire frame for m.
func (m Message) Encode() ([]byte, error) {
	return Encode(m.Type, m.Payload)
}
