package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Request is a decoded inbound envelope. Payload holds a pointer to the
// concrete payload type registered for Type, or nil for types without an
// inbound payload.
type Request struct {
	Type    MessageType
	Payload any
}

type decodeFunc func(json.RawMessage) (any, error)

// Registry maps message types to payload decoders.
type Registry struct {
	decoders map[MessageType]decodeFunc
}

// NewRegistry returns a registry holding every message type of the chat
// protocol. Server-to-client types are known but carry no decoder.
func NewRegistry() *Registry {
	r := &Registry{decoders: make(map[MessageType]decodeFunc)}

	Register[AuthenticateRequest](r, TypeAuthenticate)
	Register[ReauthenticateRequest](r, TypeReauthenticate)
	Register[SignupRequest](r, TypeSignup)
	Register[ChatMessageRequest](r, TypeUserMessage)
	Register[ChatHistoryRequest](r, TypeChatHistory)

	r.RegisterEmpty(TypeContactsList)
	r.RegisterEmpty(TypePing)
	r.RegisterEmpty(TypeLogoff)
	r.RegisterEmpty(TypeNotAuthenticated)
	r.RegisterEmpty(TypeNewContactRegistered)
	r.RegisterEmpty(TypeInvalidRequest)

	return r
}

// Register binds t to a decoder producing *T.
func Register[T any](r *Registry, t MessageType) {
	r.decoders[t] = func(raw json.RawMessage) (any, error) {
		v := new(T)
		if isEmptyPayload(raw) {
			return v, nil
		}
		if err := json.Unmarshal(raw, v); err != nil {
			return nil, err
		}
		return v, nil
	}
}

// RegisterEmpty makes t a known type whose payload is ignored.
func (r *Registry) RegisterEmpty(t MessageType) {
	r.decoders[t] = func(json.RawMessage) (any, error) { return nil, nil }
}

// Known reports whether t is registered.
func (r *Registry) Known(t MessageType) bool {
	_, ok := r.decoders[t]
	return ok
}

// Decode parses a raw frame. Malformed frames, missing or unknown types and
// payloads that do not match their type fail with StatusInvalidRequest.
func (r *Registry) Decode(frame []byte) (Request, error) {
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return Request{}, Wrap(StatusInvalidRequest, "malformed envelope", err)
	}
	if env.Type == "" {
		return Request{}, NewError(StatusInvalidRequest, "message type is required")
	}
	decode, ok := r.decoders[env.Type]
	if !ok {
		return Request{Type: env.Type}, NewError(StatusInvalidRequest, fmt.Sprintf("unrecognized message type %q", env.Type))
	}
	payload, err := decode(env.Payload)
	if err != nil {
		return Request{Type: env.Type}, Wrap(StatusInvalidRequest, fmt.Sprintf("invalid %s payload", env.Type), err)
	}
	return Request{Type: env.Type, Payload: payload}, nil
}

func isEmptyPayload(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}
