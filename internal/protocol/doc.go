// Package protocol defines the wire envelope exchanged over chat
// connections, the payloads carried by each message type, the registry used
// to decode inbound envelopes, and the error taxonomy reported to clients.
//
// Every frame is a JSON object of the form
//
//	{"type": "USER_MESSAGE", "payload": {...}}
//
// Inbound frames are decoded through a Registry, which maps each type to a
// concrete payload decoder. Outbound frames are built with Encode.
package protocol
