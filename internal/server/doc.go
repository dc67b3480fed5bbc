// Package server implements the HTTP and WebSocket transport of the chat
// server and the protocol dispatcher that binds each connection to a
// session.
//
// The Hub owns live connections and implements local delivery for the
// broadcaster. Each Client runs a read pump that feeds the Dispatcher and a
// write pump that drains its send buffer. The Dispatcher decodes envelopes,
// enforces authentication and schedules handlers on the worker pool keyed by
// connection id so a connection's requests are processed in order.
package server
