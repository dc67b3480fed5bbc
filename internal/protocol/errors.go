package protocol

import (
	"errors"
	"fmt"
)

// ResponseStatus is the outcome reported to clients.
type ResponseStatus string

const (
	StatusSuccess            ResponseStatus = "SUCCESS"
	StatusInvalidCredentials ResponseStatus = "INVALID_CREDENTIALS"
	StatusInvalidUsername    ResponseStatus = "INVALID_USERNAME"
	StatusInvalidName        ResponseStatus = "INVALID_NAME"
	StatusInvalidPassword    ResponseStatus = "INVALID_PASSWORD"
	StatusUsernameInUse      ResponseStatus = "USERNAME_IN_USE"
	StatusNotAuthenticated   ResponseStatus = "NOT_AUTHENTICATED"
	StatusInvalidRequest     ResponseStatus = "INVALID_REQUEST"
	StatusServerError        ResponseStatus = "SERVER_ERROR"
)

// Error is an application level failure that is reported to the
// originating session as an error payload.
type Error struct {
	Status  ResponseStatus
	Message string
	Err     error
}

// NewError returns an Error with the given status and message.
func NewError(status ResponseStatus, message string) *Error {
	return &Error{Status: status, Message: message}
}

// Wrap returns an Error with the given status that wraps err.
func Wrap(status ResponseStatus, message string, err error) *Error {
	return &Error{Status: status, Message: message, Err: err}
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Status, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Status, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches errors by status so callers can write
// errors.Is(err, protocol.NewError(protocol.StatusUsernameInUse, "")).
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Status == e.Status
}

// ErrorPayload is the payload of an error response.
type ErrorPayload struct {
	Status  ResponseStatus `json:"status"`
	Message string         `json:"message"`
}

// Payload returns the wire representation of e. Wrapped causes stay on
// the server.
func (e *Error) Payload() ErrorPayload {
	return ErrorPayload{Status: e.Status, Message: e.Message}
}

// StatusOf returns the response status carried by err, or
// StatusServerError when err is not an *Error.
func StatusOf(err error) ResponseStatus {
	if err == nil {
		return StatusSuccess
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Status
	}
	return StatusServerError
}

// ErrorPayloadOf converts any error into an error payload. Unknown errors
// are reported as SERVER_ERROR without their details.
func ErrorPayloadOf(err error) ErrorPayload {
	var e *Error
	if errors.As(err, &e) {
		return e.Payload()
	}
	return ErrorPayload{Status: StatusServerError, Message: "internal server error"}
}
