package session

import (
	"encoding/base64"
	"errors"
	"strings"

	"github.com/google/uuid"
)

// ErrMalformedToken is returned by ParseToken for strings NewToken could not
// have produced.
var ErrMalformedToken = errors.New("session: malformed token")

const uuidLen = 36

// NewToken issues an opaque bearer token for the session. The token combines
// a random value with the user and session ids and is URL safe.
func NewToken(userID, sessionID string) string {
	raw := uuid.NewString() + "-" + userID + "-" + sessionID
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

// ParseToken extracts the user and session ids a token was issued for. It
// only checks the shape; validity is decided by the Directory.
func ParseToken(token string) (userID, sessionID string, err error) {
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return "", "", ErrMalformedToken
	}
	s := string(raw)
	// <uuid>-<userID>-<sessionID>; session ids are uuids as well.
	if len(s) < 2*uuidLen+3 {
		return "", "", ErrMalformedToken
	}
	if _, err := uuid.Parse(s[:uuidLen]); err != nil {
		return "", "", ErrMalformedToken
	}
	sessionID = s[len(s)-uuidLen:]
	if _, err := uuid.Parse(sessionID); err != nil {
		return "", "", ErrMalformedToken
	}
	middle := s[uuidLen : len(s)-uuidLen]
	if !strings.HasPrefix(middle, "-") || !strings.HasSuffix(middle, "-") {
		return "", "", ErrMalformedToken
	}
	userID = middle[1 : len(middle)-1]
	if userID == "" {
		return "", "", ErrMalformedToken
	}
	return userID, sessionID, nil
}
