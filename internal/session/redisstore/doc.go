// Package redisstore implements session.RemoteStore on Redis so every server
// instance sees the same set of authenticated sessions.
//
// Key layout, relative to the configured prefix:
//
//	session:<id>   JSON encoded session, expires with the session
//	active         sorted set of session ids scored by expiry (unix ms)
//	user:<userID>  set of session ids for one user
//	token:<token>  id of the newest session holding the token
//
// Index entries whose session key has expired are removed lazily by the
// queries that encounter them.
package redisstore
