// Package session tracks which users are connected to which server process.
//
// A Directory merges an in-process cache of the sessions owned by this
// process with a RemoteStore shared by every server instance, so presence
// queries see sessions held by peers. Local entries always win over remote
// entries for the same logical session. Remote reads are best effort: when
// the shared store is unavailable, queries fall back to local data.
//
// Tokens are opaque strings issued by NewToken. A token is valid only while
// a matching, unexpired session record exists.
package session
