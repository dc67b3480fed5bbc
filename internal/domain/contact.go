// Package domain holds the chat entities shared by the stores, the
// authentication core and the chat message core.
package domain

// ContactType identifies what a contact or a chat destination refers to.
type ContactType string

const (
	ContactUser          ContactType = "USER"
	ContactGroup         ContactType = "GROUP"
	ContactAllUsersGroup ContactType = "ALL_USERS_GROUP"
)

// Valid reports whether t is one of the known contact types.
func (t ContactType) Valid() bool {
	switch t {
	case ContactUser, ContactGroup, ContactAllUsersGroup:
		return true
	}
	return false
}

// IsGroup reports whether t addresses more than one user.
func (t ContactType) IsGroup() bool {
	return t == ContactGroup || t == ContactAllUsersGroup
}

// Contact is the non-sensitive view of a user or a group as it travels in
// contact lists and new-contact notifications.
type Contact struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	Avatar      string      `json:"avatar"`
	Description string      `json:"description"`
	ContactType ContactType `json:"contactType"`
}
