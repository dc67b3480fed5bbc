package domain

// AllUsersGroupID is the id of the seeded group every user belongs to.
const AllUsersGroupID = "all-users"

// Group is a named audience. Groups of type ContactAllUsersGroup ignore
// Members and address every connected user.
type Group struct {
	ID          string
	Name        string
	Avatar      string
	Description string
	ContactType ContactType
	Members     []string
}

// HasMember reports whether userID is part of g.
func (g Group) HasMember(userID string) bool {
	if g.ContactType == ContactAllUsersGroup {
		return true
	}
	for _, m := range g.Members {
		if m == userID {
			return true
		}
	}
	return false
}

// Contact returns g as a contact list entry.
func (g Group) Contact() Contact {
	return Contact{
		ID:          g.ID,
		Name:        g.Name,
		Avatar:      g.Avatar,
		Description: g.Description,
		ContactType: g.ContactType,
	}
}

// AllUsersGroup returns the default group seeded by every group store.
func AllUsersGroup() Group {
	return Group{
		ID:          AllUsersGroupID,
		Name:        "All users",
		Description: "Everyone connected to SocialChat",
		ContactType: ContactAllUsersGroup,
	}
}
