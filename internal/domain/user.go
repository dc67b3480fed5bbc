package domain

// User is the full user record. Password holds a bcrypt hash and is only
// ever read by the authentication core.
type User struct {
	ID          string
	Username    string
	Password    string
	Name        string
	Description string
	Avatar      string
	Status      string
}

// UserDTO is the projection of a user that may be sent to other clients.
type UserDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Avatar      string `json:"avatar"`
}

// DTO returns the non-sensitive projection of u.
func (u User) DTO() UserDTO {
	return UserDTO{
		ID:          u.ID,
		Name:        u.Name,
		Description: u.Description,
		Avatar:      u.Avatar,
	}
}

// Contact returns u as a contact list entry.
func (u User) Contact() Contact {
	return Contact{
		ID:          u.ID,
		Name:        u.Name,
		Avatar:      u.Avatar,
		Description: u.Description,
		ContactType: ContactUser,
	}
}
