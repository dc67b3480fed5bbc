package auth

import "math/rand/v2"

// DefaultAvatars is used when no avatar list is configured.
var DefaultAvatars = []string{
	"/avatars/avatar-01.svg",
	"/avatars/avatar-02.svg",
	"/avatars/avatar-03.svg",
	"/avatars/avatar-04.svg",
	"/avatars/avatar-05.svg",
	"/avatars/avatar-06.svg",
}

// AvatarPicker hands out avatar references for new users.
type AvatarPicker struct {
	avatars []string
}

// NewAvatarPicker returns a picker over avatars, or over DefaultAvatars
// when the list is empty.
func NewAvatarPicker(avatars []string) *AvatarPicker {
	if len(avatars) == 0 {
		avatars = DefaultAvatars
	}
	return &AvatarPicker{avatars: append([]string(nil), avatars...)}
}

// Pick returns a random avatar.
func (p *AvatarPicker) Pick() string {
	return p.avatars[rand.IntN(len(p.avatars))]
}
