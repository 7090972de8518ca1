package models

// Profile is the read-only rendering view of a user supplied by the
// profile-lookup collaborator. Never mutated by the messaging core.
type Profile struct {
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name"`
	AvatarURL   string `json:"avatar_url"`
}

// ProfileResolver resolves user IDs to display profiles.
type ProfileResolver interface {
	Profile(userID string) (*Profile, error)
}
