package identity

import (
	"time"

	"github.com/dmitrymomot/identitykit/pkg/provider"
)

// UserState is the user lifecycle state. Removed is reserved: no core
// operation produces it, and the identity upsert revives a removed user
// back to active on re-authentication.
type UserState string

const (
	UserStateActive  UserState = "active"
	UserStateRemoved UserState = "removed"
)

// Role is the coarse authorization role attached to a user. All core
// operations create regular users; admin is reserved for out-of-band
// promotion.
type Role string

const (
	RoleRegular Role = "regular"
	RoleAdmin   Role = "admin"
)

// User is the durable identity row backing one external provider subject.
// ProviderUserIDHash is the natural deduplication key; Profile is the last
// snapshot received from the provider.
type User struct {
	ID                   int64            `json:"id"`
	State                UserState        `json:"state"`
	Role                 Role             `json:"role"`
	AgreedToCookiePolicy bool             `json:"agreed_to_cookie_policy"`
	ProviderUserID       string           `json:"provider_user_id"`
	ProviderUserIDHash   string           `json:"provider_user_id_hash"`
	Profile              provider.Profile `json:"profile"`
	TimeCreated          time.Time        `json:"time_created"`
	TimeLastUpdated      time.Time        `json:"time_last_updated"`
	TimeRemoved          *time.Time       `json:"time_removed,omitempty"`
}

// PublicUser is the projection safe to show to any caller. Display fields
// come from the stored profile snapshot.
type PublicUser struct {
	ID              int64     `json:"id"`
	State           UserState `json:"state"`
	Role            Role      `json:"role"`
	Name            string    `json:"name"`
	PictureURI      string    `json:"picture_uri,omitempty"`
	Language        string    `json:"language,omitempty"`
	TimeCreated     time.Time `json:"time_created"`
	TimeLastUpdated time.Time `json:"time_last_updated"`
}

// PrivateUser is the projection returned to the user themselves. Display
// fields come from the live profile fetch rather than the stored snapshot,
// so they always reflect the caller's latest input.
type PrivateUser struct {
	PublicUser

	AgreedToCookiePolicy bool   `json:"agreed_to_cookie_policy"`
	ProviderUserIDHash   string `json:"provider_user_id_hash"`
}

// publicUser builds the public projection from the stored snapshot.
func (u *User) publicUser() PublicUser {
	return PublicUser{
		ID:              u.ID,
		State:           u.State,
		Role:            u.Role,
		Name:            u.Profile.Name,
		PictureURI:      u.Profile.Picture,
		Language:        u.Profile.Language,
		TimeCreated:     u.TimeCreated,
		TimeLastUpdated: u.TimeLastUpdated,
	}
}

// privateUser builds the private projection, sourcing display fields from
// the live profile p.
func (u *User) privateUser(p provider.Profile) *PrivateUser {
	return &PrivateUser{
		PublicUser: PublicUser{
			ID:              u.ID,
			State:           u.State,
			Role:            u.Role,
			Name:            p.Name,
			PictureURI:      p.Picture,
			Language:        p.Language,
			TimeCreated:     u.TimeCreated,
			TimeLastUpdated: u.TimeLastUpdated,
		},
		AgreedToCookiePolicy: u.AgreedToCookiePolicy,
		ProviderUserIDHash:   u.ProviderUserIDHash,
	}
}
