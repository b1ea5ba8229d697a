package models

import (
	"time"

	"gorm.io/gorm"
)

// Integration stores one connected social account's OAuth credential.
// The token is the platform's long-lived token and is mutated in place on
// every refresh.
type Integration struct {
	gorm.Model
	UserID uint `gorm:"not null;index" json:"user_id"`

	Name      string     `gorm:"default:'INSTAGRAM'" json:"name"`
	Token     string     `gorm:"not null" json:"-"`
	ExpiresAt *time.Time `json:"expires_at"`

	InstagramID             string `gorm:"index" json:"instagram_id"`
	InstagramUsername       string `json:"instagram_username"`
	InstagramProfilePicture string `json:"instagram_profile_picture"`

	User User `json:"-"`
}

// ExpiresWithin reports whether the stored token expires inside the given
// window. A missing expiry is treated as not expiring.
func (i *Integration) ExpiresWithin(window time.Duration) bool {
	if i.ExpiresAt == nil {
		return false
	}
	left := time.Until(*i.ExpiresAt)
	return left > 0 && left < window
}
