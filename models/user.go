package models

import (
	"gorm.io/gorm"
)

// User represents an account in the system. Authentication itself is
// delegated to the hosted identity provider; we only keep the external
// subject id and profile basics.
type User struct {
	gorm.Model

	ExternalID string  `gorm:"uniqueIndex;not null" json:"external_id"`
	Email      string  `gorm:"index" json:"email"`
	Firstname  *string `json:"firstname,omitempty"`
	Lastname   *string `json:"lastname,omitempty"`

	// Relations
	Subscription *Subscription `gorm:"foreignKey:UserID" json:"subscription,omitempty"`
	Integrations []Integration `gorm:"foreignKey:UserID" json:"integrations,omitempty"`
	Automations  []Automation  `gorm:"foreignKey:UserID" json:"automations,omitempty"`
}

// Subscription plans
const (
	PlanFree = "FREE"
	PlanPro  = "PRO"
)

// Subscription tracks the user's billing plan. One per user.
type Subscription struct {
	gorm.Model
	UserID uint `gorm:"not null;uniqueIndex" json:"user_id"`

	Plan             string  `gorm:"default:'FREE'" json:"plan"` // FREE, PRO
	StripeCustomerID *string `gorm:"index" json:"stripe_customer_id,omitempty"`

	User User `json:"-"`
}

// IsPro reports whether the user is on the paid tier.
func (u *User) IsPro() bool {
	return u.Subscription != nil && u.Subscription.Plan == PlanPro
}
