package models

import "time"

type UserRole string

const (
	UserRoleTenant   UserRole = "tenant"
	UserRoleLandlord UserRole = "landlord"
	UserRoleBroker   UserRole = "broker"
)

func (r UserRole) Valid() bool {
	switch r {
	case UserRoleTenant, UserRoleLandlord, UserRoleBroker:
		return true
	}
	return false
}

type User struct {
	ID string
	// Email is stored lower-cased and trimmed.
	Email string
	// PasswordHash is nil for accounts created through an OAuth provider.
	PasswordHash               *string
	Role                       UserRole
	EmailVerified              bool
	EmailVerificationToken     *string
	EmailVerificationExpiresAt *time.Time
	IsActive                   bool
	LastLoginAt                *time.Time
	CreatedAt                  time.Time
	UpdatedAt                  time.Time
}

func (u User) HasPassword() bool {
	return u.PasswordHash != nil && *u.PasswordHash != ""
}

type Profile struct {
	UserID    string
	FirstName string
	LastName  string
	Phone     string
	CreatedAt time.Time
}
