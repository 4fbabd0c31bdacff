package models

import "time"

// RefreshToken is one issued refresh credential. Rotation revokes the row and
// links it to its successor instead of overwriting it.
type RefreshToken struct {
	ID         string
	UserID     string
	TokenHash  string
	FamilyID   string
	RememberMe bool
	ExpiresAt  time.Time
	Revoked    bool
	RevokedAt  *time.Time
	ReplacedBy *string
	IPAddress  string
	CreatedAt  time.Time
}

// Rotated reports whether the row was revoked by rotation rather than logout.
func (t RefreshToken) Rotated() bool {
	return t.Revoked && t.ReplacedBy != nil
}

type PasswordResetToken struct {
	ID        string
	UserID    string
	TokenHash string
	ExpiresAt time.Time
	UsedAt    *time.Time
	IPAddress string
	CreatedAt time.Time
}

func (t PasswordResetToken) Usable(now time.Time) bool {
	return t.UsedAt == nil && t.ExpiresAt.After(now)
}
