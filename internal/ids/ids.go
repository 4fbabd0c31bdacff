package ids

import (
	"github.com/google/uuid"
	"github.com/segmentio/ksuid"
)

// New returns a time-sortable identifier for persisted records.
func New() string {
	return ksuid.New().String()
}

// NewFamily returns the identifier shared by every refresh token minted from
// one login.
func NewFamily() string {
	return uuid.NewString()
}
