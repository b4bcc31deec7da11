package entity

import (
	"strings"
	"time"
)

// User is the aggregate root for the account domain.
// PasswordHash holds a bcrypt digest, never the plaintext.
type User struct {
	ID                string
	Email             string
	PasswordHash      string
	Name              string
	Role              Role
	EmailVerified     bool
	VerificationToken *string
	ResetToken        *string
	ResetTokenExpiry  *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// AccountState is the verification lifecycle position of an account.
type AccountState string

const (
	StateUnverified AccountState = "unverified"
	StateVerified   AccountState = "verified"
)

func (u *User) State() AccountState {
	if u.EmailVerified {
		return StateVerified
	}
	return StateUnverified
}

// HasActiveReset reports whether a reset token is stored and not yet expired at now.
func (u *User) HasActiveReset(now time.Time) bool {
	return u.ResetToken != nil && u.ResetTokenExpiry != nil && now.Before(*u.ResetTokenExpiry)
}

// NormalizeEmail lower-cases and trims an address so lookups are case-insensitive.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Clone returns a deep copy so callers cannot mutate shared pointers.
func (u *User) Clone() *User {
	if u == nil {
		return nil
	}
	c := *u
	if u.VerificationToken != nil {
		v := *u.VerificationToken
		c.VerificationToken = &v
	}
	if u.ResetToken != nil {
		v := *u.ResetToken
		c.ResetToken = &v
	}
	if u.ResetTokenExpiry != nil {
		v := *u.ResetTokenExpiry
		c.ResetTokenExpiry = &v
	}
	return &c
}
