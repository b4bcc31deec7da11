package repository

import (
	"context"
	"errors"
	"time"

	"github.com/oksasatya/account-auth/internal/domain/entity"
)

var (
	ErrNotFound       = errors.New("user not found")
	ErrDuplicateEmail = errors.New("email already registered")
	// ErrConflict means a conditional update matched no row: the stored state
	// no longer agrees with what the caller presented.
	ErrConflict = errors.New("conditional update conflict")
)

// VerificationUpdate describes a change to the verification fields of an unverified account.
// When MatchToken is set the update only applies if the stored token equals it.
type VerificationUpdate struct {
	EmailVerified     bool
	VerificationToken *string
	MatchToken        *string
}

// UserRepository is the credential store used by the account service.
// Every update touching tokens is a single conditional write.
type UserRepository interface {
	FindByEmail(ctx context.Context, email string) (*entity.User, error)
	FindByID(ctx context.Context, id string) (*entity.User, error)
	Create(ctx context.Context, u *entity.User) error
	// UpdateVerification only applies while email_verified is false.
	UpdateVerification(ctx context.Context, email string, upd VerificationUpdate) error
	UpdateResetToken(ctx context.Context, id, token string, expiry time.Time) error
	// ConsumeResetToken replaces the password hash and clears the reset fields when the stored
	// token equals token and has not expired at now. It returns ErrConflict otherwise.
	ConsumeResetToken(ctx context.Context, id, token, newHash string, now time.Time) error
	UpdateRole(ctx context.Context, email string, role entity.Role) error
	Ping(ctx context.Context) error
}
