// Package memory holds a process-local credential store used for development and tests.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/oksasatya/account-auth/internal/domain/entity"
	"github.com/oksasatya/account-auth/internal/domain/repository"
)

// UserRepository keeps accounts in maps guarded by a single lock, so each conditional
// update is atomic the same way a single SQL UPDATE is.
type UserRepository struct {
	mu      sync.RWMutex
	byID    map[string]*entity.User
	byEmail map[string]string
	now     func() time.Time
}

func NewUserRepository() *UserRepository {
	return &UserRepository{
		byID:    make(map[string]*entity.User),
		byEmail: make(map[string]string),
		now:     time.Now,
	}
}

func (r *UserRepository) FindByEmail(_ context.Context, email string) (*entity.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byEmail[email]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return r.byID[id].Clone(), nil
}

func (r *UserRepository) FindByID(_ context.Context, id string) (*entity.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.byID[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return u.Clone(), nil
}

func (r *UserRepository) Create(_ context.Context, u *entity.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byEmail[u.Email]; ok {
		return repository.ErrDuplicateEmail
	}
	now := r.now()
	u.CreatedAt = now
	u.UpdatedAt = now
	r.byID[u.ID] = u.Clone()
	r.byEmail[u.Email] = u.ID
	return nil
}

func (r *UserRepository) UpdateVerification(_ context.Context, email string, upd repository.VerificationUpdate) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, err := r.lookupEmail(email)
	if err != nil {
		return err
	}
	if u.EmailVerified {
		return repository.ErrConflict
	}
	if upd.MatchToken != nil && (u.VerificationToken == nil || *u.VerificationToken != *upd.MatchToken) {
		return repository.ErrConflict
	}
	u.EmailVerified = upd.EmailVerified
	u.VerificationToken = cloneString(upd.VerificationToken)
	u.UpdatedAt = r.now()
	return nil
}

func (r *UserRepository) UpdateResetToken(_ context.Context, id, token string, expiry time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.byID[id]
	if !ok {
		return repository.ErrNotFound
	}
	u.ResetToken = &token
	u.ResetTokenExpiry = &expiry
	u.UpdatedAt = r.now()
	return nil
}

func (r *UserRepository) ConsumeResetToken(_ context.Context, id, token, newHash string, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.byID[id]
	if !ok || u.ResetToken == nil || *u.ResetToken != token || !u.HasActiveReset(now) {
		return repository.ErrConflict
	}
	u.PasswordHash = newHash
	u.ResetToken = nil
	u.ResetTokenExpiry = nil
	u.UpdatedAt = r.now()
	return nil
}

func (r *UserRepository) UpdateRole(_ context.Context, email string, role entity.Role) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, err := r.lookupEmail(email)
	if err != nil {
		return err
	}
	u.Role = role
	u.UpdatedAt = r.now()
	return nil
}

func (r *UserRepository) Ping(context.Context) error { return nil }

// lookupEmail expects r.mu to be held.
func (r *UserRepository) lookupEmail(email string) (*entity.User, error) {
	id, ok := r.byEmail[email]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return r.byID[id], nil
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

var _ repository.UserRepository = (*UserRepository)(nil)
