package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/oksasatya/account-auth/internal/domain/entity"
	"github.com/oksasatya/account-auth/internal/domain/repository"
)

const uniqueViolation = "23505"

const selectUser = `
	SELECT id, email, password_hash, name, role, email_verified,
	       verification_token, reset_token, reset_token_expiry, created_at, updated_at
	FROM users`

type UserRepository struct {
	pool *pgxpool.Pool
}

func NewUserRepository(pool *pgxpool.Pool) *UserRepository {
	return &UserRepository{pool: pool}
}

func scanUser(row pgx.Row) (*entity.User, error) {
	u := &entity.User{}
	var role string
	if err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.Name, &role, &u.EmailVerified,
		&u.VerificationToken, &u.ResetToken, &u.ResetTokenExpiry, &u.CreatedAt, &u.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	u.Role = entity.ParseRole(role)
	return u, nil
}

func (r *UserRepository) FindByEmail(ctx context.Context, email string) (*entity.User, error) {
	return scanUser(r.pool.QueryRow(ctx, selectUser+` WHERE email = $1`, email))
}

func (r *UserRepository) FindByID(ctx context.Context, id string) (*entity.User, error) {
	return scanUser(r.pool.QueryRow(ctx, selectUser+` WHERE id = $1`, id))
}

func (r *UserRepository) Create(ctx context.Context, u *entity.User) error {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO users (id, email, password_hash, name, role, email_verified, verification_token)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at, updated_at
	`, u.ID, u.Email, u.PasswordHash, u.Name, u.Role.String(), u.EmailVerified, u.VerificationToken)

	if err := row.Scan(&u.CreatedAt, &u.UpdatedAt); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return repository.ErrDuplicateEmail
		}
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (r *UserRepository) UpdateVerification(ctx context.Context, email string, upd repository.VerificationUpdate) error {
	res, err := r.pool.Exec(ctx, `
		UPDATE users
		SET email_verified = $2, verification_token = $3, updated_at = now()
		WHERE email = $1
		  AND email_verified = false
		  AND ($4::text IS NULL OR verification_token = $4)
	`, email, upd.EmailVerified, upd.VerificationToken, upd.MatchToken)
	if err != nil {
		return fmt.Errorf("update verification: %w", err)
	}
	if res.RowsAffected() == 0 {
		return r.missOrConflict(ctx, `SELECT 1 FROM users WHERE email = $1`, email)
	}
	return nil
}

func (r *UserRepository) UpdateResetToken(ctx context.Context, id, token string, expiry time.Time) error {
	res, err := r.pool.Exec(ctx, `
		UPDATE users
		SET reset_token = $2, reset_token_expiry = $3, updated_at = now()
		WHERE id = $1
	`, id, token, expiry)
	if err != nil {
		return fmt.Errorf("update reset token: %w", err)
	}
	if res.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (r *UserRepository) ConsumeResetToken(ctx context.Context, id, token, newHash string, now time.Time) error {
	res, err := r.pool.Exec(ctx, `
		UPDATE users
		SET password_hash = $3, reset_token = NULL, reset_token_expiry = NULL, updated_at = now()
		WHERE id = $1
		  AND reset_token = $2
		  AND reset_token_expiry > $4
	`, id, token, newHash, now)
	if err != nil {
		return fmt.Errorf("consume reset token: %w", err)
	}
	if res.RowsAffected() == 0 {
		return repository.ErrConflict
	}
	return nil
}

func (r *UserRepository) UpdateRole(ctx context.Context, email string, role entity.Role) error {
	res, err := r.pool.Exec(ctx, `
		UPDATE users SET role = $2, updated_at = now() WHERE email = $1
	`, email, role.String())
	if err != nil {
		return fmt.Errorf("update role: %w", err)
	}
	if res.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (r *UserRepository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

// missOrConflict tells a missing row apart from a failed condition after an update touched nothing.
func (r *UserRepository) missOrConflict(ctx context.Context, query string, arg any) error {
	var one int
	err := r.pool.QueryRow(ctx, query, arg).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return repository.ErrNotFound
	}
	if err != nil {
		return err
	}
	return repository.ErrConflict
}

var _ repository.UserRepository = (*UserRepository)(nil)
