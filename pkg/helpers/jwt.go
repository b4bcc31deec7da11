package helpers

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// TokenKind tags every token with the purpose it was issued for.
type TokenKind string

const (
	KindSession           TokenKind = "session"
	KindEmailVerification TokenKind = "email_verification"
	KindPasswordReset     TokenKind = "password_reset"
)

var (
	ErrTokenExpired   = errors.New("token expired")
	ErrTokenMalformed = errors.New("token malformed")
	ErrTokenSignature = errors.New("token signature invalid")
	ErrTokenKind      = errors.New("token kind mismatch")
	ErrTokenInvalid   = errors.New("token invalid")
)

// Claims is the payload shared by all token kinds. Subject carries the user id
// for session and password_reset tokens; Email is set for session and email_verification.
type Claims struct {
	Kind  TokenKind `json:"kind"`
	Email string    `json:"email,omitempty"`
	Role  string    `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// TokenSubject is what a caller wants embedded in a new token.
type TokenSubject struct {
	UserID string
	Email  string
	Role   string
}

// TokenTTLs holds the lifetime of each token kind.
type TokenTTLs struct {
	Session           time.Duration
	EmailVerification time.Duration
	PasswordReset     time.Duration
}

func DefaultTokenTTLs() TokenTTLs {
	return TokenTTLs{
		Session:           24 * time.Hour,
		EmailVerification: 24 * time.Hour,
		PasswordReset:     time.Hour,
	}
}

// TokenManager signs and verifies HS256 tokens for every kind with one secret.
type TokenManager struct {
	secret []byte
	issuer string
	ttls   TokenTTLs
	now    func() time.Time
}

type TokenOption func(*TokenManager)

// WithTokenClock overrides the clock used for issuance and expiry checks.
func WithTokenClock(now func() time.Time) TokenOption {
	return func(m *TokenManager) {
		if now != nil {
			m.now = now
		}
	}
}

func NewTokenManager(secret, issuer string, ttls TokenTTLs, opts ...TokenOption) *TokenManager {
	m := &TokenManager{
		secret: []byte(secret),
		issuer: issuer,
		ttls:   ttls,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// TTL returns the configured lifetime for kind, or zero for an unknown kind.
func (m *TokenManager) TTL(kind TokenKind) time.Duration {
	switch kind {
	case KindSession:
		return m.ttls.Session
	case KindEmailVerification:
		return m.ttls.EmailVerification
	case KindPasswordReset:
		return m.ttls.PasswordReset
	}
	return 0
}

// Issue signs a token of the given kind and returns it with its expiry.
func (m *TokenManager) Issue(kind TokenKind, sub TokenSubject) (string, time.Time, error) {
	ttl := m.TTL(kind)
	if ttl <= 0 {
		return "", time.Time{}, fmt.Errorf("issue %q: %w", kind, ErrTokenKind)
	}
	if err := requireSubject(kind, sub.UserID, sub.Email); err != nil {
		return "", time.Time{}, err
	}

	now := m.now()
	exp := now.Add(ttl)
	claims := &Claims{
		Kind: kind,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    m.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	switch kind {
	case KindSession:
		claims.Subject = sub.UserID
		claims.Email = sub.Email
		claims.Role = sub.Role
	case KindEmailVerification:
		claims.Email = sub.Email
	case KindPasswordReset:
		claims.Subject = sub.UserID
	}

	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return s, exp, nil
}

// Verify checks signature, issuer, expiry and kind, in that order of failure.
func (m *TokenManager) Verify(kind TokenKind, tokenStr string) (*Claims, error) {
	claims := &Claims{}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(m.now),
		jwt.WithExpirationRequired(),
	}
	if m.issuer != "" {
		opts = append(opts, jwt.WithIssuer(m.issuer))
	}
	_, err := jwt.ParseWithClaims(tokenStr, claims, func(*jwt.Token) (interface{}, error) {
		return m.secret, nil
	}, opts...)
	if err != nil {
		return nil, mapJWTError(err)
	}
	if claims.Kind != kind {
		return nil, ErrTokenKind
	}
	if err := requireSubject(kind, claims.Subject, claims.Email); err != nil {
		return nil, err
	}
	return claims, nil
}

func requireSubject(kind TokenKind, userID, email string) error {
	switch kind {
	case KindSession:
		if userID == "" || email == "" {
			return ErrTokenInvalid
		}
	case KindEmailVerification:
		if email == "" {
			return ErrTokenInvalid
		}
	case KindPasswordReset:
		if userID == "" {
			return ErrTokenInvalid
		}
	}
	return nil
}

func mapJWTError(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenMalformed):
		return ErrTokenMalformed
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return ErrTokenSignature
	case errors.Is(err, jwt.ErrTokenExpired):
		return ErrTokenExpired
	default:
		return fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}
}
