package application

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/oksasatya/account-auth/internal/domain/entity"
	repo "github.com/oksasatya/account-auth/internal/domain/repository"
	"github.com/oksasatya/account-auth/pkg/helpers"
	"github.com/oksasatya/account-auth/pkg/validation"
)

const (
	defaultNotifyTimeout = 5 * time.Second
	storeWriteTimeout    = 5 * time.Second
)

// TokenIssuer is the slice of helpers.TokenManager the service depends on.
type TokenIssuer interface {
	Issue(kind helpers.TokenKind, sub helpers.TokenSubject) (string, time.Time, error)
	Verify(kind helpers.TokenKind, token string) (*helpers.Claims, error)
}

// AccountService runs registration, login, verification, password reset and role changes.
type AccountService struct {
	repo     repo.UserRepository
	hasher   helpers.Hasher
	tokens   TokenIssuer
	notifier Notifier
	activity ActivitySink
	guard    ResendGuard
	logger   logrus.FieldLogger
	validate *validator.Validate
	now      func() time.Time

	issueSessionOnRegister bool
	notifyTimeout          time.Duration
	dummyHash              string
}

type ServiceOption func(*AccountService)

func WithNotifier(n Notifier) ServiceOption {
	return func(s *AccountService) {
		if n != nil {
			s.notifier = n
		}
	}
}

func WithActivitySink(a ActivitySink) ServiceOption {
	return func(s *AccountService) {
		if a != nil {
			s.activity = a
		}
	}
}

func WithResendGuard(g ResendGuard) ServiceOption {
	return func(s *AccountService) {
		if g != nil {
			s.guard = g
		}
	}
}

// WithClock overrides the clock used for reset-token expiry checks.
func WithClock(now func() time.Time) ServiceOption {
	return func(s *AccountService) {
		if now != nil {
			s.now = now
		}
	}
}

func WithIssueSessionOnRegister(enabled bool) ServiceOption {
	return func(s *AccountService) { s.issueSessionOnRegister = enabled }
}

func WithNotifyTimeout(d time.Duration) ServiceOption {
	return func(s *AccountService) {
		if d > 0 {
			s.notifyTimeout = d
		}
	}
}

func NewAccountService(users repo.UserRepository, hasher helpers.Hasher, tokens TokenIssuer, logger logrus.FieldLogger, opts ...ServiceOption) *AccountService {
	s := &AccountService{
		repo:                   users,
		hasher:                 hasher,
		tokens:                 tokens,
		notifier:               noopNotifier{},
		activity:               noopActivitySink{},
		guard:                  allowAllGuard{},
		logger:                 logger,
		validate:               validation.New(),
		now:                    time.Now,
		issueSessionOnRegister: true,
		notifyTimeout:          defaultNotifyTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	// Compared against on unknown-email logins so both failure paths cost one hash check.
	if h, err := hasher.Hash(uuid.NewString()); err == nil {
		s.dummyHash = h
	} else {
		logger.WithError(err).Warn("dummy hash generation failed")
	}
	return s
}

type RegisterInput struct {
	Name     string `json:"name" validate:"required,personname"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,pwd"`
}

type LoginInput struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type ResetPasswordInput struct {
	Token    string `json:"token" validate:"required"`
	Password string `json:"password" validate:"required,pwd"`
}

type emailInput struct {
	Email string `json:"email" validate:"required,email"`
}

// AuthResult is returned by Register and Login. Token is empty when no session was issued.
type AuthResult struct {
	User      *entity.User
	Token     string
	ExpiresAt time.Time
}

type VerifyResult struct {
	Email           string
	AlreadyVerified bool
}

func (s *AccountService) Register(ctx context.Context, in RegisterInput) (*AuthResult, error) {
	in.Email = entity.NormalizeEmail(in.Email)
	in.Name = strings.TrimSpace(in.Name)
	if err := s.check(in); err != nil {
		return nil, err
	}

	if _, err := s.repo.FindByEmail(ctx, in.Email); err == nil {
		return nil, ErrDuplicateEmail
	} else if !errors.Is(err, repo.ErrNotFound) {
		return nil, s.internal(err, "find user by email", logrus.Fields{"email": in.Email})
	}

	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, s.internal(err, "hash password", nil)
	}
	vtok, _, err := s.tokens.Issue(helpers.KindEmailVerification, helpers.TokenSubject{Email: in.Email})
	if err != nil {
		return nil, s.internal(err, "issue verification token", nil)
	}

	u := &entity.User{
		ID:                uuid.NewString(),
		Email:             in.Email,
		PasswordHash:      hash,
		Name:              in.Name,
		Role:              entity.RoleUser,
		VerificationToken: &vtok,
	}
	res := &AuthResult{User: u}
	if s.issueSessionOnRegister {
		// Must precede Create.
		tok, exp, err := s.issueSession(u)
		if err != nil {
			return nil, err
		}
		res.Token, res.ExpiresAt = tok, exp
	}

	if err := s.repo.Create(ctx, u); err != nil {
		if errors.Is(err, repo.ErrDuplicateEmail) {
			return nil, ErrDuplicateEmail
		}
		return nil, s.internal(err, "create user", logrus.Fields{"email": in.Email})
	}

	s.dispatch(ctx, "verification", u.Email, func(c context.Context) error {
		return s.notifier.SendVerification(c, u.Email, u.Name, vtok)
	})
	s.record(ctx, ActivityEvent{EventType: ActivityUserRegistered, UserID: u.ID, Email: u.Email})
	return res, nil
}

// Login fails with the same error for an unknown email and a wrong password.
func (s *AccountService) Login(ctx context.Context, in LoginInput) (*AuthResult, error) {
	in.Email = entity.NormalizeEmail(in.Email)
	if err := s.check(in); err != nil {
		return nil, err
	}

	u, err := s.repo.FindByEmail(ctx, in.Email)
	if err != nil {
		if !errors.Is(err, repo.ErrNotFound) {
			return nil, s.internal(err, "find user by email", logrus.Fields{"email": in.Email})
		}
		s.hasher.Verify(in.Password, s.dummyHash)
		s.record(ctx, ActivityEvent{EventType: ActivityLoginFailure, Email: in.Email})
		return nil, ErrInvalidCredentials
	}
	if !s.hasher.Verify(in.Password, u.PasswordHash) {
		s.record(ctx, ActivityEvent{EventType: ActivityLoginFailure, UserID: u.ID, Email: u.Email})
		return nil, ErrInvalidCredentials
	}
	if !u.EmailVerified {
		return nil, ErrEmailNotVerified
	}

	tok, exp, err := s.issueSession(u)
	if err != nil {
		return nil, err
	}
	s.record(ctx, ActivityEvent{EventType: ActivityLoginSuccess, UserID: u.ID, Email: u.Email})
	return &AuthResult{User: u, Token: tok, ExpiresAt: exp}, nil
}

// VerifyEmail is idempotent: a valid token for an already verified account succeeds
// with AlreadyVerified set and changes nothing.
func (s *AccountService) VerifyEmail(ctx context.Context, token string) (*VerifyResult, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, validationError(map[string]string{"token": "is required"})
	}
	claims, err := s.tokens.Verify(helpers.KindEmailVerification, token)
	if err != nil {
		return nil, newError(KindInvalidToken, "invalid or expired token", err)
	}

	u, err := s.findByEmail(ctx, claims.Email)
	if err != nil {
		return nil, err
	}
	if u.EmailVerified {
		return &VerifyResult{Email: u.Email, AlreadyVerified: true}, nil
	}
	if err := transition(u, entity.StateVerified); err != nil {
		return nil, s.internal(err, "verify email", logrus.Fields{"user_id": u.ID})
	}

	wctx, cancel := s.writeContext(ctx)
	defer cancel()
	err = s.repo.UpdateVerification(wctx, u.Email, repo.VerificationUpdate{EmailVerified: true, MatchToken: &token})
	switch {
	case err == nil:
	case errors.Is(err, repo.ErrNotFound):
		return nil, ErrUserNotFound
	case errors.Is(err, repo.ErrConflict):
		// Either a concurrent verify won, or a resend replaced this token.
		cur, ferr := s.findByEmail(ctx, u.Email)
		if ferr != nil {
			return nil, ferr
		}
		if cur.EmailVerified {
			return &VerifyResult{Email: cur.Email, AlreadyVerified: true}, nil
		}
		return nil, newError(KindInvalidToken, "verification token superseded", err)
	default:
		return nil, s.internal(err, "update verification", logrus.Fields{"user_id": u.ID})
	}

	s.record(ctx, ActivityEvent{EventType: ActivityEmailVerified, UserID: u.ID, Email: u.Email})
	return &VerifyResult{Email: u.Email}, nil
}

// ResendVerification replaces the stored verification token, which invalidates earlier links.
func (s *AccountService) ResendVerification(ctx context.Context, email string) error {
	email, err := s.checkEmail(email)
	if err != nil {
		return err
	}
	u, err := s.findByEmail(ctx, email)
	if err != nil {
		return err
	}
	if u.EmailVerified {
		return ErrAlreadyVerified
	}

	ok, err := s.guard.Allow(ctx, u.Email)
	if err != nil {
		s.logger.WithError(err).WithField("email", u.Email).Warn("resend cooldown check failed")
	} else if !ok {
		return newError(KindTooManyRequests, "verification email was sent recently, try again later", nil)
	}

	claimed := err == nil
	if err := s.storeVerificationToken(ctx, u); err != nil {
		if claimed {
			s.releaseCooldown(ctx, u.Email)
		}
		return err
	}
	s.record(ctx, ActivityEvent{EventType: ActivityVerificationResent, UserID: u.ID, Email: u.Email})
	return nil
}

// storeVerificationToken replaces the pending token and mails the new link.
func (s *AccountService) storeVerificationToken(ctx context.Context, u *entity.User) error {
	vtok, _, err := s.tokens.Issue(helpers.KindEmailVerification, helpers.TokenSubject{Email: u.Email})
	if err != nil {
		return s.internal(err, "issue verification token", nil)
	}
	err = s.repo.UpdateVerification(ctx, u.Email, repo.VerificationUpdate{VerificationToken: &vtok})
	switch {
	case err == nil:
	case errors.Is(err, repo.ErrConflict):
		return ErrAlreadyVerified
	case errors.Is(err, repo.ErrNotFound):
		return ErrUserNotFound
	default:
		return s.internal(err, "store verification token", logrus.Fields{"user_id": u.ID})
	}

	s.dispatch(ctx, "verification", u.Email, func(c context.Context) error {
		return s.notifier.SendVerification(c, u.Email, u.Name, vtok)
	})
	return nil
}

func (s *AccountService) releaseCooldown(ctx context.Context, email string) {
	if err := s.guard.Release(ctx, email); err != nil {
		s.logger.WithError(err).WithField("email", email).Warn("resend cooldown release failed")
	}
}

// ForgotPassword stores a fresh reset token, replacing any earlier one.
func (s *AccountService) ForgotPassword(ctx context.Context, email string) error {
	email, err := s.checkEmail(email)
	if err != nil {
		return err
	}
	u, err := s.findByEmail(ctx, email)
	if err != nil {
		return err
	}

	rtok, exp, err := s.tokens.Issue(helpers.KindPasswordReset, helpers.TokenSubject{UserID: u.ID})
	if err != nil {
		return s.internal(err, "issue reset token", nil)
	}
	if err := s.repo.UpdateResetToken(ctx, u.ID, rtok, exp); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return ErrUserNotFound
		}
		return s.internal(err, "store reset token", logrus.Fields{"user_id": u.ID})
	}

	s.dispatch(ctx, "password_reset", u.Email, func(c context.Context) error {
		return s.notifier.SendPasswordReset(c, u.Email, u.Name, rtok)
	})
	s.record(ctx, ActivityEvent{EventType: ActivityPasswordResetRequest, UserID: u.ID, Email: u.Email})
	return nil
}

// ResetPassword consumes a reset token once. The password swap and token clear are one store write.
func (s *AccountService) ResetPassword(ctx context.Context, in ResetPasswordInput) error {
	in.Token = strings.TrimSpace(in.Token)
	if err := s.check(in); err != nil {
		return err
	}
	claims, err := s.tokens.Verify(helpers.KindPasswordReset, in.Token)
	if err != nil {
		return invalidOrExpired(err)
	}

	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return s.internal(err, "hash password", nil)
	}

	wctx, cancel := s.writeContext(ctx)
	defer cancel()
	if err := s.repo.ConsumeResetToken(wctx, claims.Subject, in.Token, hash, s.now()); err != nil {
		if errors.Is(err, repo.ErrConflict) || errors.Is(err, repo.ErrNotFound) {
			return invalidOrExpired(err)
		}
		return s.internal(err, "consume reset token", logrus.Fields{"user_id": claims.Subject})
	}

	s.record(ctx, ActivityEvent{EventType: ActivityPasswordReset, UserID: claims.Subject})
	return nil
}

// PromoteToAdmin is an administrative operation; callers gate it behind RequireAdmin or the CLI.
func (s *AccountService) PromoteToAdmin(ctx context.Context, email string) (*entity.User, error) {
	email, err := s.checkEmail(email)
	if err != nil {
		return nil, err
	}
	u, err := s.findByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if u.Role.IsAdmin() {
		return u, nil
	}
	if err := s.repo.UpdateRole(ctx, u.Email, entity.RoleAdmin); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, s.internal(err, "update role", logrus.Fields{"user_id": u.ID})
	}
	u.Role = entity.RoleAdmin
	s.record(ctx, ActivityEvent{EventType: ActivityRolePromoted, UserID: u.ID, Email: u.Email})
	return u, nil
}

// ResolveSession turns a bearer token into the current account. Role comes from the store.
func (s *AccountService) ResolveSession(ctx context.Context, token string) (*entity.User, error) {
	claims, err := s.tokens.Verify(helpers.KindSession, token)
	if err != nil {
		return nil, newError(KindUnauthenticated, "invalid session token", err)
	}
	u, err := s.repo.FindByID(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, newError(KindUnauthenticated, "account no longer exists", err)
		}
		return nil, s.internal(err, "find user by id", logrus.Fields{"user_id": claims.Subject})
	}
	return u, nil
}

func (s *AccountService) Me(ctx context.Context, id string) (*entity.User, error) {
	u, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, s.internal(err, "find user by id", logrus.Fields{"user_id": id})
	}
	return u, nil
}

func (s *AccountService) issueSession(u *entity.User) (string, time.Time, error) {
	tok, exp, err := s.tokens.Issue(helpers.KindSession, helpers.TokenSubject{
		UserID: u.ID,
		Email:  u.Email,
		Role:   u.Role.String(),
	})
	if err != nil {
		return "", time.Time{}, s.internal(err, "issue session token", logrus.Fields{"user_id": u.ID})
	}
	return tok, exp, nil
}

func (s *AccountService) findByEmail(ctx context.Context, email string) (*entity.User, error) {
	u, err := s.repo.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, s.internal(err, "find user by email", logrus.Fields{"email": email})
	}
	return u, nil
}

func (s *AccountService) check(in any) error {
	if err := s.validate.Struct(in); err != nil {
		return validationError(validation.ToDetails(err))
	}
	return nil
}

func (s *AccountService) checkEmail(email string) (string, error) {
	in := emailInput{Email: entity.NormalizeEmail(email)}
	if err := s.check(in); err != nil {
		return "", err
	}
	return in.Email, nil
}

// writeContext detaches a token-consuming write from request cancellation so it
// completes or fails as a whole.
func (s *AccountService) writeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), storeWriteTimeout)
}

// dispatch sends an email after the state change is committed. Failures are logged only.
func (s *AccountService) dispatch(ctx context.Context, kind, email string, send func(context.Context) error) {
	c, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.notifyTimeout)
	defer cancel()
	if err := send(c); err != nil {
		s.logger.WithError(err).WithFields(logrus.Fields{"kind": kind, "email": email}).Warn("notification dispatch failed")
	}
}

func (s *AccountService) record(ctx context.Context, ev ActivityEvent) {
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = s.now().UTC()
	}
	if ci, ok := ClientInfoFromContext(ctx); ok {
		if ev.Metadata == nil {
			ev.Metadata = map[string]any{}
		}
		ev.Metadata["ip"] = ci.IP
		ev.Metadata["user_agent"] = ci.UserAgent
	}
	if id, ok := IdentityFromContext(ctx); ok {
		if ev.Metadata == nil {
			ev.Metadata = map[string]any{}
		}
		ev.Metadata["actor_id"] = id.ID
	}
	if err := s.activity.Record(ctx, ev); err != nil {
		s.logger.WithError(err).WithField("event", ev.EventType).Warn("activity record failed")
	}
}

func (s *AccountService) internal(err error, op string, fields logrus.Fields) *Error {
	all := logrus.Fields{"op": op}
	for k, v := range fields {
		all[k] = v
	}
	helpers.LogError(s.logger, "account operation failed", err, all)
	return internalError(err)
}
