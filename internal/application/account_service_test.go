package application

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/oksasatya/account-auth/internal/domain/entity"
	repo "github.com/oksasatya/account-auth/internal/domain/repository"
	"github.com/oksasatya/account-auth/internal/infrastructure/memory"
	"github.com/oksasatya/account-auth/pkg/helpers"
)

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// outbox records every token handed to the notifier.
type outbox struct {
	mu           sync.Mutex
	verification map[string][]string
	reset        map[string][]string
}

func newOutbox() *outbox {
	return &outbox{verification: map[string][]string{}, reset: map[string][]string{}}
}

func (o *outbox) SendVerification(_ context.Context, email, _, token string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.verification[email] = append(o.verification[email], token)
	return nil
}

func (o *outbox) SendPasswordReset(_ context.Context, email, _, token string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.reset[email] = append(o.reset[email], token)
	return nil
}

func (o *outbox) lastVerification(email string) string {
	o.mu.Lock()
	defer o.mu.Unlock()
	v := o.verification[email]
	return v[len(v)-1]
}

func (o *outbox) lastReset(email string) string {
	o.mu.Lock()
	defer o.mu.Unlock()
	v := o.reset[email]
	return v[len(v)-1]
}

type mockNotifier struct{ mock.Mock }

func (m *mockNotifier) SendVerification(ctx context.Context, email, name, token string) error {
	return m.Called(ctx, email, name, token).Error(0)
}

func (m *mockNotifier) SendPasswordReset(ctx context.Context, email, name, token string) error {
	return m.Called(ctx, email, name, token).Error(0)
}

type fixture struct {
	svc    *AccountService
	repo   *memory.UserRepository
	tokens *helpers.TokenManager
	clock  *testClock
	mail   *outbox
	events *[]ActivityEvent
}

func newFixture(t *testing.T, opts ...ServiceOption) *fixture {
	t.Helper()
	clock := &testClock{t: time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)}
	users := memory.NewUserRepository()
	tokens := helpers.NewTokenManager("secret", "account-auth", helpers.DefaultTokenTTLs(), helpers.WithTokenClock(clock.Now))
	mail := newOutbox()
	events := &[]ActivityEvent{}
	var mu sync.Mutex
	sink := ActivitySinkFunc(func(_ context.Context, ev ActivityEvent) error {
		mu.Lock()
		defer mu.Unlock()
		*events = append(*events, ev)
		return nil
	})

	base := []ServiceOption{WithNotifier(mail), WithActivitySink(sink), WithClock(clock.Now)}
	svc := NewAccountService(users, helpers.NewBcryptHasher(bcrypt.MinCost), tokens, helpers.NewDiscardLogger(), append(base, opts...)...)
	return &fixture{svc: svc, repo: users, tokens: tokens, clock: clock, mail: mail, events: events}
}

func (f *fixture) register(t *testing.T, name, email, password string) *AuthResult {
	t.Helper()
	res, err := f.svc.Register(context.Background(), RegisterInput{Name: name, Email: email, Password: password})
	require.NoError(t, err)
	return res
}

func (f *fixture) verified(t *testing.T, email, password string) *entity.User {
	t.Helper()
	res := f.register(t, "User", email, password)
	_, err := f.svc.VerifyEmail(context.Background(), f.mail.lastVerification(res.User.Email))
	require.NoError(t, err)
	return res.User
}

func TestAliceScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	reg := f.register(t, "Alice", "Alice@X.io", "pw123456")
	require.NotEmpty(t, reg.Token, "registration issues a session by default")
	s1 := reg.Token

	stored, err := f.repo.FindByEmail(ctx, "alice@x.io")
	require.NoError(t, err)
	assert.False(t, stored.EmailVerified)
	assert.Equal(t, entity.RoleUser, stored.Role)
	require.NotNil(t, stored.VerificationToken)
	assert.NotEqual(t, "pw123456", stored.PasswordHash)

	_, err = f.svc.Login(ctx, LoginInput{Email: "alice@x.io", Password: "pw123456"})
	assert.ErrorIs(t, err, ErrEmailNotVerified)

	vt := f.mail.lastVerification("alice@x.io")
	assert.Equal(t, *stored.VerificationToken, vt)

	res, err := f.svc.VerifyEmail(ctx, vt)
	require.NoError(t, err)
	assert.False(t, res.AlreadyVerified)

	stored, _ = f.repo.FindByEmail(ctx, "alice@x.io")
	assert.True(t, stored.EmailVerified)
	assert.Nil(t, stored.VerificationToken)

	f.clock.Advance(time.Second)
	login, err := f.svc.Login(ctx, LoginInput{Email: "alice@x.io", Password: "pw123456"})
	require.NoError(t, err)
	assert.NotEqual(t, s1, login.Token)

	claims, err := f.tokens.Verify(helpers.KindSession, login.Token)
	require.NoError(t, err)
	assert.Equal(t, stored.ID, claims.Subject)
}

func TestRegister_SessionOptional(t *testing.T) {
	f := newFixture(t, WithIssueSessionOnRegister(false))
	res := f.register(t, "Bob", "bob@x.io", "pw123456")
	assert.Empty(t, res.Token)
	assert.NotEmpty(t, f.mail.lastVerification("bob@x.io"))
}

func TestRegister_DuplicateEmail(t *testing.T) {
	f := newFixture(t)
	f.register(t, "Alice", "alice@x.io", "pw123456")

	_, err := f.svc.Register(context.Background(), RegisterInput{Name: "Other", Email: " ALICE@x.io", Password: "pw123456"})
	assert.ErrorIs(t, err, ErrDuplicateEmail)
}

func TestRegister_Validation(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Register(context.Background(), RegisterInput{Name: "", Email: "nope", Password: "x"})
	require.ErrorIs(t, err, ErrValidation)

	var appErr *Error
	require.True(t, errors.As(err, &appErr))
	assert.Contains(t, appErr.Fields, "name")
	assert.Contains(t, appErr.Fields, "email")
	assert.Contains(t, appErr.Fields, "password")
}

func TestPassword_ByteLimit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	long := strings.Repeat("é", 40) // 40 runes, 80 bytes

	_, err := f.svc.Register(ctx, RegisterInput{Name: "Bob", Email: "bob@x.io", Password: long})
	require.ErrorIs(t, err, ErrValidation)
	var appErr *Error
	require.True(t, errors.As(err, &appErr))
	assert.Contains(t, appErr.Fields, "password")

	f.verified(t, "bob@x.io", "pw123456")
	require.NoError(t, f.svc.ForgotPassword(ctx, "bob@x.io"))
	err = f.svc.ResetPassword(ctx, ResetPasswordInput{Token: f.mail.lastReset("bob@x.io"), Password: long})
	assert.ErrorIs(t, err, ErrValidation)

	res := f.register(t, "Eve", "eve@x.io", strings.Repeat("é", 36))
	assert.NotEmpty(t, res.User.PasswordHash)
}

// sessionlessTokens fails only when signing session tokens.
type sessionlessTokens struct {
	*helpers.TokenManager
}

func (s sessionlessTokens) Issue(kind helpers.TokenKind, sub helpers.TokenSubject) (string, time.Time, error) {
	if kind == helpers.KindSession {
		return "", time.Time{}, errors.New("signer unavailable")
	}
	return s.TokenManager.Issue(kind, sub)
}

func TestRegister_SessionFailureCreatesNothing(t *testing.T) {
	users := memory.NewUserRepository()
	tokens := helpers.NewTokenManager("secret", "account-auth", helpers.DefaultTokenTTLs())
	hasher := helpers.NewBcryptHasher(bcrypt.MinCost)
	mail := newOutbox()
	ctx := context.Background()
	in := RegisterInput{Name: "Alice", Email: "alice@x.io", Password: "pw123456"}

	broken := NewAccountService(users, hasher, sessionlessTokens{tokens}, helpers.NewDiscardLogger(), WithNotifier(mail))
	_, err := broken.Register(ctx, in)
	require.ErrorIs(t, err, ErrInternal)

	_, err = users.FindByEmail(ctx, "alice@x.io")
	assert.ErrorIs(t, err, repo.ErrNotFound)
	assert.Empty(t, mail.verification["alice@x.io"])

	healthy := NewAccountService(users, hasher, tokens, helpers.NewDiscardLogger())
	res, err := healthy.Register(ctx, in)
	require.NoError(t, err)
	assert.NotEmpty(t, res.Token)
}

func TestRegister_NotifierFailureDoesNotFail(t *testing.T) {
	n := &mockNotifier{}
	n.On("SendVerification", mock.Anything, "carol@x.io", "Carol", mock.AnythingOfType("string")).
		Return(errors.New("broker down")).Once()

	f := newFixture(t, WithNotifier(n))
	res, err := f.svc.Register(context.Background(), RegisterInput{Name: "Carol", Email: "carol@x.io", Password: "pw123456"})
	require.NoError(t, err)
	assert.NotNil(t, res.User)
	n.AssertExpectations(t)
}

func TestLogin_NoEnumeration(t *testing.T) {
	f := newFixture(t)
	f.verified(t, "alice@x.io", "pw123456")
	ctx := context.Background()

	_, errUnknown := f.svc.Login(ctx, LoginInput{Email: "ghost@x.io", Password: "whatever"})
	_, errWrong := f.svc.Login(ctx, LoginInput{Email: "alice@x.io", Password: "wrong-password"})

	require.ErrorIs(t, errUnknown, ErrInvalidCredentials)
	require.ErrorIs(t, errWrong, ErrInvalidCredentials)
	assert.Equal(t, errUnknown.Error(), errWrong.Error())
}

func TestLogin_WrongPasswordOnUnverifiedIsInvalidCredentials(t *testing.T) {
	f := newFixture(t)
	f.register(t, "Dan", "dan@x.io", "pw123456")

	_, err := f.svc.Login(context.Background(), LoginInput{Email: "dan@x.io", Password: "nope-nope"})
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestVerifyEmail_Idempotent(t *testing.T) {
	f := newFixture(t)
	reg := f.register(t, "Alice", "alice@x.io", "pw123456")
	vt := f.mail.lastVerification("alice@x.io")
	ctx := context.Background()

	first, err := f.svc.VerifyEmail(ctx, vt)
	require.NoError(t, err)
	assert.False(t, first.AlreadyVerified)
	before, _ := f.repo.FindByID(ctx, reg.User.ID)

	second, err := f.svc.VerifyEmail(ctx, vt)
	require.NoError(t, err)
	assert.True(t, second.AlreadyVerified)

	after, _ := f.repo.FindByID(ctx, reg.User.ID)
	assert.Equal(t, before, after)
}

func TestVerifyEmail_ConcurrentCallsBothSucceed(t *testing.T) {
	f := newFixture(t)
	f.register(t, "Alice", "alice@x.io", "pw123456")
	vt := f.mail.lastVerification("alice@x.io")

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.svc.VerifyEmail(context.Background(), vt)
		}(i)
	}
	wg.Wait()
	for _, err := range errs {
		assert.NoError(t, err)
	}
}

func TestVerifyEmail_StaleTokenAfterResend(t *testing.T) {
	f := newFixture(t)
	f.register(t, "Alice", "alice@x.io", "pw123456")
	ctx := context.Background()
	old := f.mail.lastVerification("alice@x.io")

	f.clock.Advance(time.Second)
	require.NoError(t, f.svc.ResendVerification(ctx, "alice@x.io"))
	fresh := f.mail.lastVerification("alice@x.io")
	require.NotEqual(t, old, fresh)

	_, err := f.svc.VerifyEmail(ctx, old)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = f.svc.VerifyEmail(ctx, fresh)
	assert.NoError(t, err)
}

func TestVerifyEmail_ExpiryBoundary(t *testing.T) {
	f := newFixture(t)
	f.register(t, "Alice", "alice@x.io", "pw123456")
	f.register(t, "Bob", "bob@x.io", "pw123456")
	ctx := context.Background()

	f.clock.Advance(23*time.Hour + 59*time.Minute)
	_, err := f.svc.VerifyEmail(ctx, f.mail.lastVerification("alice@x.io"))
	assert.NoError(t, err)

	f.clock.Advance(2 * time.Minute)
	_, err = f.svc.VerifyEmail(ctx, f.mail.lastVerification("bob@x.io"))
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifyEmail_UserNotFound(t *testing.T) {
	f := newFixture(t)
	tok, _, err := f.tokens.Issue(helpers.KindEmailVerification, helpers.TokenSubject{Email: "ghost@x.io"})
	require.NoError(t, err)

	_, err = f.svc.VerifyEmail(context.Background(), tok)
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestResendVerification_Errors(t *testing.T) {
	f := newFixture(t)
	f.verified(t, "alice@x.io", "pw123456")
	ctx := context.Background()

	assert.ErrorIs(t, f.svc.ResendVerification(ctx, "ghost@x.io"), ErrUserNotFound)
	assert.ErrorIs(t, f.svc.ResendVerification(ctx, "alice@x.io"), ErrAlreadyVerified)
	assert.ErrorIs(t, f.svc.ResendVerification(ctx, "not-an-email"), ErrValidation)
}

type denyGuard struct{ err error }

func (g denyGuard) Allow(context.Context, string) (bool, error) { return false, g.err }
func (denyGuard) Release(context.Context, string) error           { return nil }

// slotGuard hands out one cooldown slot per address until released.
type slotGuard struct {
	mu   sync.Mutex
	held map[string]bool
}

func newSlotGuard() *slotGuard { return &slotGuard{held: map[string]bool{}} }

func (g *slotGuard) Allow(_ context.Context, email string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.held[email] {
		return false, nil
	}
	g.held[email] = true
	return true, nil
}

func (g *slotGuard) Release(_ context.Context, email string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.held, email)
	return nil
}

func (g *slotGuard) holds(email string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.held[email]
}

type brokenVerificationStore struct {
	*memory.UserRepository
}

func (brokenVerificationStore) UpdateVerification(context.Context, string, repo.VerificationUpdate) error {
	return errors.New("db down")
}

func TestResendVerification_StoreFailureReleasesCooldown(t *testing.T) {
	users := memory.NewUserRepository()
	guard := newSlotGuard()
	tokens := helpers.NewTokenManager("secret", "account-auth", helpers.DefaultTokenTTLs())
	svc := NewAccountService(brokenVerificationStore{users}, helpers.NewBcryptHasher(bcrypt.MinCost), tokens,
		helpers.NewDiscardLogger(), WithResendGuard(guard))
	ctx := context.Background()

	_, err := svc.Register(ctx, RegisterInput{Name: "Alice", Email: "alice@x.io", Password: "pw123456"})
	require.NoError(t, err)

	err = svc.ResendVerification(ctx, "alice@x.io")
	assert.ErrorIs(t, err, ErrInternal)
	assert.False(t, guard.holds("alice@x.io"))
}

func TestResendVerification_SuccessKeepsCooldown(t *testing.T) {
	guard := newSlotGuard()
	f := newFixture(t, WithResendGuard(guard))
	f.register(t, "Alice", "alice@x.io", "pw123456")
	ctx := context.Background()

	require.NoError(t, f.svc.ResendVerification(ctx, "alice@x.io"))
	assert.True(t, guard.holds("alice@x.io"))
	assert.ErrorIs(t, f.svc.ResendVerification(ctx, "alice@x.io"), ErrTooManyRequests)
}

func TestResendVerification_Cooldown(t *testing.T) {
	f := newFixture(t, WithResendGuard(denyGuard{}))
	f.register(t, "Alice", "alice@x.io", "pw123456")

	err := f.svc.ResendVerification(context.Background(), "alice@x.io")
	assert.ErrorIs(t, err, ErrTooManyRequests)
}

func TestResendVerification_GuardErrorFailsOpen(t *testing.T) {
	f := newFixture(t, WithResendGuard(denyGuard{err: errors.New("redis down")}))
	f.register(t, "Alice", "alice@x.io", "pw123456")

	assert.NoError(t, f.svc.ResendVerification(context.Background(), "alice@x.io"))
}

func TestForgotPassword_TwiceOnlyLatestWorks(t *testing.T) {
	f := newFixture(t)
	f.verified(t, "alice@x.io", "pw123456")
	ctx := context.Background()

	require.NoError(t, f.svc.ForgotPassword(ctx, "alice@x.io"))
	r1 := f.mail.lastReset("alice@x.io")
	stored, _ := f.repo.FindByEmail(ctx, "alice@x.io")
	require.NotNil(t, stored.ResetTokenExpiry)
	assert.Equal(t, f.clock.Now().Add(time.Hour).Unix(), stored.ResetTokenExpiry.Unix())

	f.clock.Advance(time.Second)
	require.NoError(t, f.svc.ForgotPassword(ctx, "alice@x.io"))
	r2 := f.mail.lastReset("alice@x.io")
	require.NotEqual(t, r1, r2)

	err := f.svc.ResetPassword(ctx, ResetPasswordInput{Token: r1, Password: "newpass123"})
	assert.ErrorIs(t, err, ErrInvalidToken)

	require.NoError(t, f.svc.ResetPassword(ctx, ResetPasswordInput{Token: r2, Password: "newpass123"}))

	_, err = f.svc.Login(ctx, LoginInput{Email: "alice@x.io", Password: "pw123456"})
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = f.svc.Login(ctx, LoginInput{Email: "alice@x.io", Password: "newpass123"})
	assert.NoError(t, err)
}

func TestResetPassword_SingleUse(t *testing.T) {
	f := newFixture(t)
	f.verified(t, "alice@x.io", "pw123456")
	ctx := context.Background()

	require.NoError(t, f.svc.ForgotPassword(ctx, "alice@x.io"))
	tok := f.mail.lastReset("alice@x.io")

	require.NoError(t, f.svc.ResetPassword(ctx, ResetPasswordInput{Token: tok, Password: "newpass123"}))
	err := f.svc.ResetPassword(ctx, ResetPasswordInput{Token: tok, Password: "another123"})
	assert.ErrorIs(t, err, ErrInvalidToken)

	stored, _ := f.repo.FindByEmail(ctx, "alice@x.io")
	assert.Nil(t, stored.ResetToken)
	assert.Nil(t, stored.ResetTokenExpiry)
}

func TestResetPassword_ExpiryBoundary(t *testing.T) {
	ctx := context.Background()

	ok := newFixture(t)
	ok.verified(t, "alice@x.io", "pw123456")
	require.NoError(t, ok.svc.ForgotPassword(ctx, "alice@x.io"))
	ok.clock.Advance(59 * time.Minute)
	assert.NoError(t, ok.svc.ResetPassword(ctx, ResetPasswordInput{Token: ok.mail.lastReset("alice@x.io"), Password: "newpass123"}))

	late := newFixture(t)
	late.verified(t, "alice@x.io", "pw123456")
	require.NoError(t, late.svc.ForgotPassword(ctx, "alice@x.io"))
	late.clock.Advance(61 * time.Minute)
	err := late.svc.ResetPassword(ctx, ResetPasswordInput{Token: late.mail.lastReset("alice@x.io"), Password: "newpass123"})
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestTokens_CrossKindRejected(t *testing.T) {
	f := newFixture(t)
	f.register(t, "Alice", "alice@x.io", "pw123456")
	ctx := context.Background()
	vt := f.mail.lastVerification("alice@x.io")

	require.NoError(t, f.svc.ForgotPassword(ctx, "alice@x.io"))
	rt := f.mail.lastReset("alice@x.io")

	_, err := f.svc.VerifyEmail(ctx, rt)
	assert.ErrorIs(t, err, ErrInvalidToken)

	err = f.svc.ResetPassword(ctx, ResetPasswordInput{Token: vt, Password: "newpass123"})
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = f.svc.ResolveSession(ctx, vt)
	assert.ErrorIs(t, err, ErrUnauthenticated)
}

func TestForgotPassword_UserNotFound(t *testing.T) {
	f := newFixture(t)
	assert.ErrorIs(t, f.svc.ForgotPassword(context.Background(), "ghost@x.io"), ErrUserNotFound)
}

func TestPromoteToAdmin(t *testing.T) {
	f := newFixture(t)
	u := f.verified(t, "alice@x.io", "pw123456")
	ctx := context.Background()

	_, err := f.svc.PromoteToAdmin(ctx, "ghost@x.io")
	assert.ErrorIs(t, err, ErrUserNotFound)

	promoted, err := f.svc.PromoteToAdmin(ctx, "ALICE@x.io")
	require.NoError(t, err)
	assert.Equal(t, entity.RoleAdmin, promoted.Role)

	again, err := f.svc.PromoteToAdmin(ctx, "alice@x.io")
	require.NoError(t, err)
	assert.Equal(t, entity.RoleAdmin, again.Role)

	login, err := f.svc.Login(ctx, LoginInput{Email: "alice@x.io", Password: "pw123456"})
	require.NoError(t, err)
	cur, err := f.svc.ResolveSession(ctx, login.Token)
	require.NoError(t, err)
	assert.Equal(t, u.ID, cur.ID)
	assert.Equal(t, entity.RoleAdmin, cur.Role)
}

func TestResolveSession_RoleComesFromStore(t *testing.T) {
	f := newFixture(t)
	f.verified(t, "alice@x.io", "pw123456")
	ctx := context.Background()

	login, err := f.svc.Login(ctx, LoginInput{Email: "alice@x.io", Password: "pw123456"})
	require.NoError(t, err)
	_, err = f.svc.PromoteToAdmin(ctx, "alice@x.io")
	require.NoError(t, err)

	cur, err := f.svc.ResolveSession(ctx, login.Token)
	require.NoError(t, err)
	assert.Equal(t, entity.RoleAdmin, cur.Role)
}

func TestActivityIsRecorded(t *testing.T) {
	f := newFixture(t)
	f.verified(t, "alice@x.io", "pw123456")

	var types []ActivityEventType
	for _, ev := range *f.events {
		types = append(types, ev.EventType)
		assert.False(t, ev.OccurredAt.IsZero())
	}
	assert.Equal(t, []ActivityEventType{ActivityUserRegistered, ActivityEmailVerified}, types)
}

func TestStateMachine(t *testing.T) {
	assert.True(t, CanTransition(entity.StateUnverified, entity.StateVerified))
	assert.False(t, CanTransition(entity.StateVerified, entity.StateUnverified))
	assert.False(t, CanTransition(entity.StateVerified, entity.StateVerified))

	err := transition(&entity.User{EmailVerified: true}, entity.StateVerified)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestErrorKinds(t *testing.T) {
	err := newError(KindUserNotFound, "custom message", nil)
	assert.ErrorIs(t, err, ErrUserNotFound)
	assert.NotErrorIs(t, err, ErrInvalidToken)
	assert.Equal(t, KindUserNotFound, KindOf(err))
	assert.Equal(t, KindInternal, KindOf(errors.New("foreign")))

	cause := errors.New("db down")
	wrapped := internalError(cause)
	assert.ErrorIs(t, wrapped, cause)
	assert.ErrorIs(t, wrapped, ErrInternal)
}
