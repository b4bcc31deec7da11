package notify

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/oksasatya/account-auth/pkg/helpers"
	"github.com/oksasatya/account-auth/pkg/mailer"
	tpl "github.com/oksasatya/account-auth/pkg/mailer/templates"
)

type mockPublisher struct{ mock.Mock }

func (m *mockPublisher) PublishJSON(ctx context.Context, body any) error {
	return m.Called(ctx, body).Error(0)
}

func newNotifier(pub Publisher) *QueueNotifier {
	n := NewQueueNotifier(pub,
		Links{VerifyEmailURL: "https://app.test/verify", ResetPasswordURL: "https://app.test/reset?lang=en"},
		tpl.Branding{AppName: "App"},
		TTLs{Verification: 24 * time.Hour, Reset: time.Hour},
	)
	n.now = func() time.Time { return time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC) }
	return n
}

func TestQueueNotifier_SendVerification(t *testing.T) {
	pub := &mockPublisher{}
	var job mailer.EmailJob
	pub.On("PublishJSON", mock.Anything, mock.AnythingOfType("mailer.EmailJob")).
		Run(func(args mock.Arguments) { job = args.Get(1).(mailer.EmailJob) }).
		Return(nil).Once()

	require.NoError(t, newNotifier(pub).SendVerification(context.Background(), "alice@x.io", "Alice", "tok+/="))
	pub.AssertExpectations(t)

	assert.Equal(t, "alice@x.io", job.To)
	assert.Equal(t, tpl.VerifyEmail, job.Template)
	assert.Equal(t, "https://app.test/verify?token=tok%2B%2F%3D", job.Data["ActionURL"])
	assert.Equal(t, "02 January 2025, 00:00 UTC", job.Data["ExpiresAtText"])

	subject, _, _, err := job.Rendered()
	require.NoError(t, err)
	assert.Equal(t, "Verify your email for App", subject)
}

func TestQueueNotifier_SendPasswordResetKeepsQuery(t *testing.T) {
	pub := &mockPublisher{}
	var job mailer.EmailJob
	pub.On("PublishJSON", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { job = args.Get(1).(mailer.EmailJob) }).
		Return(nil).Once()

	require.NoError(t, newNotifier(pub).SendPasswordReset(context.Background(), "alice@x.io", "Alice", "r1"))
	assert.Equal(t, tpl.ForgotPassword, job.Template)
	assert.Equal(t, "https://app.test/reset?lang=en&token=r1", job.Data["ActionURL"])
}

func TestQueueNotifier_PublishError(t *testing.T) {
	pub := &mockPublisher{}
	pub.On("PublishJSON", mock.Anything, mock.Anything).Return(errors.New("channel closed")).Once()

	err := newNotifier(pub).SendPasswordReset(context.Background(), "alice@x.io", "Alice", "r1")
	assert.EqualError(t, err, "channel closed")
}

func TestLogNotifier(t *testing.T) {
	n := NewLogNotifier(helpers.NewDiscardLogger())
	assert.NoError(t, n.SendVerification(context.Background(), "a@x.io", "A", "t"))
	assert.NoError(t, n.SendPasswordReset(context.Background(), "a@x.io", "A", "t"))
}
