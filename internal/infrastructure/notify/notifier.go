// Package notify turns account notifications into email jobs.
package notify

import (
	"context"
	"net/url"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/oksasatya/account-auth/internal/application"
	"github.com/oksasatya/account-auth/pkg/mailer"
	tpl "github.com/oksasatya/account-auth/pkg/mailer/templates"
)

// Publisher is satisfied by helpers.RabbitPublisher.
type Publisher interface {
	PublishJSON(ctx context.Context, body any) error
}

// Links holds the front-end pages that receive the token as a query parameter.
type Links struct {
	VerifyEmailURL   string
	ResetPasswordURL string
}

// QueueNotifier publishes rendered-by-worker email jobs to the email queue.
type QueueNotifier struct {
	pub      Publisher
	links    Links
	branding tpl.Branding
	ttls     TTLs
	now      func() time.Time
}

// TTLs are used only for the "expires on" line in emails.
type TTLs struct {
	Verification time.Duration
	Reset        time.Duration
}

func NewQueueNotifier(pub Publisher, links Links, branding tpl.Branding, ttls TTLs) *QueueNotifier {
	return &QueueNotifier{pub: pub, links: links, branding: branding, ttls: ttls, now: time.Now}
}

func (n *QueueNotifier) SendVerification(ctx context.Context, email, name, token string) error {
	link, err := withToken(n.links.VerifyEmailURL, token)
	if err != nil {
		return err
	}
	data := tpl.NewVerifyEmailData(n.branding, name, email, link, n.expiry(n.ttls.Verification)...)
	return n.pub.PublishJSON(ctx, mailer.EmailJob{To: email, Template: tpl.VerifyEmail, Data: data})
}

func (n *QueueNotifier) SendPasswordReset(ctx context.Context, email, name, token string) error {
	link, err := withToken(n.links.ResetPasswordURL, token)
	if err != nil {
		return err
	}
	data := tpl.NewForgotPasswordData(n.branding, name, email, link, n.expiry(n.ttls.Reset)...)
	return n.pub.PublishJSON(ctx, mailer.EmailJob{To: email, Template: tpl.ForgotPassword, Data: data})
}

func (n *QueueNotifier) expiry(ttl time.Duration) []tpl.Option {
	if ttl <= 0 {
		return nil
	}
	return []tpl.Option{tpl.WithExpiresAt(n.now().Add(ttl))}
}

// withToken appends token as the "token" query parameter, keeping any existing query.
func withToken(base, token string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// LogNotifier only logs; used when MAIL_SEND_ENABLED=false.
type LogNotifier struct {
	logger logrus.FieldLogger
}

func NewLogNotifier(logger logrus.FieldLogger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) SendVerification(_ context.Context, email, _, _ string) error {
	n.logger.WithField("email", email).Info("mail disabled; verification email not sent")
	return nil
}

func (n *LogNotifier) SendPasswordReset(_ context.Context, email, _, _ string) error {
	n.logger.WithField("email", email).Info("mail disabled; password reset email not sent")
	return nil
}

var (
	_ application.Notifier = (*QueueNotifier)(nil)
	_ application.Notifier = (*LogNotifier)(nil)
)
