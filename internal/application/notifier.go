package application

import "context"

// Notifier delivers account emails. The token is the raw value to embed in a link;
// implementations decide how the link is built and how the email is transported.
type Notifier interface {
	SendVerification(ctx context.Context, email, name, token string) error
	SendPasswordReset(ctx context.Context, email, name, token string) error
}

// ResendGuard rate-limits verification resends per address.
type ResendGuard interface {
	// Allow reports whether a resend may proceed now and starts a new cooldown if so.
	Allow(ctx context.Context, email string) (bool, error)
	// Release drops a cooldown taken by Allow when the resend did not go through.
	Release(ctx context.Context, email string) error
}

type noopNotifier struct{}

func (noopNotifier) SendVerification(context.Context, string, string, string) error  { return nil }
func (noopNotifier) SendPasswordReset(context.Context, string, string, string) error { return nil }

type allowAllGuard struct{}

func (allowAllGuard) Allow(context.Context, string) (bool, error) { return true, nil }
func (allowAllGuard) Release(context.Context, string) error        { return nil }
