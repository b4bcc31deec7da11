package application

import (
	"context"
	"time"
)

// ActivityEventType names an auditable account action.
type ActivityEventType string

const (
	ActivityUserRegistered       ActivityEventType = "auth.user.registered"
	ActivityLoginSuccess         ActivityEventType = "auth.login.success"
	ActivityLoginFailure         ActivityEventType = "auth.login.failure"
	ActivityEmailVerified        ActivityEventType = "auth.email.verified"
	ActivityVerificationResent   ActivityEventType = "auth.verification.resent"
	ActivityPasswordResetRequest ActivityEventType = "auth.password.reset_requested"
	ActivityPasswordReset        ActivityEventType = "auth.password.reset"
	ActivityRolePromoted         ActivityEventType = "auth.role.promoted"
)

// ActivityEvent captures audit-friendly information about an action. It never carries tokens or passwords.
type ActivityEvent struct {
	EventType  ActivityEventType `json:"event_type"`
	UserID     string            `json:"user_id,omitempty"`
	Email      string            `json:"email,omitempty"`
	Metadata   map[string]any    `json:"metadata,omitempty"`
	OccurredAt time.Time         `json:"occurred_at"`
}

// ActivitySink consumes activity events for auditing.
type ActivitySink interface {
	Record(ctx context.Context, event ActivityEvent) error
}

// ActivitySinkFunc adapts a function to the ActivitySink interface.
type ActivitySinkFunc func(ctx context.Context, event ActivityEvent) error

func (f ActivitySinkFunc) Record(ctx context.Context, event ActivityEvent) error {
	if f == nil {
		return nil
	}
	return f(ctx, event)
}

type noopActivitySink struct{}

func (noopActivitySink) Record(context.Context, ActivityEvent) error { return nil }
