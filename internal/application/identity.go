package application

import (
	"context"

	"github.com/oksasatya/account-auth/internal/domain/entity"
)

// Identity is the authenticated caller attached to a request.
type Identity struct {
	ID    string      `json:"id"`
	Email string      `json:"email"`
	Name  string      `json:"name"`
	Role  entity.Role `json:"role"`
}

func IdentityOf(u *entity.User) Identity {
	return Identity{ID: u.ID, Email: u.Email, Name: u.Name, Role: u.Role}
}

// RequireAdmin fails with Forbidden unless the caller holds the ADMIN role.
func (id Identity) RequireAdmin() error {
	if !id.Role.IsAdmin() {
		return newError(KindForbidden, "admin role required", nil)
	}
	return nil
}

// ClientInfo describes where a request came from, for audit metadata.
type ClientInfo struct {
	IP        string
	UserAgent string
}

type (
	identityKey struct{}
	clientKey   struct{}
)

func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

func IdentityFromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(Identity)
	return id, ok
}

func WithClientInfo(ctx context.Context, ci ClientInfo) context.Context {
	return context.WithValue(ctx, clientKey{}, ci)
}

func ClientInfoFromContext(ctx context.Context) (ClientInfo, bool) {
	ci, ok := ctx.Value(clientKey{}).(ClientInfo)
	return ci, ok
}
