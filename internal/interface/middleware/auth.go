package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/oksasatya/account-auth/internal/application"
	"github.com/oksasatya/account-auth/internal/domain/entity"
	"github.com/oksasatya/account-auth/pkg/helpers"
	"github.com/oksasatya/account-auth/pkg/response"
)

const CtxIdentityKey = "identity"

// SessionResolver is satisfied by application.AccountService.
type SessionResolver interface {
	ResolveSession(ctx context.Context, token string) (*entity.User, error)
}

// Authenticate requires "Authorization: Bearer <session token>" and attaches the caller's
// Identity to both the Gin context and the request context.
func Authenticate(resolver SessionResolver, logger logrus.FieldLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := bearerToken(c.GetHeader("Authorization"))
		if !ok {
			response.Abort(c, http.StatusUnauthorized, "missing bearer token", nil)
			return
		}
		u, err := resolver.ResolveSession(c.Request.Context(), token)
		if err != nil {
			if application.KindOf(err) == application.KindInternal {
				helpers.LogError(logger, "session resolve failed", err, logrus.Fields{"request_id": c.GetString("request_id")})
				response.Abort(c, http.StatusInternalServerError, "internal server error", nil)
				return
			}
			response.Abort(c, http.StatusUnauthorized, "invalid or expired session", nil)
			return
		}

		id := application.IdentityOf(u)
		c.Set(CtxIdentityKey, id)
		c.Request = c.Request.WithContext(application.WithIdentity(c.Request.Context(), id))
		c.Next()
	}
}

// RequireAdmin must run after Authenticate.
func RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := IdentityFrom(c)
		if !ok {
			abortWith(c, application.ErrUnauthenticated)
			return
		}
		if err := id.RequireAdmin(); err != nil {
			abortWith(c, err)
			return
		}
		c.Next()
	}
}

// abortWith renders the authorization failures this package produces.
func abortWith(c *gin.Context, err error) {
	var appErr *application.Error
	if !errors.As(err, &appErr) {
		response.Abort(c, http.StatusInternalServerError, "internal server error", nil)
		return
	}
	status := http.StatusUnauthorized
	if appErr.Kind == application.KindForbidden {
		status = http.StatusForbidden
	}
	response.Abort(c, status, appErr.Message, gin.H{"code": appErr.Kind.String()})
}

func IdentityFrom(c *gin.Context) (application.Identity, bool) {
	v, ok := c.Get(CtxIdentityKey)
	if !ok {
		return application.Identity{}, false
	}
	id, ok := v.(application.Identity)
	return id, ok
}

func bearerToken(header string) (string, bool) {
	parts := strings.SplitN(strings.TrimSpace(header), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}
	token := strings.TrimSpace(parts[1])
	return token, token != ""
}
