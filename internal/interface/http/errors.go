package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/oksasatya/account-auth/internal/application"
	"github.com/oksasatya/account-auth/pkg/helpers"
	"github.com/oksasatya/account-auth/pkg/response"
	"github.com/oksasatya/account-auth/pkg/validation"
)

func statusFor(kind application.Kind) int {
	switch kind {
	case application.KindValidation, application.KindAlreadyVerified:
		return http.StatusBadRequest
	case application.KindInvalidCredentials, application.KindInvalidToken, application.KindUnauthenticated:
		return http.StatusUnauthorized
	case application.KindEmailNotVerified, application.KindForbidden:
		return http.StatusForbidden
	case application.KindUserNotFound:
		return http.StatusNotFound
	case application.KindDuplicateEmail:
		return http.StatusConflict
	case application.KindTooManyRequests:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// writeError renders a service error. Internal causes are logged, never returned.
func writeError(c *gin.Context, logger logrus.FieldLogger, err error) {
	var appErr *application.Error
	if !errors.As(err, &appErr) {
		appErr = &application.Error{Kind: application.KindInternal, Err: err}
	}
	status := statusFor(appErr.Kind)

	switch appErr.Kind {
	case application.KindInternal:
		helpers.LogError(logger, "request failed", err, logrus.Fields{"request_id": c.GetString("request_id")})
		response.Error[any](c, status, "internal server error", nil)
	case application.KindValidation:
		response.Error[any](c, status, appErr.Message, appErr.Fields)
	case application.KindEmailNotVerified:
		response.Error[any](c, status, appErr.Message, gin.H{"needsVerification": true})
	default:
		response.Error[any](c, status, appErr.Message, gin.H{"code": appErr.Kind.String()})
	}
}

func bindError(c *gin.Context, err error) {
	response.Error[any](c, http.StatusBadRequest, "invalid payload", validation.ToDetails(err))
}
