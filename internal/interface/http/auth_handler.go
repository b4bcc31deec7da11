package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/oksasatya/account-auth/internal/application"
	"github.com/oksasatya/account-auth/internal/domain/entity"
	"github.com/oksasatya/account-auth/internal/interface/middleware"
	"github.com/oksasatya/account-auth/pkg/response"
)

type AuthHandler struct {
	Svc    *application.AccountService
	Logger logrus.FieldLogger
}

func NewAuthHandler(svc *application.AccountService, logger logrus.FieldLogger) *AuthHandler {
	return &AuthHandler{Svc: svc, Logger: logger}
}

type userResponse struct {
	ID            string      `json:"id"`
	Email         string      `json:"email"`
	Name          string      `json:"name"`
	Role          entity.Role `json:"role"`
	EmailVerified bool        `json:"emailVerified"`
	CreatedAt     time.Time   `json:"createdAt"`
}

type authResponse struct {
	User      userResponse `json:"user"`
	Token     string       `json:"token,omitempty"`
	ExpiresAt *time.Time   `json:"expiresAt,omitempty"`
}

func toUserResponse(u *entity.User) userResponse {
	return userResponse{
		ID:            u.ID,
		Email:         u.Email,
		Name:          u.Name,
		Role:          u.Role,
		EmailVerified: u.EmailVerified,
		CreatedAt:     u.CreatedAt,
	}
}

func toAuthResponse(res *application.AuthResult) authResponse {
	out := authResponse{User: toUserResponse(res.User), Token: res.Token}
	if res.Token != "" {
		exp := res.ExpiresAt
		out.ExpiresAt = &exp
	}
	return out
}

type emailRequest struct {
	Email string `json:"email"`
}

type tokenRequest struct {
	Token string `json:"token"`
}

// Register POST /api/auth/register {name, email, password}
func (h *AuthHandler) Register(c *gin.Context) {
	var req application.RegisterInput
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}
	res, err := h.Svc.Register(c.Request.Context(), req)
	if err != nil {
		writeError(c, h.Logger, err)
		return
	}
	response.Success(c, http.StatusCreated, toAuthResponse(res), "registered; check your email to verify the account", nil)
}

// Login POST /api/auth/login {email, password}
func (h *AuthHandler) Login(c *gin.Context) {
	var req application.LoginInput
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}
	res, err := h.Svc.Login(c.Request.Context(), req)
	if err != nil {
		writeError(c, h.Logger, err)
		return
	}
	response.Success(c, http.StatusOK, toAuthResponse(res), "logged in", nil)
}

// VerifyEmail POST /api/auth/verify {token} or GET /api/auth/verify?token=
func (h *AuthHandler) VerifyEmail(c *gin.Context) {
	token := c.Query("token")
	if c.Request.Method == http.MethodPost {
		var req tokenRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			bindError(c, err)
			return
		}
		token = req.Token
	}
	res, err := h.Svc.VerifyEmail(c.Request.Context(), token)
	if err != nil {
		writeError(c, h.Logger, err)
		return
	}
	msg := "email verified"
	if res.AlreadyVerified {
		msg = "email already verified"
	}
	response.Success(c, http.StatusOK, gin.H{"verified": true, "alreadyVerified": res.AlreadyVerified}, msg, nil)
}

// ResendVerification POST /api/auth/verify/resend {email}
func (h *AuthHandler) ResendVerification(c *gin.Context) {
	var req emailRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}
	if err := h.Svc.ResendVerification(c.Request.Context(), req.Email); err != nil {
		writeError(c, h.Logger, err)
		return
	}
	response.Success[any](c, http.StatusOK, gin.H{"sent": true}, "verification email sent", nil)
}

// ForgotPassword POST /api/auth/password/forgot {email}
func (h *AuthHandler) ForgotPassword(c *gin.Context) {
	var req emailRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}
	if err := h.Svc.ForgotPassword(c.Request.Context(), req.Email); err != nil {
		writeError(c, h.Logger, err)
		return
	}
	response.Success[any](c, http.StatusOK, gin.H{"sent": true}, "password reset email sent", nil)
}

// ResetPassword POST /api/auth/password/reset {token, password}
func (h *AuthHandler) ResetPassword(c *gin.Context) {
	var req application.ResetPasswordInput
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}
	if err := h.Svc.ResetPassword(c.Request.Context(), req); err != nil {
		writeError(c, h.Logger, err)
		return
	}
	response.Success[any](c, http.StatusOK, gin.H{"reset": true}, "password updated", nil)
}

// Me GET /api/auth/me (auth required)
func (h *AuthHandler) Me(c *gin.Context) {
	id, ok := middleware.IdentityFrom(c)
	if !ok {
		response.Error[any](c, http.StatusUnauthorized, "unauthenticated", nil)
		return
	}
	u, err := h.Svc.Me(c.Request.Context(), id.ID)
	if err != nil {
		writeError(c, h.Logger, err)
		return
	}
	response.Success(c, http.StatusOK, toUserResponse(u), "ok", nil)
}

// PromoteToAdmin POST /api/admin/users/promote {email} (admin only)
func (h *AuthHandler) PromoteToAdmin(c *gin.Context) {
	var req emailRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}
	u, err := h.Svc.PromoteToAdmin(c.Request.Context(), req.Email)
	if err != nil {
		writeError(c, h.Logger, err)
		return
	}
	response.Success(c, http.StatusOK, toUserResponse(u), "user promoted to admin", nil)
}
