package modules

import (
	"net/http"

	"github.com/gin-gonic/gin"

	handlers "github.com/oksasatya/account-auth/internal/interface/http"
	"github.com/oksasatya/account-auth/internal/interface/middleware"
)

// AuthModule wires account routes under /auth.
// Public: register, login, verify, verify/resend, password/forgot, password/reset
// Protected: GET /auth/me
type AuthModule struct {
	Handler *handlers.AuthHandler
	Auth    gin.HandlerFunc
}

func NewAuthModule(h *handlers.AuthHandler, auth gin.HandlerFunc) *AuthModule {
	return &AuthModule{Handler: h, Auth: auth}
}

func (m *AuthModule) Register(rg *gin.RouterGroup) {
	g := rg.Group("/auth")
	g.POST("/register", m.Handler.Register)
	g.POST("/login", m.Handler.Login)
	g.POST("/verify", m.Handler.VerifyEmail)
	g.GET("/verify", m.Handler.VerifyEmail)
	g.POST("/verify/resend", m.Handler.ResendVerification)
	g.POST("/password/forgot", m.Handler.ForgotPassword)
	g.POST("/password/reset", m.Handler.ResetPassword)

	g.GET("/me", m.Auth, m.Handler.Me)
}

// AdminModule exposes administrative account operations behind RequireAdmin.
type AdminModule struct {
	Handler *handlers.AuthHandler
	Auth    gin.HandlerFunc
}

func NewAdminModule(h *handlers.AuthHandler, auth gin.HandlerFunc) *AdminModule {
	return &AdminModule{Handler: h, Auth: auth}
}

func (m *AdminModule) Register(rg *gin.RouterGroup) {
	admin := rg.Group("/admin", m.Auth, middleware.RequireAdmin())
	admin.POST("/users/promote", m.Handler.PromoteToAdmin)
}

// HealthModule exposes the readiness probe.
type HealthModule struct {
	Handler *handlers.HealthHandler
}

func NewHealthModule(h *handlers.HealthHandler) *HealthModule {
	return &HealthModule{Handler: h}
}

func (m *HealthModule) Register(rg *gin.RouterGroup) {
	rg.GET("/healthz", m.Handler.Healthz)
	rg.HEAD("/healthz", func(c *gin.Context) { c.Status(http.StatusOK) })
}
