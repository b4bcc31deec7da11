package middleware

import (
	"net"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/oksasatya/account-auth/internal/application"
)

// ClientInfo resolves the caller's IP and User-Agent, stores the IP under "real_ip"
// and attaches both to the request context for audit events.
// IP priority: CF-Connecting-IP, left-most X-Forwarded-For, then c.ClientIP().
func ClientInfo() gin.HandlerFunc {
	return func(c *gin.Context) {
		ip := realIP(c)
		c.Set("real_ip", ip)
		ci := application.ClientInfo{IP: ip, UserAgent: c.GetHeader("User-Agent")}
		c.Request = c.Request.WithContext(application.WithClientInfo(c.Request.Context(), ci))
		c.Next()
	}
}

func realIP(c *gin.Context) string {
	if cf := strings.TrimSpace(c.GetHeader("CF-Connecting-IP")); cf != "" {
		if ip := net.ParseIP(cf); ip != nil {
			return ip.String()
		}
	}
	if xff := c.GetHeader("X-Forwarded-For"); xff != "" {
		first := strings.TrimSpace(strings.Split(xff, ",")[0])
		if ip := net.ParseIP(first); ip != nil {
			return ip.String()
		}
	}
	return c.ClientIP()
}
