package router

import (
	"github.com/oksasatya/account-auth/internal/container"
	handlers "github.com/oksasatya/account-auth/internal/interface/http"
	"github.com/oksasatya/account-auth/internal/interface/middleware"
	"github.com/oksasatya/account-auth/internal/router/modules"
)

// InitModules builds the HTTP modules from c and adds them to the registry.
// Call once during startup, before RegisterAll.
func InitModules(r *Registry, c *container.Container) {
	authHandler := handlers.NewAuthHandler(c.Accounts, c.Logger)
	authenticate := middleware.Authenticate(c.Accounts, c.Logger)

	checks := make(map[string]handlers.Pinger, len(c.Checks))
	for name, check := range c.Checks {
		checks[name] = handlers.Pinger(check)
	}

	r.Add(
		modules.NewHealthModule(handlers.NewHealthHandler(checks)),
		modules.NewAuthModule(authHandler, authenticate),
		modules.NewAdminModule(authHandler, authenticate),
	)
}
