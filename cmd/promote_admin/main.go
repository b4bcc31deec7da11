package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/oksasatya/account-auth/config"
	"github.com/oksasatya/account-auth/internal/container"
	"github.com/oksasatya/account-auth/pkg/helpers"
)

// promote_admin grants the ADMIN role to an existing account.
//
//	go run ./cmd/promote_admin -email alice@example.com
func main() {
	email := flag.String("email", "", "email of the account to promote")
	flag.Parse()

	_ = godotenv.Load()
	cfg := config.Load()
	// Operator CLI: no outbound email and no activity indexing.
	cfg.MailSendEnabled = false
	cfg.RedisAddr = ""
	cfg.ElasticsearchAddrs = ""

	logger := helpers.NewLogger(cfg.AppName+"-promote-admin", cfg.Env)
	if *email == "" {
		flag.Usage()
		os.Exit(2)
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatalf("invalid config: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	c, err := container.Build(ctx, cfg, logger)
	if err != nil {
		logger.Fatalf("failed to build container: %v", err)
	}
	defer c.Close()

	u, err := c.Accounts.PromoteToAdmin(ctx, *email)
	if err != nil {
		c.Close()
		logger.Fatalf("promote %s: %v", *email, err)
	}
	fmt.Printf("promoted user: id=%s email=%s role=%s\n", u.ID, u.Email, u.Role)
}
