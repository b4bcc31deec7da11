// Package cache holds Redis-backed helpers for the account flows.
package cache

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/oksasatya/account-auth/internal/application"
)

func keyResendCooldown(email string) string { return "auth:verify:resend:" + email }

// ResendGuard allows one verification resend per address per cooldown window.
type ResendGuard struct {
	rdb      redis.UniversalClient
	cooldown time.Duration
}

func NewResendGuard(rdb redis.UniversalClient, cooldown time.Duration) *ResendGuard {
	return &ResendGuard{rdb: rdb, cooldown: cooldown}
}

// Allow sets the cooldown key only if it is absent. Callers decide what to do on error.
func (g *ResendGuard) Allow(ctx context.Context, email string) (bool, error) {
	if g.cooldown <= 0 {
		return true, nil
	}
	return g.rdb.SetNX(ctx, keyResendCooldown(email), 1, g.cooldown).Result()
}

func (g *ResendGuard) Release(ctx context.Context, email string) error {
	return g.rdb.Del(ctx, keyResendCooldown(email)).Err()
}

var _ application.ResendGuard = (*ResendGuard)(nil)
