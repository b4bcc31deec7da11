package container

import (
	"context"
	"errors"
	"fmt"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/oksasatya/account-auth/config"
	"github.com/oksasatya/account-auth/internal/application"
	"github.com/oksasatya/account-auth/internal/domain/repository"
	"github.com/oksasatya/account-auth/internal/infrastructure/cache"
	"github.com/oksasatya/account-auth/internal/infrastructure/elastic"
	"github.com/oksasatya/account-auth/internal/infrastructure/memory"
	"github.com/oksasatya/account-auth/internal/infrastructure/notify"
	pginfra "github.com/oksasatya/account-auth/internal/infrastructure/postgres"
	"github.com/oksasatya/account-auth/pkg/helpers"
	tpl "github.com/oksasatya/account-auth/pkg/mailer/templates"
)

// Check is a named readiness probe.
type Check func(ctx context.Context) error

// Container owns every constructed component the HTTP layer and CLIs share.
type Container struct {
	Config *config.Config
	Logger *logrus.Logger

	PGPool    *pgxpool.Pool
	Redis     *redis.Client
	RabbitPub *helpers.RabbitPublisher
	ES        *elasticsearch.Client

	Users    repository.UserRepository
	Tokens   *helpers.TokenManager
	Hasher   *helpers.BcryptHasher
	Accounts *application.AccountService

	Checks map[string]Check

	closers []func()
}

// Build wires the account subsystem from cfg. Optional backends (Redis,
// RabbitMQ, Elasticsearch) are skipped when unconfigured.
func Build(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (*Container, error) {
	c := &Container{Config: cfg, Logger: logger, Checks: map[string]Check{}}

	if err := c.buildStore(ctx); err != nil {
		c.Close()
		return nil, err
	}

	opts := []application.ServiceOption{
		application.WithIssueSessionOnRegister(cfg.IssueSessionOnRegister),
		application.WithNotifyTimeout(cfg.NotifyTimeout),
	}

	if cfg.RedisAddr != "" {
		c.Redis = helpers.NewRedisClient(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		c.closers = append(c.closers, func() { _ = c.Redis.Close() })
		if err := helpers.PingRedis(ctx, c.Redis); err != nil {
			logger.WithError(err).Warn("redis unreachable; resend cooldown will fail open")
		}
		c.Checks["redis"] = func(ctx context.Context) error { return helpers.PingRedis(ctx, c.Redis) }
		opts = append(opts, application.WithResendGuard(cache.NewResendGuard(c.Redis, cfg.ResendCooldown)))
	}

	notifier, err := c.buildNotifier(cfg, logger)
	if err != nil {
		c.Close()
		return nil, err
	}
	opts = append(opts, application.WithNotifier(notifier))

	if addrs := cfg.ESAddrs(); len(addrs) > 0 {
		es, err := helpers.NewESClient(addrs, cfg.ElasticsearchUser, cfg.ElasticsearchPass)
		if err != nil {
			c.Close()
			return nil, fmt.Errorf("elasticsearch: %w", err)
		}
		c.ES = es
		opts = append(opts, application.WithActivitySink(elastic.NewActivitySink(es, cfg.ESActivityIndex, logger)))
	}

	c.Tokens = helpers.NewTokenManager(cfg.JWTSecret, cfg.JWTIssuer, helpers.TokenTTLs{
		Session:           cfg.SessionTTL,
		EmailVerification: cfg.VerificationTTL,
		PasswordReset:     cfg.ResetTTL,
	})
	c.Hasher = helpers.NewBcryptHasher(cfg.BcryptCost)
	c.Accounts = application.NewAccountService(c.Users, c.Hasher, c.Tokens, logger, opts...)
	return c, nil
}

func (c *Container) buildStore(ctx context.Context) error {
	switch c.Config.StoreDriver {
	case "memory":
		c.Users = memory.NewUserRepository()
		c.Logger.Warn("using in-memory user store; accounts are lost on restart")
	case "postgres":
		pool, err := pginfra.NewPool(ctx, c.Config)
		if err != nil {
			return fmt.Errorf("postgres: %w", err)
		}
		c.PGPool = pool
		c.closers = append(c.closers, pool.Close)
		c.Users = pginfra.NewUserRepository(pool)
	default:
		return errors.New("unknown store driver: " + c.Config.StoreDriver)
	}
	c.Checks["store"] = c.Users.Ping
	return nil
}

func (c *Container) buildNotifier(cfg *config.Config, logger *logrus.Logger) (application.Notifier, error) {
	if !cfg.MailSendEnabled {
		logger.Info("MAIL_SEND_ENABLED=false; account emails are logged, not sent")
		return notify.NewLogNotifier(logger), nil
	}
	pub, err := helpers.NewRabbitPublisher(cfg.RabbitMQURL, cfg.RabbitMQEmailQueue)
	if err != nil {
		return nil, fmt.Errorf("rabbitmq: %w", err)
	}
	c.RabbitPub = pub
	c.closers = append(c.closers, pub.Close)

	return notify.NewQueueNotifier(pub,
		notify.Links{VerifyEmailURL: cfg.VerifyEmailURL, ResetPasswordURL: cfg.ResetPasswordURL},
		tpl.Branding{AppName: cfg.AppName, CompanyName: cfg.CompanyName, SupportURL: cfg.SupportURL},
		notify.TTLs{Verification: cfg.VerificationTTL, Reset: cfg.ResetTTL},
	), nil
}

// Close releases backends in reverse construction order.
func (c *Container) Close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		c.closers[i]()
	}
	c.closers = nil
}
