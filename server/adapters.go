package server

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"shepherd/config"
	"shepherd/internal/auth"
	"shepherd/internal/mailer"
	"shepherd/internal/ratelimit"
	"shepherd/internal/repo"
)

// newStore: gorm при настроенной БД, иначе in-memory.
func newStore(db *gorm.DB) repo.AccountStore {
	if db == nil {
		return repo.NewMemoryAccountStore()
	}
	return repo.NewAccountStore(db)
}

// newMailer: SMTP при заданном mail.host, иначе письма только в лог.
func newMailer(cfg *config.Config) mailer.Mailer {
	m := cfg.Mail
	if m.Host == "" {
		return mailer.LogMailer{}
	}
	return mailer.NewSMTPMailer(m.Host, m.Port, m.Username, m.Password, m.From)
}

func newRedis(cfg *config.Config) (*redis.Client, error) {
	if cfg.Redis.Addr == "" {
		return nil, nil
	}
	c := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := c.Ping(ctx).Err(); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("redis ping %s: %w", cfg.Redis.Addr, err)
	}
	return c, nil
}

// newLimiter: общий лимитер в redis или локальный в памяти.
func newLimiter(rc *redis.Client, scope string, limit int, window time.Duration) ratelimit.Limiter {
	if rc != nil {
		return ratelimit.NewRedisLimiter(rc, scope, limit, window)
	}
	return ratelimit.NewMemoryLimiter(limit, window)
}

func authConfig(cfg *config.Config) auth.Config {
	a := cfg.Auth
	return auth.Config{
		Tokens: auth.IssuerConfig{
			AccessSecret:  a.AccessSecret,
			RefreshSecret: a.RefreshSecret,
			ResetSecret:   a.ResetSecret,
			AccessTTL:     a.AccessTTL,
			RefreshTTL:    a.RefreshTTL,
			ResetTTL:      a.ResetTTL,
		},
		BcryptCost:      a.BcryptCost,
		MaxFailedLogins: a.MaxFailedLogins,
		LockoutDuration: a.LockoutDuration,
		FrontendURL:     cfg.App.FrontendURL,
	}
}
