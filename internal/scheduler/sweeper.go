// Package scheduler запускает фоновую уборку: просроченные токены подтверждения
// и истёкшие блокировки входа.
package scheduler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"shepherd/internal/logs"
	"shepherd/internal/metrics"
	"shepherd/internal/repo"
)

type Sweeper struct {
	store   repo.AccountStore
	cron    *cron.Cron
	now     func() time.Time
	timeout time.Duration
}

// New проверяет cron-выражение (стандартное или @every/@hourly) и регистрирует задачу.
// Пустое выражение даёт nil: уборка отключена.
func New(store repo.AccountStore, spec string) (*Sweeper, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return nil, nil
	}
	s := &Sweeper{
		store:   store,
		cron:    cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DefaultLogger))),
		now:     func() time.Time { return time.Now().UTC() },
		timeout: 30 * time.Second,
	}
	if _, err := s.cron.AddFunc(spec, s.run); err != nil {
		return nil, fmt.Errorf("scheduler: bad sweep spec %q: %w", spec, err)
	}
	return s, nil
}

func (s *Sweeper) Start() {
	s.cron.Start()
	logs.Logger.Info("sweeper started")
}

// Stop ждёт завершения текущего прогона, но не дольше ctx.
func (s *Sweeper) Stop(ctx context.Context) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
		logs.Logger.Warn("sweeper stop: timed out waiting for running job")
	}
}

func (s *Sweeper) run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	if _, _, err := s.RunOnce(ctx); err != nil {
		logs.Logger.WithError(err).Error("sweep failed")
	}
}

// RunOnce выполняет один проход уборки.
func (s *Sweeper) RunOnce(ctx context.Context) (tokens, locks int64, err error) {
	now := s.now()
	tokens, err = s.store.SweepExpiredTokens(ctx, now)
	if err != nil {
		return 0, 0, err
	}
	metrics.Swept("verification_tokens", tokens)

	locks, err = s.store.ReleaseExpiredLocks(ctx, now)
	if err != nil {
		return tokens, 0, err
	}
	metrics.Swept("login_locks", locks)

	if tokens > 0 || locks > 0 {
		logs.Logger.WithFields(map[string]any{"tokens": tokens, "locks": locks}).Info("sweep done")
	}
	return tokens, locks, nil
}
