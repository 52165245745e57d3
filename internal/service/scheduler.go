package service

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/Dhoini/Membership-service/internal/domain"
	"github.com/Dhoini/Membership-service/internal/metrics"
	"github.com/Dhoini/Membership-service/internal/repository"
	"github.com/Dhoini/Membership-service/pkg/logger"
)

// SchedulerOptions пороги и интервалы фонового планировщика
type SchedulerOptions struct {
	Interval        time.Duration
	NudgeMinAge     time.Duration
	NudgeCooldown   time.Duration
	WarningWindow   time.Duration
	WarningCooldown time.Duration
}

// Scheduler фоновый планировщик жизненного цикла подписок.
// Каждый проход делает три вещи: напоминает о неоплаченных чекаутах,
// предупреждает об окончании периода и закрывает истекшие подписки.
// Если предыдущий проход еще идет, очередной тик пропускается.
type Scheduler struct {
	subs      repository.SubscriptionRepository
	lifecycle *LifecycleService
	notifier  Notifier
	metrics   metrics.SubscriptionMetrics
	opts      SchedulerOptions
	log       *logger.Logger

	running atomic.Bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewScheduler создает новый планировщик
func NewScheduler(
	subs repository.SubscriptionRepository,
	lifecycle *LifecycleService,
	notifier Notifier,
	m metrics.SubscriptionMetrics,
	opts SchedulerOptions,
	log *logger.Logger,
) *Scheduler {
	return &Scheduler{
		subs:      subs,
		lifecycle: lifecycle,
		notifier:  notifier,
		metrics:   m,
		opts:      opts,
		log:       log,
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
}

// Start запускает планировщик в фоне
func (s *Scheduler) Start() {
	go func() {
		defer close(s.doneCh)

		ticker := time.NewTicker(s.opts.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				if !s.running.CompareAndSwap(false, true) {
					s.log.Warnw("Previous scheduler run still in progress, tick skipped")
					continue
				}
				s.RunOnce(context.Background())
				s.running.Store(false)
			case <-s.stopCh:
				return
			}
		}
	}()
	s.log.Info("Subscription scheduler started with interval %s", s.opts.Interval)
}

// Stop останавливает планировщик и дожидается завершения текущего прохода
func (s *Scheduler) Stop() {
	close(s.stopCh)
	<-s.doneCh
	s.log.Info("Subscription scheduler stopped")
}

// RunOnce выполняет один полный проход планировщика.
// Ошибка на одной записи не прерывает обработку остальных.
func (s *Scheduler) RunOnce(ctx context.Context) {
	s.nudgePass(ctx)
	s.warningPass(ctx)
	s.deactivatePass(ctx)
}

// nudgePass напоминает о чекаутах, оставшихся без оплаты
func (s *Scheduler) nudgePass(ctx context.Context) {
	started := time.Now()
	defer func() { s.metrics.ObserveSchedulerPass("nudge", time.Since(started)) }()

	now := time.Now()
	pending, err := s.subs.PendingOlderThan(ctx, now.Add(-s.opts.NudgeMinAge))
	if err != nil {
		s.log.Errorw("Nudge pass: failed to list pending subscriptions", "error", err)
		return
	}

	for i := range pending {
		sub := &pending[i]
		if sub.LastNudgeAt != nil && now.Sub(*sub.LastNudgeAt) < s.opts.NudgeCooldown {
			continue
		}

		// Сначала штамп, потом отправка: лучше пропустить одно напоминание,
		// чем заспамить пользователя при сбое между этими шагами
		if err := s.subs.StampNudge(ctx, sub.ID, now); err != nil {
			s.log.Errorw("Nudge pass: failed to stamp subscription", "error", err, "subscriptionID", sub.ID)
			continue
		}

		if err := s.notifier.Notify(ctx, Notification{
			Kind:         NotificationNudge,
			UserID:       sub.UserID,
			Subscription: sub,
		}); err != nil {
			s.log.Errorw("Nudge pass: failed to deliver reminder", "error", err, "subscriptionID", sub.ID)
			continue
		}

		s.metrics.IncSchedulerAction("nudge")
	}
}

// warningPass предупреждает об окончании оплаченного периода
func (s *Scheduler) warningPass(ctx context.Context) {
	started := time.Now()
	defer func() { s.metrics.ObserveSchedulerPass("warning", time.Since(started)) }()

	now := time.Now()
	expiring, err := s.subs.ExpiringWithin(ctx, now.Add(s.opts.WarningWindow))
	if err != nil {
		s.log.Errorw("Warning pass: failed to list expiring subscriptions", "error", err)
		return
	}

	for i := range expiring {
		sub := &expiring[i]
		if sub.LastWarningAt != nil && now.Sub(*sub.LastWarningAt) < s.opts.WarningCooldown {
			continue
		}

		if err := s.subs.StampWarning(ctx, sub.ID, now); err != nil {
			s.log.Errorw("Warning pass: failed to stamp subscription", "error", err, "subscriptionID", sub.ID)
			continue
		}

		if err := s.notifier.Notify(ctx, Notification{
			Kind:         NotificationExpiringSoon,
			UserID:       sub.UserID,
			Subscription: sub,
		}); err != nil {
			s.log.Errorw("Warning pass: failed to deliver warning", "error", err, "subscriptionID", sub.ID)
			continue
		}

		s.metrics.IncSchedulerAction("warning")
	}
}

// deactivatePass закрывает подписки с истекшим оплаченным периодом
func (s *Scheduler) deactivatePass(ctx context.Context) {
	started := time.Now()
	defer func() { s.metrics.ObserveSchedulerPass("deactivate", time.Since(started)) }()

	expired, err := s.subs.ActiveExpiredBefore(ctx, time.Now())
	if err != nil {
		s.log.Errorw("Deactivate pass: failed to list expired subscriptions", "error", err)
		return
	}

	for i := range expired {
		sub := &expired[i]
		if err := s.lifecycle.Expire(ctx, sub); err != nil {
			// Гонку с вебхуком о продлении выигрывает вебхук
			if errors.Is(err, domain.ErrStaleTransition) {
				s.log.Infow("Deactivate pass: subscription changed concurrently", "subscriptionID", sub.ID)
				continue
			}
			s.log.Errorw("Deactivate pass: failed to expire subscription", "error", err, "subscriptionID", sub.ID)
			continue
		}

		s.metrics.IncSchedulerAction("deactivate")
	}
}
