package service

import (
	"context"
	"testing"
	"time"

	"github.com/Dhoini/Membership-service/internal/domain"
	"github.com/Dhoini/Membership-service/internal/metrics"
	"github.com/Dhoini/Membership-service/pkg/logger"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestScheduler(e *env, opts SchedulerOptions) *Scheduler {
	log := logger.New(logger.ERROR)
	m := metrics.NewSubscriptionMetrics(prometheus.NewRegistry(), log)
	return NewScheduler(e.subs, e.lifecycle, e.notifier, m, opts, log)
}

func countKind(n *fakeNotifier, kind NotificationKind) int {
	count := 0
	for _, k := range n.kinds() {
		if k == kind {
			count++
		}
	}
	return count
}

func createActive(t *testing.T, e *env, userID int64, expiresAt time.Time) *domain.Subscription {
	t.Helper()
	activated := time.Now().Add(-time.Hour)
	sub := &domain.Subscription{
		ID:          uuid.New(),
		UserID:      userID,
		Provider:    domain.ProviderStripe,
		Status:      domain.SubscriptionStatusActive,
		OrderID:     uuid.NewString(),
		ActivatedAt: &activated,
		ExpiresAt:   &expiresAt,
	}
	require.NoError(t, e.subs.Create(context.Background(), sub))
	return sub
}

func TestNudgePass(t *testing.T) {
	e := newEnv()
	ctx := context.Background()

	stale := createPending(t, e, 1)
	reminded := createPending(t, e, 2)
	require.NoError(t, e.subs.StampNudge(ctx, reminded.ID, time.Now()))

	// Отрицательный минимальный возраст, чтобы свежесозданные записи попали в выборку
	s := newTestScheduler(e, SchedulerOptions{
		Interval:      time.Hour,
		NudgeMinAge:   -time.Hour,
		NudgeCooldown: 24 * time.Hour,
	})
	s.RunOnce(ctx)

	// Напоминание только по записи без недавнего штампа
	assert.Equal(t, 1, countKind(e.notifier, NotificationNudge))

	got, err := e.subs.GetByID(ctx, stale.ID)
	require.NoError(t, err)
	require.NotNil(t, got.LastNudgeAt)
	assert.Equal(t, 1, got.NudgeCount)
}

func TestNudgeCooldownExpires(t *testing.T) {
	e := newEnv()
	ctx := context.Background()

	sub := createPending(t, e, 1)
	require.NoError(t, e.subs.StampNudge(ctx, sub.ID, time.Now().Add(-48*time.Hour)))

	s := newTestScheduler(e, SchedulerOptions{
		Interval:      time.Hour,
		NudgeMinAge:   -time.Hour,
		NudgeCooldown: 24 * time.Hour,
	})
	s.RunOnce(ctx)

	assert.Equal(t, 1, countKind(e.notifier, NotificationNudge))
}

func TestWarningPass(t *testing.T) {
	e := newEnv()
	ctx := context.Background()

	expiring := createActive(t, e, 1, time.Now().Add(24*time.Hour))
	createActive(t, e, 2, time.Now().Add(30*24*time.Hour))

	s := newTestScheduler(e, SchedulerOptions{
		Interval:        time.Hour,
		NudgeMinAge:     time.Hour,
		WarningWindow:   72 * time.Hour,
		WarningCooldown: 24 * time.Hour,
	})
	s.RunOnce(ctx)

	assert.Equal(t, 1, countKind(e.notifier, NotificationExpiringSoon))

	got, err := e.subs.GetByID(ctx, expiring.ID)
	require.NoError(t, err)
	require.NotNil(t, got.LastWarningAt)

	// Повторный проход внутри кулдауна молчит
	s.RunOnce(ctx)
	assert.Equal(t, 1, countKind(e.notifier, NotificationExpiringSoon))
}

func TestDeactivatePass(t *testing.T) {
	e := newEnv()
	ctx := context.Background()

	lapsed := createActive(t, e, 1, time.Now().Add(-time.Minute))
	alive := createActive(t, e, 2, time.Now().Add(24*time.Hour))

	s := newTestScheduler(e, SchedulerOptions{
		Interval:    time.Hour,
		NudgeMinAge: time.Hour,
	})
	s.RunOnce(ctx)

	got, err := e.subs.GetByID(ctx, lapsed.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SubscriptionStatusExpired, got.Status)
	assert.False(t, got.HasAccess(time.Now()))

	untouched, err := e.subs.GetByID(ctx, alive.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SubscriptionStatusActive, untouched.Status)

	// Доступ в группе отзывается после фиксации статуса
	require.Eventually(t, func() bool { return e.group.revokedCount() == 1 }, time.Second, 10*time.Millisecond)
}

func TestStartStop(t *testing.T) {
	e := newEnv()

	s := newTestScheduler(e, SchedulerOptions{
		Interval:    10 * time.Millisecond,
		NudgeMinAge: time.Hour,
	})
	s.Start()
	time.Sleep(50 * time.Millisecond)
	s.Stop()
}
