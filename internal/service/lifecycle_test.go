package service

import (
	"context"
	"testing"
	"time"

	"github.com/Dhoini/Membership-service/internal/domain"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to domain.SubscriptionStatus
		want     bool
	}{
		{domain.SubscriptionStatusPending, domain.SubscriptionStatusActive, true},
		{domain.SubscriptionStatusPending, domain.SubscriptionStatusCancelled, true},
		{domain.SubscriptionStatusActive, domain.SubscriptionStatusPastDue, true},
		{domain.SubscriptionStatusActive, domain.SubscriptionStatusExpired, true},
		{domain.SubscriptionStatusPastDue, domain.SubscriptionStatusActive, true},
		{domain.SubscriptionStatusPastDue, domain.SubscriptionStatusCancelled, true},

		{domain.SubscriptionStatusActive, domain.SubscriptionStatusPending, false},
		{domain.SubscriptionStatusCancelled, domain.SubscriptionStatusActive, false},
		{domain.SubscriptionStatusExpired, domain.SubscriptionStatusActive, false},
		{domain.SubscriptionStatusPending, domain.SubscriptionStatusPastDue, false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, CanTransition(tt.from, tt.to), "%s -> %s", tt.from, tt.to)
	}
}

func createPending(t *testing.T, e *env, userID int64) *domain.Subscription {
	t.Helper()
	sub := &domain.Subscription{
		ID:       uuid.New(),
		UserID:   userID,
		Provider: domain.ProviderStripe,
		Status:   domain.SubscriptionStatusPending,
		OrderID:  uuid.NewString(),
	}
	require.NoError(t, e.subs.Create(context.Background(), sub))
	return sub
}

func TestActivateSetsTimestampsOnce(t *testing.T) {
	e := newEnv()
	ctx := context.Background()
	sub := createPending(t, e, 1)

	require.NoError(t, e.lifecycle.Activate(ctx, sub, &domain.ProviderEvent{
		Provider:               domain.ProviderStripe,
		ProviderSubscriptionID: "sub_stripe_1",
	}))

	got, err := e.subs.GetByID(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SubscriptionStatusActive, got.Status)
	require.NotNil(t, got.ActivatedAt)
	require.NotNil(t, got.ExpiresAt)
	assert.WithinDuration(t, got.ActivatedAt.Add(testPeriod), *got.ExpiresAt, time.Second)
	assert.Equal(t, "sub_stripe_1", got.ProviderSubscriptionID)

	require.Eventually(t, func() bool {
		return e.notifier.has(NotificationActivated) && e.group.grantedCount() == 1
	}, time.Second, 10*time.Millisecond)
}

func TestActivateReplayIsNoop(t *testing.T) {
	e := newEnv()
	ctx := context.Background()
	sub := createPending(t, e, 1)

	require.NoError(t, e.lifecycle.Activate(ctx, sub, nil))
	first, err := e.subs.GetByID(ctx, sub.ID)
	require.NoError(t, err)

	require.NoError(t, e.lifecycle.Activate(ctx, first, nil))
	second, err := e.subs.GetByID(ctx, sub.ID)
	require.NoError(t, err)

	assert.Equal(t, first.ActivatedAt, second.ActivatedAt)
	assert.Equal(t, first.ExpiresAt, second.ExpiresAt)
}

func TestActivateUsesProviderPeriodEnd(t *testing.T) {
	e := newEnv()
	ctx := context.Background()
	sub := createPending(t, e, 1)

	periodEnd := time.Now().Add(14 * 24 * time.Hour)
	require.NoError(t, e.lifecycle.Activate(ctx, sub, &domain.ProviderEvent{PeriodEnd: &periodEnd}))

	got, err := e.subs.GetByID(ctx, sub.ID)
	require.NoError(t, err)
	require.NotNil(t, got.ExpiresAt)
	assert.WithinDuration(t, periodEnd, *got.ExpiresAt, time.Second)
}

func TestRenewExtendsPeriod(t *testing.T) {
	e := newEnv()
	ctx := context.Background()
	sub := createPending(t, e, 1)
	require.NoError(t, e.lifecycle.Activate(ctx, sub, nil))

	before, err := e.subs.GetByID(ctx, sub.ID)
	require.NoError(t, err)

	require.NoError(t, e.lifecycle.Renew(ctx, before, &domain.ProviderEvent{}))

	after, err := e.subs.GetByID(ctx, sub.ID)
	require.NoError(t, err)
	assert.True(t, after.ExpiresAt.After(*before.ExpiresAt))
	// activated_at не трогаем при продлении
	assert.Equal(t, before.ActivatedAt, after.ActivatedAt)
}

func TestRenewRecoversPastDue(t *testing.T) {
	e := newEnv()
	ctx := context.Background()
	sub := createPending(t, e, 1)
	require.NoError(t, e.lifecycle.Activate(ctx, sub, nil))
	require.NoError(t, e.lifecycle.MarkPastDue(ctx, sub))

	require.NoError(t, e.lifecycle.Renew(ctx, sub, &domain.ProviderEvent{}))

	got, err := e.subs.GetByID(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SubscriptionStatusActive, got.Status)
}

func TestMarkPastDueKeepsAccess(t *testing.T) {
	e := newEnv()
	ctx := context.Background()
	sub := createPending(t, e, 1)
	require.NoError(t, e.lifecycle.Activate(ctx, sub, nil))

	require.NoError(t, e.lifecycle.MarkPastDue(ctx, sub))

	got, err := e.subs.GetByID(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SubscriptionStatusPastDue, got.Status)
	assert.True(t, got.HasAccess(time.Now()))

	// Доступ не отзывается при просрочке
	assert.Equal(t, 0, e.group.revokedCount())
}

func TestMarkPastDueOnPendingIsNoop(t *testing.T) {
	e := newEnv()
	ctx := context.Background()
	sub := createPending(t, e, 1)

	require.NoError(t, e.lifecycle.MarkPastDue(ctx, sub))

	got, err := e.subs.GetByID(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SubscriptionStatusPending, got.Status)
}

func TestCancelClosesAccess(t *testing.T) {
	e := newEnv()
	ctx := context.Background()
	sub := createPending(t, e, 9)
	require.NoError(t, e.lifecycle.Activate(ctx, sub, nil))

	require.NoError(t, e.lifecycle.Cancel(ctx, sub))

	got, err := e.subs.GetByID(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SubscriptionStatusCancelled, got.Status)
	require.NotNil(t, got.CancelledAt)
	assert.False(t, got.HasAccess(time.Now()))

	require.Eventually(t, func() bool {
		return e.group.revokedCount() == 1 && e.notifier.has(NotificationCancelled)
	}, time.Second, 10*time.Millisecond)
}

func TestCancelLostRaceSkipsNotifications(t *testing.T) {
	e := newEnv()
	ctx := context.Background()
	sub := createPending(t, e, 5)
	require.NoError(t, e.lifecycle.Activate(ctx, sub, nil))

	// Устаревшая копия, которой другой обработчик уже проиграл гонку
	stale := *sub
	require.NoError(t, e.lifecycle.Cancel(ctx, sub))

	require.Eventually(t, func() bool {
		return e.group.revokedCount() == 1
	}, time.Second, 10*time.Millisecond)

	require.NoError(t, e.lifecycle.Cancel(ctx, &stale))

	// Подписка уже в целевом статусе, второго уведомления и отзыва нет
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, e.group.revokedCount())
	assert.Equal(t, 1, countKind(e.notifier, NotificationCancelled))
}

func TestCancelTerminalIsNoop(t *testing.T) {
	e := newEnv()
	ctx := context.Background()
	sub := createPending(t, e, 1)
	require.NoError(t, e.lifecycle.Cancel(ctx, sub))

	require.NoError(t, e.lifecycle.Cancel(ctx, sub))

	got, err := e.subs.GetByID(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SubscriptionStatusCancelled, got.Status)
}

func TestExpire(t *testing.T) {
	e := newEnv()
	ctx := context.Background()
	sub := createPending(t, e, 4)
	require.NoError(t, e.lifecycle.Activate(ctx, sub, nil))

	require.NoError(t, e.lifecycle.Expire(ctx, sub))

	got, err := e.subs.GetByID(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SubscriptionStatusExpired, got.Status)

	require.Eventually(t, func() bool {
		return e.group.revokedCount() == 1 && e.notifier.has(NotificationExpired)
	}, time.Second, 10*time.Millisecond)
}
