package service

import (
	"context"
	"testing"
	"time"

	"github.com/Dhoini/Membership-service/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func activationEvent(eventID, orderID string) *domain.ProviderEvent {
	return &domain.ProviderEvent{
		Provider:   domain.ProviderStripe,
		EventID:    eventID,
		Kind:       domain.EventKindActivation,
		OrderID:    orderID,
		OccurredAt: time.Now(),
	}
}

func TestApplyActivation(t *testing.T) {
	e := newEnv()
	r := e.reconciler()
	ctx := context.Background()

	sub := createPending(t, e, 1)
	require.NoError(t, r.Apply(ctx, activationEvent("evt_1", sub.OrderID)))

	got, err := e.subs.GetByID(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SubscriptionStatusActive, got.Status)
}

func TestApplyIgnoredEvent(t *testing.T) {
	e := newEnv()
	r := e.reconciler()

	err := r.Apply(context.Background(), &domain.ProviderEvent{
		Provider: domain.ProviderStripe,
		EventID:  "evt_1",
		Kind:     domain.EventKindIgnored,
	})
	require.NoError(t, err)
}

func TestApplyReplayIsNoop(t *testing.T) {
	e := newEnv()
	r := e.reconciler()
	ctx := context.Background()

	sub := createPending(t, e, 1)
	require.NoError(t, r.Apply(ctx, activationEvent("evt_1", sub.OrderID)))

	first, err := e.subs.GetByID(ctx, sub.ID)
	require.NoError(t, err)

	// Тот же event_id приходит второй раз
	require.NoError(t, r.Apply(ctx, activationEvent("evt_1", sub.OrderID)))

	second, err := e.subs.GetByID(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, first.ExpiresAt, second.ExpiresAt)
	assert.Equal(t, first.UpdatedAt, second.UpdatedAt)
}

func TestApplyRenewalReplayKeepsExpiry(t *testing.T) {
	e := newEnv()
	r := e.reconciler()
	ctx := context.Background()

	sub := createPending(t, e, 1)
	require.NoError(t, r.Apply(ctx, activationEvent("evt_1", sub.OrderID)))

	renewal := &domain.ProviderEvent{
		Provider: domain.ProviderStripe,
		EventID:  "evt_2",
		Kind:     domain.EventKindRenewal,
		OrderID:  sub.OrderID,
	}
	require.NoError(t, r.Apply(ctx, renewal))

	afterRenewal, err := e.subs.GetByID(ctx, sub.ID)
	require.NoError(t, err)

	// Повтор того же продления не двигает expires_at
	require.NoError(t, r.Apply(ctx, renewal))

	afterReplay, err := e.subs.GetByID(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, afterRenewal.ExpiresAt, afterReplay.ExpiresAt)
}

func TestApplyMissingCorrelation(t *testing.T) {
	e := newEnv()
	r := e.reconciler()

	err := r.Apply(context.Background(), &domain.ProviderEvent{
		Provider: domain.ProviderStripe,
		EventID:  "evt_1",
		Kind:     domain.EventKindActivation,
	})
	assert.ErrorIs(t, err, domain.ErrMissingCorrelation)
}

func TestApplyReconciliationGap(t *testing.T) {
	e := newEnv()
	r := e.reconciler()
	ctx := context.Background()

	// Оплата прошла, а pending-подписки у нас нет
	event := &domain.ProviderEvent{
		Provider:               domain.ProviderStripe,
		EventID:                "evt_1",
		Kind:                   domain.EventKindActivation,
		UserID:                 77,
		OrderID:                "order-lost",
		ProviderSubscriptionID: "sub_stripe_lost",
		Amount:                 9.99,
		Currency:               "usd",
	}
	require.NoError(t, r.Apply(ctx, event))

	got, err := e.subs.ActiveSubscriptionFor(ctx, 77)
	require.NoError(t, err)
	assert.Equal(t, domain.SubscriptionStatusActive, got.Status)
	assert.True(t, got.Reconciled)
	assert.Equal(t, "sub_stripe_lost", got.ProviderSubscriptionID)
	assert.Equal(t, 9.99, got.Amount)
	assert.Equal(t, "usd", got.Currency)
	assert.Equal(t, 1, e.audit.gaps())
}

func TestApplyRetriesAfterStoreFailure(t *testing.T) {
	e := newEnv()
	ctx := context.Background()

	sub := createPending(t, e, 1)
	flaky := &flakySubs{SubscriptionRepository: e.subs, failures: 1}
	r := e.reconcilerWith(flaky)

	// Первая доставка падает на чтении хранилища, провайдер получает 500
	event := activationEvent("evt_1", sub.OrderID)
	require.Error(t, r.Apply(ctx, event))

	got, err := e.subs.GetByID(ctx, sub.ID)
	require.NoError(t, err)
	require.Equal(t, domain.SubscriptionStatusPending, got.Status)

	// Повторная доставка того же события должна примениться, а не
	// отсеяться как дубль
	require.NoError(t, r.Apply(ctx, event))

	got, err = e.subs.GetByID(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SubscriptionStatusActive, got.Status)
}

func TestApplyUnknownKeyConvergesOnActiveSubscription(t *testing.T) {
	e := newEnv()
	r := e.reconciler()
	ctx := context.Background()

	sub := createPending(t, e, 7)
	require.NoError(t, r.Apply(ctx, &domain.ProviderEvent{
		Provider:               domain.ProviderStripe,
		EventID:                "evt_1",
		Kind:                   domain.EventKindActivation,
		OrderID:                sub.OrderID,
		ProviderSubscriptionID: "sub_known",
	}))

	// Продление с незнакомым ключом провайдера, но с тем же пользователем
	require.NoError(t, r.Apply(ctx, &domain.ProviderEvent{
		Provider:               domain.ProviderStripe,
		EventID:                "evt_2",
		Kind:                   domain.EventKindRenewal,
		UserID:                 7,
		ProviderSubscriptionID: "sub_unseen",
	}))

	// Вторая активная подписка не появилась: событие досталось существующей
	got, err := e.subs.ActiveSubscriptionFor(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, sub.ID, got.ID)
	assert.Equal(t, domain.SubscriptionStatusActive, got.Status)
	assert.Equal(t, "sub_unseen", got.ProviderSubscriptionID)
	assert.Equal(t, 0, e.audit.gaps())
}

func TestApplyGapWithoutUserIsRejected(t *testing.T) {
	e := newEnv()
	r := e.reconciler()

	// Ключи есть, но пользователя нет - восстанавливать не для кого
	err := r.Apply(context.Background(), &domain.ProviderEvent{
		Provider:               domain.ProviderStripe,
		EventID:                "evt_1",
		Kind:                   domain.EventKindActivation,
		ProviderSubscriptionID: "sub_unknown",
	})
	assert.ErrorIs(t, err, domain.ErrMissingCorrelation)
}

func TestApplyPaymentFailure(t *testing.T) {
	e := newEnv()
	r := e.reconciler()
	ctx := context.Background()

	sub := createPending(t, e, 1)
	require.NoError(t, r.Apply(ctx, activationEvent("evt_1", sub.OrderID)))

	require.NoError(t, r.Apply(ctx, &domain.ProviderEvent{
		Provider: domain.ProviderStripe,
		EventID:  "evt_2",
		Kind:     domain.EventKindPaymentFailure,
		OrderID:  sub.OrderID,
	}))

	got, err := e.subs.GetByID(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SubscriptionStatusPastDue, got.Status)
	// Доступ сохраняется до конца оплаченного периода
	assert.True(t, got.HasAccess(time.Now()))
}

func TestApplyCancellationForUnknownSubscription(t *testing.T) {
	e := newEnv()
	r := e.reconciler()

	require.NoError(t, r.Apply(context.Background(), &domain.ProviderEvent{
		Provider:               domain.ProviderPayPal,
		EventID:                "evt_1",
		Kind:                   domain.EventKindCancellation,
		ProviderSubscriptionID: "I-UNKNOWN",
	}))
}

func TestApplyRenewalOnPendingActivates(t *testing.T) {
	e := newEnv()
	r := e.reconciler()
	ctx := context.Background()

	sub := createPending(t, e, 1)
	require.NoError(t, r.Apply(ctx, &domain.ProviderEvent{
		Provider: domain.ProviderStripe,
		EventID:  "evt_1",
		Kind:     domain.EventKindRenewal,
		OrderID:  sub.OrderID,
	}))

	got, err := e.subs.GetByID(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SubscriptionStatusActive, got.Status)
	require.NotNil(t, got.ActivatedAt)
}

func TestApplyMatchesByUserFallback(t *testing.T) {
	e := newEnv()
	r := e.reconciler()
	ctx := context.Background()

	sub := createPending(t, e, 33)

	// В событии только пользователь, без order_id
	require.NoError(t, r.Apply(ctx, &domain.ProviderEvent{
		Provider: domain.ProviderStripe,
		EventID:  "evt_1",
		Kind:     domain.EventKindActivation,
		UserID:   33,
	}))

	got, err := e.subs.GetByID(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SubscriptionStatusActive, got.Status)
}
