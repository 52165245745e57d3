package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSubscriptionHasAccess(t *testing.T) {
	now := time.Now()
	future := now.Add(24 * time.Hour)
	past := now.Add(-24 * time.Hour)

	tests := []struct {
		name      string
		status    SubscriptionStatus
		expiresAt *time.Time
		want      bool
	}{
		{"active with future expiry", SubscriptionStatusActive, &future, true},
		{"active with past expiry", SubscriptionStatusActive, &past, false},
		{"active without expiry", SubscriptionStatusActive, nil, true},
		{"past_due with future expiry", SubscriptionStatusPastDue, &future, true},
		{"past_due with past expiry", SubscriptionStatusPastDue, &past, false},
		{"pending", SubscriptionStatusPending, &future, false},
		{"cancelled", SubscriptionStatusCancelled, &future, false},
		{"expired", SubscriptionStatusExpired, &past, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sub := &Subscription{Status: tt.status, ExpiresAt: tt.expiresAt}
			assert.Equal(t, tt.want, sub.HasAccess(now))
		})
	}
}

func TestSubscriptionIsTerminal(t *testing.T) {
	assert.False(t, (&Subscription{Status: SubscriptionStatusPending}).IsTerminal())
	assert.False(t, (&Subscription{Status: SubscriptionStatusActive}).IsTerminal())
	assert.False(t, (&Subscription{Status: SubscriptionStatusPastDue}).IsTerminal())
	assert.True(t, (&Subscription{Status: SubscriptionStatusCancelled}).IsTerminal())
	assert.True(t, (&Subscription{Status: SubscriptionStatusExpired}).IsTerminal())
}

func TestProviderEventHasCorrelation(t *testing.T) {
	assert.False(t, (&ProviderEvent{}).HasCorrelation())
	assert.True(t, (&ProviderEvent{ProviderSubscriptionID: "sub_1"}).HasCorrelation())
	assert.True(t, (&ProviderEvent{OrderID: "order-1"}).HasCorrelation())
	assert.True(t, (&ProviderEvent{UserID: 42}).HasCorrelation())
}
