package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/Dhoini/Membership-service/internal/domain"
	"github.com/Dhoini/Membership-service/internal/metrics"
	"github.com/Dhoini/Membership-service/internal/repository"
	"github.com/Dhoini/Membership-service/pkg/logger"
	"github.com/prometheus/client_golang/prometheus"
)

// fakeNotifier собирает уведомления для проверок в тестах
type fakeNotifier struct {
	mu   sync.Mutex
	sent []Notification
}

func (f *fakeNotifier) Notify(_ context.Context, n Notification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, n)
	return nil
}

func (f *fakeNotifier) kinds() []NotificationKind {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]NotificationKind, len(f.sent))
	for i, n := range f.sent {
		out[i] = n.Kind
	}
	return out
}

func (f *fakeNotifier) has(kind NotificationKind) bool {
	for _, k := range f.kinds() {
		if k == kind {
			return true
		}
	}
	return false
}

// fakeGroup запоминает, кому открыли и закрыли доступ в группу
type fakeGroup struct {
	mu      sync.Mutex
	granted []int64
	revoked []int64
}

func (f *fakeGroup) Grant(_ context.Context, userID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.granted = append(f.granted, userID)
	return nil
}

func (f *fakeGroup) Revoke(_ context.Context, userID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.revoked = append(f.revoked, userID)
	return nil
}

func (f *fakeGroup) grantedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.granted)
}

func (f *fakeGroup) revokedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.revoked)
}

// fakeAudit собирает аудит-события
type fakeAudit struct {
	mu       sync.Mutex
	changes  []string
	gapCount int
}

func (f *fakeAudit) PublishStatusChange(_ context.Context, _ *domain.Subscription, from, to domain.SubscriptionStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.changes = append(f.changes, string(from)+"->"+string(to))
	return nil
}

func (f *fakeAudit) PublishReconciliationGap(_ context.Context, _ *domain.Subscription, _ *domain.ProviderEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gapCount++
	return nil
}

func (f *fakeAudit) gaps() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.gapCount
}

// env общая обвязка для тестов сервисного слоя
type env struct {
	subs      repository.SubscriptionRepository
	events    repository.EventLog
	lifecycle *LifecycleService
	notifier  *fakeNotifier
	group     *fakeGroup
	audit     *fakeAudit
}

const testPeriod = 30 * 24 * time.Hour

func newEnv() *env {
	log := logger.New(logger.ERROR)
	subs := repository.NewMemorySubscriptionRepository(log)
	notifier := &fakeNotifier{}
	group := &fakeGroup{}
	audit := &fakeAudit{}
	m := metrics.NewSubscriptionMetrics(prometheus.NewRegistry(), log)

	return &env{
		subs:      subs,
		events:    repository.NewMemoryEventLog(log),
		lifecycle: NewLifecycleService(subs, notifier, group, audit, m, testPeriod, log),
		notifier:  notifier,
		group:     group,
		audit:     audit,
	}
}

func (e *env) reconciler() *ReconcilerService {
	return e.reconcilerWith(e.subs)
}

func (e *env) reconcilerWith(subs repository.SubscriptionRepository) *ReconcilerService {
	log := logger.New(logger.ERROR)
	m := metrics.NewSubscriptionMetrics(prometheus.NewRegistry(), log)
	return NewReconcilerService(subs, e.events, e.lifecycle, m, log)
}

// flakySubs отдает заданное число ошибок чтения, затем работает как
// обычный репозиторий
type flakySubs struct {
	repository.SubscriptionRepository
	mu       sync.Mutex
	failures int
}

func (f *flakySubs) FindByAnyKey(ctx context.Context, key repository.LookupKey) (*domain.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failures > 0 {
		f.failures--
		return nil, errTransient
	}
	return f.SubscriptionRepository.FindByAnyKey(ctx, key)
}

var errTransient = errors.New("connection reset")
