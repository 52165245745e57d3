package repository

import (
	"context"
	"sync"
	"time"

	"github.com/Dhoini/Membership-service/internal/domain"
	"github.com/Dhoini/Membership-service/pkg/logger"
)

// EventLog журнал обработанных событий провайдеров.
// Провайдеры повторяют вебхуки при любом сбое доставки, поэтому перед
// обработкой каждое событие отмечается в журнале: повторная отметка
// того же event_id означает дубль.
type EventLog interface {
	// MarkProcessed отмечает событие обработанным. Если событие уже
	// отмечено, возвращает domain.ErrEventAlreadyProcessed.
	MarkProcessed(ctx context.Context, provider domain.Provider, eventID string) error

	// Forget снимает отметку об обработке. Вызывается, когда применение
	// события сорвалось после отметки: иначе повторная доставка от
	// провайдера была бы проглочена как дубль.
	Forget(ctx context.Context, provider domain.Provider, eventID string) error
}

// memoryEventLog реализация EventLog в памяти
type memoryEventLog struct {
	mu   sync.Mutex
	seen map[string]time.Time
	log  *logger.Logger
}

// NewMemoryEventLog создает новый журнал событий в памяти
func NewMemoryEventLog(log *logger.Logger) EventLog {
	return &memoryEventLog{
		seen: make(map[string]time.Time),
		log:  log,
	}
}

// MarkProcessed отмечает событие обработанным
func (l *memoryEventLog) MarkProcessed(_ context.Context, provider domain.Provider, eventID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	key := string(provider) + ":" + eventID
	if _, ok := l.seen[key]; ok {
		return domain.ErrEventAlreadyProcessed
	}
	l.seen[key] = time.Now()
	return nil
}

// Forget снимает отметку об обработке события
func (l *memoryEventLog) Forget(_ context.Context, provider domain.Provider, eventID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	delete(l.seen, string(provider)+":"+eventID)
	return nil
}
