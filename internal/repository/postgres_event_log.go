package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Dhoini/Membership-service/internal/domain"
	"github.com/Dhoini/Membership-service/pkg/logger"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jmoiron/sqlx"
)

// postgresEventLog реализует EventLog для PostgreSQL.
// Дубли отлавливаются уникальным ключом (provider, event_id).
type postgresEventLog struct {
	db  *sqlx.DB
	log *logger.Logger
}

// NewPostgresEventLog создает новый журнал событий для PostgreSQL
func NewPostgresEventLog(db *sqlx.DB, log *logger.Logger) EventLog {
	return &postgresEventLog{
		db:  db,
		log: log,
	}
}

// MarkProcessed отмечает событие обработанным
func (l *postgresEventLog) MarkProcessed(ctx context.Context, provider domain.Provider, eventID string) error {
	query := `
        INSERT INTO webhook_events (provider, event_id, processed_at)
        VALUES ($1, $2, $3)`

	_, err := l.db.ExecContext(ctx, query, provider, eventID, time.Now())
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolationCode {
			l.log.Debugw("Provider event already processed", "provider", provider, "eventID", eventID)
			return domain.ErrEventAlreadyProcessed
		}
		l.log.Errorw("Failed to mark provider event processed", "error", err, "provider", provider, "eventID", eventID)
		return fmt.Errorf("repository: failed to mark event processed: %w", err)
	}

	return nil
}

// Forget снимает отметку об обработке события
func (l *postgresEventLog) Forget(ctx context.Context, provider domain.Provider, eventID string) error {
	query := `DELETE FROM webhook_events WHERE provider = $1 AND event_id = $2`

	if _, err := l.db.ExecContext(ctx, query, provider, eventID); err != nil {
		l.log.Errorw("Failed to forget provider event", "error", err, "provider", provider, "eventID", eventID)
		return fmt.Errorf("repository: failed to forget event: %w", err)
	}
	return nil
}
