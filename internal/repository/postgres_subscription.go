package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Dhoini/Membership-service/internal/domain"
	"github.com/Dhoini/Membership-service/pkg/logger"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jmoiron/sqlx"
)

const uniqueViolationCode = "23505"

// postgresSubscriptionRepo реализует SubscriptionRepository для PostgreSQL
type postgresSubscriptionRepo struct {
	db  *sqlx.DB
	log *logger.Logger
}

// NewPostgresSubscriptionRepository создает новый экземпляр репозитория для PostgreSQL
func NewPostgresSubscriptionRepository(db *sqlx.DB, log *logger.Logger) SubscriptionRepository {
	return &postgresSubscriptionRepo{
		db:  db,
		log: log,
	}
}

const subscriptionColumns = `
	id, user_id, provider, status, order_id, provider_subscription_id,
	amount, currency, activated_at, expires_at, cancelled_at,
	last_nudge_at, nudge_count, last_warning_at, reconciled, created_at, updated_at`

// Create сохраняет новую подписку в базе данных
func (r *postgresSubscriptionRepo) Create(ctx context.Context, sub *domain.Subscription) error {
	now := time.Now()
	sub.CreatedAt = now
	sub.UpdatedAt = now

	query := `
        INSERT INTO subscriptions (
            id, user_id, provider, status, order_id, provider_subscription_id,
            amount, currency, activated_at, expires_at, cancelled_at,
            last_nudge_at, nudge_count, last_warning_at, reconciled, created_at, updated_at
        ) VALUES (
            :id, :user_id, :provider, :status, :order_id, :provider_subscription_id,
            :amount, :currency, :activated_at, :expires_at, :cancelled_at,
            :last_nudge_at, :nudge_count, :last_warning_at, :reconciled, :created_at, :updated_at
        )`

	_, err := r.db.NamedExecContext(ctx, query, sub)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolationCode {
			r.log.Warnw("Duplicate subscription rejected by DB", "orderID", sub.OrderID, "userID", sub.UserID)
			return domain.NewDuplicateError("subscription", "order_id", sub.OrderID)
		}
		r.log.Errorw("Failed to create subscription in DB", "error", err, "subscriptionID", sub.ID, "userID", sub.UserID)
		return fmt.Errorf("repository: failed to create subscription: %w", err)
	}

	r.log.Debugw("Successfully created subscription in DB", "subscriptionID", sub.ID, "userID", sub.UserID)
	return nil
}

// GetByID возвращает подписку по внутреннему ID
func (r *postgresSubscriptionRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Subscription, error) {
	var sub domain.Subscription
	query := `SELECT` + subscriptionColumns + ` FROM subscriptions WHERE id = $1`

	err := r.db.GetContext(ctx, &sub, query, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.NewNotFoundError("subscription", id.String())
		}
		r.log.Errorw("Failed to get subscription by ID from DB", "error", err, "subscriptionID", id)
		return nil, fmt.Errorf("repository: failed to get subscription by ID: %w", err)
	}

	return &sub, nil
}

// FindByAnyKey ищет подписку по ключам события в фиксированном порядке приоритета
func (r *postgresSubscriptionRepo) FindByAnyKey(ctx context.Context, key LookupKey) (*domain.Subscription, error) {
	if key.ProviderSubscriptionID != "" {
		sub, err := r.getOne(ctx,
			`SELECT`+subscriptionColumns+` FROM subscriptions
             WHERE provider = $1 AND provider_subscription_id = $2`,
			key.Provider, key.ProviderSubscriptionID)
		if err == nil || !errors.Is(err, domain.ErrNotFound) {
			return sub, err
		}
	}

	if key.OrderID != "" {
		sub, err := r.getOne(ctx,
			`SELECT`+subscriptionColumns+` FROM subscriptions WHERE order_id = $1`,
			key.OrderID)
		if err == nil || !errors.Is(err, domain.ErrNotFound) {
			return sub, err
		}
	}

	if key.UserID != 0 {
		sub, err := r.getOne(ctx,
			`SELECT`+subscriptionColumns+` FROM subscriptions
             WHERE user_id = $1 AND provider = $2 AND status = $3
             ORDER BY created_at DESC LIMIT 1`,
			key.UserID, key.Provider, domain.SubscriptionStatusPending)
		if err == nil || !errors.Is(err, domain.ErrNotFound) {
			return sub, err
		}
	}

	return nil, domain.NewNotFoundError("subscription", "lookup")
}

func (r *postgresSubscriptionRepo) getOne(ctx context.Context, query string, args ...interface{}) (*domain.Subscription, error) {
	var sub domain.Subscription
	err := r.db.GetContext(ctx, &sub, query, args...)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.NewNotFoundError("subscription", "lookup")
		}
		r.log.Errorw("Failed to look up subscription in DB", "error", err)
		return nil, fmt.Errorf("repository: failed to look up subscription: %w", err)
	}
	return &sub, nil
}

// Transition атомарно переводит подписку в новый статус одним условным UPDATE.
// Если строка не обновилась, значит статус уже сменил другой обработчик.
func (r *postgresSubscriptionRepo) Transition(ctx context.Context, id uuid.UUID, from []domain.SubscriptionStatus, to domain.SubscriptionStatus, fields TransitionFields) error {
	query := `
        UPDATE subscriptions SET
            status = $1,
            updated_at = $2,
            activated_at = COALESCE($3, activated_at),
            expires_at = COALESCE($4, expires_at),
            cancelled_at = COALESCE($5, cancelled_at),
            provider_subscription_id = COALESCE($6, provider_subscription_id),
            reconciled = COALESCE($7, reconciled)
        WHERE id = $8 AND status = ANY($9)`

	fromStatuses := make([]string, len(from))
	for i, s := range from {
		fromStatuses[i] = string(s)
	}

	result, err := r.db.ExecContext(ctx, query,
		to, time.Now(),
		fields.ActivatedAt, fields.ExpiresAt, fields.CancelledAt,
		fields.ProviderSubscriptionID, fields.Reconciled,
		id, fromStatuses,
	)
	if err != nil {
		r.log.Errorw("Failed to transition subscription in DB", "error", err, "subscriptionID", id, "to", to)
		return fmt.Errorf("repository: failed to transition subscription: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		r.log.Errorw("Failed to get rows affected after transition", "error", err, "subscriptionID", id)
		return fmt.Errorf("repository: failed to check transition result: %w", err)
	}
	if rowsAffected == 0 {
		// Либо записи нет, либо статус уже сменился
		if _, getErr := r.GetByID(ctx, id); errors.Is(getErr, domain.ErrNotFound) {
			return domain.NewNotFoundError("subscription", id.String())
		}
		r.log.Warnw("Subscription transition lost the race", "subscriptionID", id, "to", to)
		return domain.ErrStaleTransition
	}

	r.log.Debugw("Subscription transitioned", "subscriptionID", id, "to", to)
	return nil
}

// ActiveSubscriptionFor возвращает подписку пользователя, дающую доступ
func (r *postgresSubscriptionRepo) ActiveSubscriptionFor(ctx context.Context, userID int64) (*domain.Subscription, error) {
	return r.getOne(ctx,
		`SELECT`+subscriptionColumns+` FROM subscriptions
         WHERE user_id = $1
           AND status IN ($2, $3)
           AND (expires_at IS NULL OR expires_at > $4)
         ORDER BY created_at DESC LIMIT 1`,
		userID, domain.SubscriptionStatusActive, domain.SubscriptionStatusPastDue, time.Now())
}

// PendingOlderThan возвращает pending-подписки, созданные раньше cutoff
func (r *postgresSubscriptionRepo) PendingOlderThan(ctx context.Context, cutoff time.Time) ([]domain.Subscription, error) {
	return r.selectMany(ctx,
		`SELECT`+subscriptionColumns+` FROM subscriptions
         WHERE status = $1 AND created_at < $2`,
		domain.SubscriptionStatusPending, cutoff)
}

// ExpiringWithin возвращает активные подписки, истекающие до deadline
func (r *postgresSubscriptionRepo) ExpiringWithin(ctx context.Context, deadline time.Time) ([]domain.Subscription, error) {
	return r.selectMany(ctx,
		`SELECT`+subscriptionColumns+` FROM subscriptions
         WHERE status = $1 AND expires_at > $2 AND expires_at < $3`,
		domain.SubscriptionStatusActive, time.Now(), deadline)
}

// ActiveExpiredBefore возвращает подписки с доступом, чей период закончился до now
func (r *postgresSubscriptionRepo) ActiveExpiredBefore(ctx context.Context, now time.Time) ([]domain.Subscription, error) {
	return r.selectMany(ctx,
		`SELECT`+subscriptionColumns+` FROM subscriptions
         WHERE status IN ($1, $2) AND expires_at IS NOT NULL AND expires_at < $3`,
		domain.SubscriptionStatusActive, domain.SubscriptionStatusPastDue, now)
}

func (r *postgresSubscriptionRepo) selectMany(ctx context.Context, query string, args ...interface{}) ([]domain.Subscription, error) {
	var subs []domain.Subscription
	err := r.db.SelectContext(ctx, &subs, query, args...)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return []domain.Subscription{}, nil
		}
		r.log.Errorw("Failed to select subscriptions from DB", "error", err)
		return nil, fmt.Errorf("repository: failed to select subscriptions: %w", err)
	}
	return subs, nil
}

// StampNudge фиксирует момент отправки напоминания о неоплаченном чекауте
func (r *postgresSubscriptionRepo) StampNudge(ctx context.Context, id uuid.UUID, at time.Time) error {
	return r.stamp(ctx, `UPDATE subscriptions SET last_nudge_at = $1, nudge_count = nudge_count + 1, updated_at = $2 WHERE id = $3`, id, at)
}

// StampWarning фиксирует момент отправки предупреждения об окончании периода
func (r *postgresSubscriptionRepo) StampWarning(ctx context.Context, id uuid.UUID, at time.Time) error {
	return r.stamp(ctx, `UPDATE subscriptions SET last_warning_at = $1, updated_at = $2 WHERE id = $3`, id, at)
}

func (r *postgresSubscriptionRepo) stamp(ctx context.Context, query string, id uuid.UUID, at time.Time) error {
	result, err := r.db.ExecContext(ctx, query, at, time.Now(), id)
	if err != nil {
		r.log.Errorw("Failed to stamp subscription in DB", "error", err, "subscriptionID", id)
		return fmt.Errorf("repository: failed to stamp subscription: %w", err)
	}
	if rows, raErr := result.RowsAffected(); raErr == nil && rows == 0 {
		return domain.NewNotFoundError("subscription", id.String())
	}
	return nil
}
