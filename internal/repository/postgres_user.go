package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/Dhoini/Membership-service/internal/domain"
	"github.com/Dhoini/Membership-service/pkg/logger"
	"github.com/jmoiron/sqlx"
)

// postgresUserRepo реализует UserRepository для PostgreSQL
type postgresUserRepo struct {
	db  *sqlx.DB
	log *logger.Logger
}

// NewPostgresUserRepository создает новый экземпляр репозитория пользователей для PostgreSQL
func NewPostgresUserRepository(db *sqlx.DB, log *logger.Logger) UserRepository {
	return &postgresUserRepo{
		db:  db,
		log: log,
	}
}

// Upsert создает пользователя или обновляет его профиль
func (r *postgresUserRepo) Upsert(ctx context.Context, user *domain.User) error {
	now := time.Now()
	user.CreatedAt = now
	user.UpdatedAt = now

	query := `
        INSERT INTO users (id, username, first_name, last_name, created_at, updated_at)
        VALUES (:id, :username, :first_name, :last_name, :created_at, :updated_at)
        ON CONFLICT (id) DO UPDATE SET
            username = EXCLUDED.username,
            first_name = EXCLUDED.first_name,
            last_name = EXCLUDED.last_name,
            updated_at = EXCLUDED.updated_at`

	_, err := r.db.NamedExecContext(ctx, query, user)
	if err != nil {
		r.log.Errorw("Failed to upsert user in DB", "error", err, "userID", user.ID)
		return fmt.Errorf("repository: failed to upsert user: %w", err)
	}

	r.log.Debugw("Successfully upserted user in DB", "userID", user.ID)
	return nil
}

// GetByID возвращает пользователя по Telegram ID
func (r *postgresUserRepo) GetByID(ctx context.Context, id int64) (*domain.User, error) {
	var user domain.User
	query := `
        SELECT id, username, first_name, last_name, created_at, updated_at
        FROM users WHERE id = $1`

	err := r.db.GetContext(ctx, &user, query, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.NewNotFoundError("user", strconv.FormatInt(id, 10))
		}
		r.log.Errorw("Failed to get user by ID from DB", "error", err, "userID", id)
		return nil, fmt.Errorf("repository: failed to get user by ID: %w", err)
	}

	return &user, nil
}
