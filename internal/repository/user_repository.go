package repository

import (
	"context"
	"sync"
	"time"

	"github.com/Dhoini/Membership-service/internal/domain"
	"github.com/Dhoini/Membership-service/pkg/logger"
)

// UserRepository хранилище пользователей
type UserRepository interface {
	// Upsert создает пользователя или обновляет его профиль
	Upsert(ctx context.Context, user *domain.User) error

	// GetByID возвращает пользователя по Telegram ID
	GetByID(ctx context.Context, id int64) (*domain.User, error)
}

// memoryUserRepo реализация UserRepository в памяти
type memoryUserRepo struct {
	mu    sync.RWMutex
	users map[int64]*domain.User
	log   *logger.Logger
}

// NewMemoryUserRepository создает новый репозиторий пользователей в памяти
func NewMemoryUserRepository(log *logger.Logger) UserRepository {
	return &memoryUserRepo{
		users: make(map[int64]*domain.User),
		log:   log,
	}
}

// Upsert создает пользователя или обновляет его профиль
func (r *memoryUserRepo) Upsert(_ context.Context, user *domain.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	if existing, ok := r.users[user.ID]; ok {
		existing.Username = user.Username
		existing.FirstName = user.FirstName
		existing.LastName = user.LastName
		existing.UpdatedAt = now
		return nil
	}

	user.CreatedAt = now
	user.UpdatedAt = now
	cp := *user
	r.users[user.ID] = &cp
	return nil
}

// GetByID возвращает пользователя по Telegram ID
func (r *memoryUserRepo) GetByID(_ context.Context, id int64) (*domain.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	user, ok := r.users[id]
	if !ok {
		return nil, domain.NewNotFoundError("user", "")
	}
	cp := *user
	return &cp, nil
}
