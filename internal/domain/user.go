package domain

import "time"

// User пользователь Telegram, покупающий доступ к закрытой группе
type User struct {
	ID        int64     `json:"id" db:"id"`
	Username  string    `json:"username,omitempty" db:"username"`
	FirstName string    `json:"first_name,omitempty" db:"first_name"`
	LastName  string    `json:"last_name,omitempty" db:"last_name"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}
