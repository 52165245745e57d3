package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/Dhoini/Membership-service/pkg/logger"
	_ "github.com/jackc/pgx/v5/stdlib" // драйвер pgx для database/sql
	"github.com/jmoiron/sqlx"
)

// NewConnection создает новое подключение к PostgreSQL
func NewConnection(ctx context.Context, dsn string, log *logger.Logger) (*sqlx.DB, error) {
	log.Info("Connecting to PostgreSQL")

	db, err := sqlx.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("unable to open database connection: %w", err)
	}

	// Настраиваем пул соединений
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(1 * time.Hour)
	db.SetConnMaxIdleTime(30 * time.Minute)

	// Проверяем подключение
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	log.Info("Successfully connected to PostgreSQL")
	return db, nil
}
