package database

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // postgres driver
)

// Config holds the database connection settings.
type Config struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// ConfigFromEnv reads the connection settings from RISKGATE_DB_* variables,
// with local-development defaults.
func ConfigFromEnv() Config {
	return Config{
		Host:     envOr("RISKGATE_DB_HOST", "localhost"),
		Port:     envOr("RISKGATE_DB_PORT", "5432"),
		User:     envOr("RISKGATE_DB_USER", "riskgate"),
		Password: envOr("RISKGATE_DB_PASSWORD", ""),
		DBName:   envOr("RISKGATE_DB_NAME", "riskgate"),
		SSLMode:  envOr("RISKGATE_DB_SSLMODE", "disable"),
	}
}

// DSN renders the lib/pq connection string.
func (c Config) DSN() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode)
}

// Connect opens a pooled connection and verifies it with a ping.
func Connect(ctx context.Context, cfg Config) (*sqlx.DB, error) {
	db, err := sqlx.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("database unreachable: %w", err)
	}
	return db, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
