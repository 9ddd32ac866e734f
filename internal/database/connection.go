// Package database configures and opens the Postgres connection pool
// backing the deployment persistence layer.
package database

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"

	appErrors "github.com/DNYoussef/fog-compute-sub001/internal/errors"
)

// Config holds Postgres connection parameters and pool tuning.
type Config struct {
	Host            string
	Port            int
	User            string
	Password        string
	Database        string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// DefaultConfig returns the connection defaults used when no environment
// overrides are present.
func DefaultConfig() *Config {
	return &Config{
		Host:            "localhost",
		Port:            5432,
		User:            "slm_user",
		Database:        "action_history",
		SSLMode:         "disable",
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
		ConnMaxIdleTime: 5 * time.Minute,
	}
}

// LoadFromEnv overrides fields from DB_HOST/DB_PORT/DB_USER/DB_PASSWORD/
// DB_NAME/DB_SSL_MODE, leaving unset or unparsable values untouched.
func (c *Config) LoadFromEnv() {
	if v := os.Getenv("DB_HOST"); v != "" {
		c.Host = v
	}
	if v := os.Getenv("DB_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Port = port
		}
	}
	if v := os.Getenv("DB_USER"); v != "" {
		c.User = v
	}
	if v := os.Getenv("DB_PASSWORD"); v != "" {
		c.Password = v
	}
	if v := os.Getenv("DB_NAME"); v != "" {
		c.Database = v
	}
	if v := os.Getenv("DB_SSL_MODE"); v != "" {
		c.SSLMode = v
	}
}

// Validate checks that the configuration is usable before a connection is attempted.
func (c *Config) Validate() error {
	if c.Host == "" {
		return appErrors.NewValidationError("database host is required")
	}
	if c.Port < 1 || c.Port > 65535 {
		return appErrors.NewValidationError("database port must be between 1 and 65535")
	}
	if c.User == "" {
		return appErrors.NewValidationError("database user is required")
	}
	if c.Database == "" {
		return appErrors.NewValidationError("database name is required")
	}
	if c.MaxOpenConns <= 0 {
		return appErrors.NewValidationError("max open connections must be greater than 0")
	}
	if c.MaxIdleConns < 0 {
		return appErrors.NewValidationError("max idle connections must be non-negative")
	}
	return nil
}

// ConnectionString renders a libpq-style key/value DSN, omitting the
// password parameter when empty.
func (c *Config) ConnectionString() string {
	dsn := fmt.Sprintf("host=%s port=%d user=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Database, c.SSLMode)
	if c.Password != "" {
		dsn = fmt.Sprintf("%s password=%s", dsn, c.Password)
	}
	return dsn
}

// Connect validates config, opens a pgx-backed *sqlx.DB, applies pool
// tuning, and verifies connectivity with a ping.
func Connect(config *Config, logger *logrus.Logger) (*sqlx.DB, error) {
	if err := config.Validate(); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrorTypeValidation, "invalid database configuration")
	}

	db, err := sqlx.Connect("pgx", config.ConnectionString())
	if err != nil {
		return nil, appErrors.NewPersistenceError("open connection", err)
	}

	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, appErrors.NewPersistenceError("ping database", err)
	}

	logger.WithFields(logrus.Fields{
		"host":     config.Host,
		"port":     config.Port,
		"database": config.Database,
	}).Info("connected to database")

	return db, nil
}
