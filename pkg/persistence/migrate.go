package persistence

import (
	"database/sql"
	"embed"

	"github.com/pressly/goose/v3"

	appErrors "github.com/DNYoussef/fog-compute-sub001/internal/errors"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// Migrate applies every pending goose migration embedded in this package.
func Migrate(db *sql.DB) error {
	goose.SetBaseFS(migrationFS)
	if err := goose.SetDialect("postgres"); err != nil {
		return appErrors.NewPersistenceError("failed to set migration dialect", err)
	}
	if err := goose.Up(db, "migrations"); err != nil {
		return appErrors.NewPersistenceError("failed to run migrations", err)
	}
	return nil
}
