package pg

import (
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
	"github.com/nimasrn/courier-dispatch/pkg/logger"
	"github.com/pressly/goose/v3"
)

// Migrate applies every pending goose migration found in dir.
func Migrate(cfg Config, dir string) error {
	db, err := newSqlConnection(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	return MigrateDB(db, "postgres", dir)
}

// MigrateDB runs the migrations on an already opened connection.
func MigrateDB(db *sql.DB, dialect, dir string) error {
	if err := goose.SetDialect(dialect); err != nil {
		return fmt.Errorf("goose dialect %s: %w", dialect, err)
	}

	if err := goose.Up(db, dir); err != nil {
		return fmt.Errorf("goose up: %w", err)
	}

	version, err := goose.GetDBVersion(db)
	if err == nil {
		logger.Info("migrations applied", "dir", dir, "version", version)
	}
	return nil
}
