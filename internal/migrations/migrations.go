package migrations

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/pressly/goose/v3"
	"github.com/sirupsen/logrus"
)

//go:embed sql/*.sql
var files embed.FS

const dir = "sql"

// Runner applies the embedded schema migrations.
type Runner struct {
	db     *sql.DB
	logger logrus.FieldLogger
}

// New returns a migration runner backed by goose.
func New(db *sql.DB, logger logrus.FieldLogger) (Runner, error) {
	if db == nil {
		return Runner{}, errors.New("migrations: nil db")
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	goose.SetBaseFS(files)
	if err := goose.SetDialect("postgres"); err != nil {
		return Runner{}, fmt.Errorf("configure goose: %w", err)
	}
	return Runner{db: db, logger: logger}, nil
}

// Up applies pending migrations.
func (r Runner) Up(ctx context.Context) error {
	runCtx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()

	r.logger.Info("applying migrations")
	if err := goose.UpContext(runCtx, r.db, dir); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	version, err := goose.GetDBVersionContext(runCtx, r.db)
	if err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	r.logger.WithField("version", version).Info("migrations applied")
	return nil
}

// Down rolls back the latest migration, or down to targetVersion when positive.
func (r Runner) Down(ctx context.Context, targetVersion int64) error {
	runCtx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()

	if targetVersion > 0 {
		if err := goose.DownToContext(runCtx, r.db, dir, targetVersion); err != nil {
			return fmt.Errorf("rollback to version %d: %w", targetVersion, err)
		}
		return nil
	}
	if err := goose.DownContext(runCtx, r.db, dir); err != nil {
		return fmt.Errorf("rollback latest migration: %w", err)
	}
	return nil
}
