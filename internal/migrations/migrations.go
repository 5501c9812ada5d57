// Package migrations holds the notifier schema and applies it with goose.
package migrations

import (
	"context"
	"database/sql"
	"embed"
	"fmt"

	"github.com/pressly/goose/v3"
	"github.com/wb-go/wbf/zlog"
)

//go:embed *.sql
var files embed.FS

// Up applies all pending migrations to db.
func Up(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(files)
	goose.SetLogger(gooseLogger{})

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("failed to set migrations dialect: %w", err)
	}

	if err := goose.UpContext(ctx, db, "."); err != nil {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}

	return nil
}

// gooseLogger routes goose output through zlog.
type gooseLogger struct{}

func (gooseLogger) Fatalf(format string, v ...any) {
	zlog.Logger.Error().Msgf(format, v...)
}

func (gooseLogger) Printf(format string, v ...any) {
	zlog.Logger.Info().Msgf(format, v...)
}
