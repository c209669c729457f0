// Package migrate applies embedded SQL migrations on startup.
package migrate

import (
	"context"
	"database/sql"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/and161185/file-vault/migrations"
)

// Up runs all pending migrations from the embedded filesystem.
func Up(ctx context.Context, dsn string) error {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := configure(); err != nil {
		return err
	}
	return goose.UpContext(ctx, db, ".")
}

// Pending lists the embedded migrations known to goose, oldest first.
func Pending() (goose.Migrations, error) {
	if err := configure(); err != nil {
		return nil, err
	}
	return goose.CollectMigrations(".", 0, goose.MaxVersion)
}

func configure() error {
	goose.SetBaseFS(migrations.FS)
	return goose.SetDialect("postgres")
}
