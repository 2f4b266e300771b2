package pgstore

import (
	"context"
	"database/sql"
	"embed"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var embedMigrations embed.FS

const migrationsDir = "migrations"

// Migrate applies the embedded schema migrations through the pool.
// The pool stays open; connections are returned to it when goose finishes.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	return MigrateDB(ctx, stdlib.OpenDBFromPool(pool))
}

// MigrateDB applies the embedded schema migrations on an open database handle.
func MigrateDB(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(embedMigrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("goose set dialect: %w", err)
	}
	if err := goose.UpContext(ctx, db, migrationsDir); err != nil {
		return fmt.Errorf("goose up: %w", err)
	}
	return nil
}
