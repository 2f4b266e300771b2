package main

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/MarkoPoloResearchLab/rewardwallet/internal/store/gormstore"
	"github.com/MarkoPoloResearchLab/rewardwallet/internal/store/pgstore"
	"github.com/MarkoPoloResearchLab/rewardwallet/pkg/wallet"
	"github.com/glebarez/sqlite"
	"github.com/jackc/pgx/v5/pgxpool"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

const (
	storeDriverGorm = "gorm"
	storeDriverPGX  = "pgx"

	databaseDriverPostgres = "postgres"
	databaseDriverSQLite   = "sqlite"
)

type backend struct {
	store   wallet.Store
	staging wallet.BonusStaging
	driver  string
	close   func() error
}

func openBackend(ctx context.Context, cfg *runtimeConfig) (backend, error) {
	driver, sqlitePath, err := resolveDriver(cfg.DatabaseURL)
	if err != nil {
		return backend{}, err
	}
	switch cfg.StoreDriver {
	case storeDriverPGX:
		if driver != databaseDriverPostgres {
			return backend{}, fmt.Errorf("store driver %q requires a postgres database url", storeDriverPGX)
		}
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return backend{}, fmt.Errorf("pgx pool: %w", err)
		}
		if err := pgstore.Migrate(ctx, pool); err != nil {
			pool.Close()
			return backend{}, err
		}
		return backend{
			store:   pgstore.New(pool),
			staging: pgstore.NewStaging(pool, cfg.StagingSlot),
			driver:  driver,
			close: func() error {
				pool.Close()
				return nil
			},
		}, nil
	case storeDriverGorm, "":
		db, cleanup, err := openDatabase(driver, cfg.DatabaseURL, sqlitePath)
		if err != nil {
			return backend{}, err
		}
		if err := prepareSchema(ctx, db, driver); err != nil {
			_ = cleanup()
			return backend{}, err
		}
		return backend{
			store:   gormstore.New(db),
			staging: gormstore.NewStaging(db, cfg.StagingSlot),
			driver:  driver,
			close:   cleanup,
		}, nil
	default:
		return backend{}, fmt.Errorf("unsupported store driver %q", cfg.StoreDriver)
	}
}

func openDatabase(driver string, dsn string, sqlitePath string) (*gorm.DB, func() error, error) {
	var (
		db  *gorm.DB
		err error
	)
	cfg := &gorm.Config{}
	switch driver {
	case databaseDriverPostgres:
		db, err = gorm.Open(postgres.Open(dsn), cfg)
	case databaseDriverSQLite:
		db, err = gorm.Open(sqlite.Open(sqlitePath), cfg)
	default:
		return nil, nil, fmt.Errorf("unsupported database scheme %q", driver)
	}
	if err != nil {
		return nil, nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() error { return sqlDB.Close() }
	return db, cleanup, nil
}

func resolveDriver(dsn string) (string, string, error) {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		return databaseDriverPostgres, "", nil
	}
	if strings.HasPrefix(dsn, "sqlite://") {
		u, err := url.Parse(dsn)
		if err != nil {
			return "", "", fmt.Errorf("parse sqlite url: %w", err)
		}
		path := u.Path
		if path == "" {
			path = u.Host
		}
		if path == "" || path == "/" {
			path = "rewardwallet.db"
		}
		sqlitePath, err := normalizeSQLitePath(path)
		return databaseDriverSQLite, sqlitePath, err
	}
	// Treat everything else as a direct sqlite path.
	sqlitePath, err := normalizeSQLitePath(dsn)
	return databaseDriverSQLite, sqlitePath, err
}

func normalizeSQLitePath(path string) (string, error) {
	if path == ":memory:" {
		return path, nil
	}
	if strings.HasPrefix(path, "/") {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return "", err
		}
		return path, nil
	}
	abs := filepath.Join(".", path)
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return "", err
	}
	return abs, nil
}

// prepareSchema auto-migrates sqlite and runs the goose migrations on postgres.
func prepareSchema(ctx context.Context, db *gorm.DB, driver string) error {
	if driver == databaseDriverPostgres {
		sqlDB, err := db.DB()
		if err != nil {
			return err
		}
		return pgstore.MigrateDB(ctx, sqlDB)
	}
	if err := db.AutoMigrate(gormstore.Models()...); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}
