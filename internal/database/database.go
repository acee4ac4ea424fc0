// Package database opens the SQL backends used by the user and refresh
// stores and applies schema migrations with goose.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	"github.com/pubble-team/pubbleauth/internal/database/migrations"
	"github.com/pubble-team/pubbleauth/internal/dbx"
)

// gooseUpContext is a seam for testing goose.UpContext.
var gooseUpContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
	return goose.UpContext(ctx, db, dir, opts...)
}

// goose keeps its base FS and dialect in package globals.
var gooseMu sync.Mutex

// Open connects to the database for dialect. dsn is a PostgreSQL URL for
// DialectPostgres and a file path or URI for DialectSQLite.
func Open(ctx context.Context, dialect dbx.Dialect, dsn string) (*sql.DB, error) {
	var driver string
	switch dialect {
	case dbx.DialectPostgres:
		driver = "pgx"
	case dbx.DialectSQLite:
		driver = "sqlite"
	default:
		return nil, fmt.Errorf("unsupported dialect %q", dialect)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("db open error: %w", err)
	}
	if dialect == dbx.DialectSQLite {
		// SQLite allows a single writer.
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("db ping error: %w", err)
	}
	return db, nil
}

// Migrate applies the embedded migrations.
func Migrate(ctx context.Context, db *sql.DB, dialect dbx.Dialect) error {
	gooseDialect := goose.DialectPostgres
	if dialect == dbx.DialectSQLite {
		gooseDialect = goose.DialectSQLite3
	}

	gooseMu.Lock()
	defer gooseMu.Unlock()

	goose.SetBaseFS(migrations.Migrations)
	if err := goose.SetDialect(string(gooseDialect)); err != nil {
		return fmt.Errorf("migration dialect: %w", err)
	}
	if err := gooseUpContext(ctx, db, "."); err != nil {
		return fmt.Errorf("migration error: %w", err)
	}
	return nil
}

// OpenAndMigrate combines Open and Migrate, closing the connection when
// migrations fail.
func OpenAndMigrate(ctx context.Context, dialect dbx.Dialect, dsn string) (*sql.DB, error) {
	db, err := Open(ctx, dialect, dsn)
	if err != nil {
		return nil, err
	}
	if err := Migrate(ctx, db, dialect); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}
