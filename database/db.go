package database

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
	"modernc.org/sqlite"
	sqlitelib "modernc.org/sqlite/lib"
)

var (
	// ErrNotFound is returned when a row addressed by id does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when a write violates a uniqueness constraint.
	ErrConflict = errors.New("conflict")
)

// Store is the board's persistence layer. It runs on SQLite for local use
// and on Postgres for shared deployments. SQLite is reachable through the
// cgo driver "sqlite3" or the pure Go driver "sqlite".
type Store struct {
	db     *sqlx.DB
	driver string
}

// Open connects to the database and applies pending migrations.
func Open(driver, dsn string) (*Store, error) {
	if driver == "sqlite" {
		dsn = withTimeFormat(dsn)
	}
	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if isSQLite(driver) {
		// One connection keeps :memory: databases and transactions consistent.
		db.SetMaxOpenConns(1)
		if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
		}
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to reach database: %w", err)
	}

	s := &Store{db: db, driver: driver}
	if err := s.migrate(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	slog.Info("database initialized", "driver", driver)
	return s, nil
}

func isSQLite(driver string) bool {
	return driver == "sqlite3" || driver == "sqlite"
}

// withTimeFormat makes the pure Go driver store timestamps in a sortable
// text form so range queries compare correctly.
func withTimeFormat(dsn string) string {
	if strings.Contains(dsn, "_time_format=") {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + "_time_format=sqlite"
}

// Close closes the underlying connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// Driver returns the database driver name.
func (s *Store) Driver() string {
	return s.driver
}

// DB exposes the connection pool for components that need raw access.
func (s *Store) DB() *sqlx.DB {
	return s.db
}

// Ping checks the connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

type migration struct {
	version    int
	statements []string
}

var migrations = []migration{
	{
		version: 1,
		statements: []string{
			`CREATE TABLE IF NOT EXISTS users (
				id TEXT PRIMARY KEY,
				email TEXT NOT NULL UNIQUE,
				created_at TIMESTAMP NOT NULL
			)`,
			`CREATE TABLE IF NOT EXISTS user_profiles (
				user_id TEXT PRIMARY KEY REFERENCES users(id) ON DELETE CASCADE,
				nickname TEXT NOT NULL UNIQUE,
				email TEXT NOT NULL,
				created_at TIMESTAMP NOT NULL,
				updated_at TIMESTAMP NOT NULL
			)`,
			`CREATE TABLE IF NOT EXISTS cards (
				id TEXT PRIMARY KEY,
				title TEXT NOT NULL,
				description TEXT NOT NULL DEFAULT '',
				column_id TEXT NOT NULL,
				priority TEXT NOT NULL DEFAULT 'medium',
				user_id TEXT NOT NULL,
				start_date TIMESTAMP NULL,
				end_date TIMESTAMP NULL,
				completed_at TIMESTAMP NULL,
				position INTEGER NOT NULL DEFAULT 0,
				created_at TIMESTAMP NOT NULL,
				updated_at TIMESTAMP NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_cards_column ON cards(column_id, position)`,
			`CREATE INDEX IF NOT EXISTS idx_cards_user ON cards(user_id)`,
			`CREATE TABLE IF NOT EXISTS checklist_items (
				id TEXT PRIMARY KEY,
				card_id TEXT NOT NULL REFERENCES cards(id) ON DELETE CASCADE,
				text TEXT NOT NULL,
				is_completed BOOLEAN NOT NULL DEFAULT FALSE,
				position INTEGER NOT NULL DEFAULT 0,
				created_at TIMESTAMP NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_checklist_card ON checklist_items(card_id, position)`,
			`CREATE TABLE IF NOT EXISTS trash (
				id TEXT PRIMARY KEY,
				card_id TEXT NOT NULL,
				title TEXT NOT NULL,
				description TEXT NOT NULL DEFAULT '',
				column_id TEXT NOT NULL,
				priority TEXT NOT NULL,
				user_id TEXT NOT NULL,
				start_date TIMESTAMP NULL,
				end_date TIMESTAMP NULL,
				completed_at TIMESTAMP NULL,
				card_created_at TIMESTAMP NOT NULL,
				checklist TEXT NOT NULL DEFAULT '[]',
				deleted_by TEXT NOT NULL,
				deleted_at TIMESTAMP NOT NULL,
				auto_delete_at TIMESTAMP NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_trash_auto_delete ON trash(auto_delete_at)`,
		},
	},
}

// migrate applies every migration newer than the recorded schema version.
func (s *Store) migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx,
		`CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	var current int
	if err := s.db.GetContext(ctx, &current,
		`SELECT COALESCE(MAX(version), 0) FROM schema_version`); err != nil {
		return fmt.Errorf("reading schema version: %w", err)
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		err := s.withTx(ctx, func(tx *sqlx.Tx) error {
			for _, stmt := range m.statements {
				if _, err := tx.ExecContext(ctx, stmt); err != nil {
					return err
				}
			}
			_, err := tx.ExecContext(ctx, s.db.Rebind(`INSERT INTO schema_version (version) VALUES (?)`), m.version)
			return err
		})
		if err != nil {
			return fmt.Errorf("applying migration %d: %w", m.version, err)
		}
		slog.Debug("applied migration", "version", m.version)
	}
	return nil
}

// withTx runs fn inside a transaction, committing only if fn succeeds.
func (s *Store) withTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// isUniqueViolation recognizes unique constraint errors from every driver.
func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	var pureErr *sqlite.Error
	if errors.As(err, &pureErr) {
		return pureErr.Code() == sqlitelib.SQLITE_CONSTRAINT_UNIQUE ||
			pureErr.Code() == sqlitelib.SQLITE_CONSTRAINT_PRIMARYKEY
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return false
}

// notFoundIfNoRows converts an affected-rows count of zero into ErrNotFound.
func notFoundIfNoRows(rows int64, what, id string) error {
	if rows == 0 {
		return fmt.Errorf("%s %s: %w", what, id, ErrNotFound)
	}
	return nil
}
