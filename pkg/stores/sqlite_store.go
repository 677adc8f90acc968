// Package stores persists the resource state registry. The registry is a
// single SQLite document mutated only by the transaction coordinator on
// commit; consistency across processes is a corollary of the coordinator's
// exclusive lock, not a separate mechanism.
package stores

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	// SQLite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrNotFound is returned when a resource record does not exist.
var ErrNotFound = errors.New("resource not found")

// SQLiteStore implements the state store on a single SQLite file.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// Config holds SQLite store configuration.
type Config struct {
	Path string
}

// NewSQLiteStore creates a store instance. Call Init before use.
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}
	return &SQLiteStore{path: cfg.Path}, nil
}

// Init opens the database and applies migrations. The engine serializes
// access with its transaction lock, so a single connection suffices.
func (s *SQLiteStore) Init(ctx context.Context) error {
	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL", s.path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	s.db = db
	return s.migrate()
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *SQLiteStore) migrate() error {
	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := sqlite3.WithInstance(s.db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// Upsert inserts or updates a resource record. CreatedAt is preserved on
// update; UpdatedAt always advances.
func (s *SQLiteStore) Upsert(ctx context.Context, rec ResourceRecord) error {
	now := time.Now().UTC()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now

	query := `
		INSERT INTO resources (id, type, name, provider_meta, created_at, updated_at, archived)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			provider_meta = excluded.provider_meta,
			updated_at    = excluded.updated_at,
			archived      = excluded.archived
	`
	_, err := s.db.ExecContext(ctx, query,
		rec.ID,
		rec.Type,
		rec.Name,
		nullableJSON(rec.ProviderMeta),
		rec.CreatedAt,
		rec.UpdatedAt,
		rec.Archived,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert resource %s: %w", rec.ID, err)
	}
	return nil
}

// Get retrieves a resource record by id.
func (s *SQLiteStore) Get(ctx context.Context, id string) (*ResourceRecord, error) {
	query := `
		SELECT id, type, name, provider_meta, created_at, updated_at, archived
		FROM resources
		WHERE id = ?
	`
	rec, err := scanRecord(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get resource %s: %w", id, err)
	}
	return rec, nil
}

// List returns resource records matching the filter, ordered by id.
func (s *SQLiteStore) List(ctx context.Context, filter ListFilter) ([]ResourceRecord, error) {
	query := `
		SELECT id, type, name, provider_meta, created_at, updated_at, archived
		FROM resources
		WHERE (? = '' OR type = ?)
	`
	if !filter.IncludeArchived {
		query += " AND archived = 0"
	}
	query += " ORDER BY id"

	rows, err := s.db.QueryContext(ctx, query, filter.Type, filter.Type)
	if err != nil {
		return nil, fmt.Errorf("failed to list resources: %w", err)
	}
	defer rows.Close()

	records := []ResourceRecord{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan resource: %w", err)
		}
		records = append(records, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate resources: %w", err)
	}
	return records, nil
}

// Archive soft-deletes a record: the archived flag is set, the record stays.
func (s *SQLiteStore) Archive(ctx context.Context, id string) error {
	query := `UPDATE resources SET archived = 1, updated_at = ? WHERE id = ?`
	result, err := s.db.ExecContext(ctx, query, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to archive resource %s: %w", id, err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%s: %w", id, ErrNotFound)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*ResourceRecord, error) {
	var rec ResourceRecord
	var meta sql.NullString
	if err := row.Scan(
		&rec.ID,
		&rec.Type,
		&rec.Name,
		&meta,
		&rec.CreatedAt,
		&rec.UpdatedAt,
		&rec.Archived,
	); err != nil {
		return nil, err
	}
	if meta.Valid && meta.String != "" {
		rec.ProviderMeta = json.RawMessage(meta.String)
	}
	return &rec, nil
}

func nullableJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}
