package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/julianstephens/habitkeep/internal/backup"
	"github.com/julianstephens/habitkeep/internal/constants"
	apperrors "github.com/julianstephens/habitkeep/internal/errors"
	"github.com/julianstephens/habitkeep/internal/logger"
	"github.com/julianstephens/habitkeep/internal/migration"
	"github.com/julianstephens/habitkeep/internal/storage"
	"github.com/julianstephens/habitkeep/internal/storage/lock"
	"github.com/julianstephens/habitkeep/migrations"
)

// timeLayout is fixed-width so that stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000Z07:00"

var _ storage.Provider = (*Store)(nil)

var errNotInitialized = errors.New("storage not initialized")

type Store struct {
	path    string
	db      *sql.DB
	lock    *lock.Lock
	backups *backup.Manager
	now     func() time.Time

	onMigrate func(string)
	applied   int
}

func NewStore(path string) *Store {
	return &Store{
		path:    path,
		backups: backup.NewManager(path),
		now:     time.Now,
	}
}

// Init creates the database directory, takes the process lock, opens the
// database and applies pending migrations. Any failure leaves the store
// closed.
func (s *Store) Init(ctx context.Context) error {
	if s.db != nil {
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0700); err != nil {
		return apperrors.Store("initialize", fmt.Errorf("failed to create database directory: %w", err))
	}

	l, err := lock.Acquire(s.path + constants.LockFileSuffix)
	if err != nil {
		return apperrors.Store("initialize", err)
	}
	s.lock = l

	if err := s.open(); err != nil {
		s.release()
		return apperrors.Store("initialize", err)
	}

	if err := s.migrate(ctx); err != nil {
		s.release()
		return apperrors.Store("initialize", fmt.Errorf("failed to run migrations: %w", err))
	}

	return nil
}

func (s *Store) open() error {
	dsn := fmt.Sprintf("%s?_pragma=foreign_keys(1)&_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)",
		s.path, constants.SQLiteBusyTimeoutMs)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	// One connection keeps every statement on the same pragmas and makes
	// this store the only writer.
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		db.Close()
		return fmt.Errorf("failed to open database: %w", err)
	}
	s.db = db
	return nil
}

func (s *Store) runner() (*migration.Runner, error) {
	subFS, err := fs.Sub(migrations.FS, "sqlite")
	if err != nil {
		return nil, fmt.Errorf("failed to access sqlite migrations: %w", err)
	}
	return migration.NewRunner(s.db, subFS), nil
}

func (s *Store) migrate(ctx context.Context) error {
	runner, err := s.runner()
	if err != nil {
		return err
	}
	n, err := runner.ApplyMigrations(ctx, func(msg string) {
		logger.Debug(strings.TrimSpace(msg))
		if s.onMigrate != nil {
			s.onMigrate(msg)
		}
	})
	s.applied += n
	return err
}

// OnMigration registers fn to receive the progress messages of the
// migrations applied by Init.
func (s *Store) OnMigration(fn func(string)) {
	s.onMigrate = fn
}

// AppliedMigrations is the number of migrations applied since NewStore.
func (s *Store) AppliedMigrations() int {
	return s.applied
}

// LatestSchemaVersion is the highest version among the embedded
// migrations.
func (s *Store) LatestSchemaVersion() (int, error) {
	runner, err := s.runner()
	if err != nil {
		return 0, apperrors.Store("schema version", err)
	}
	v, err := runner.GetLatestVersion()
	return v, apperrors.Store("schema version", err)
}

// SchemaVersion returns the recorded schema version.
func (s *Store) SchemaVersion(ctx context.Context) (int, error) {
	if err := s.ready(); err != nil {
		return 0, apperrors.Store("schema version", err)
	}
	runner, err := s.runner()
	if err != nil {
		return 0, apperrors.Store("schema version", err)
	}
	v, err := runner.GetCurrentVersion(ctx)
	return v, apperrors.Store("schema version", err)
}

func (s *Store) release() {
	if s.db != nil {
		s.db.Close()
		s.db = nil
	}
	if err := s.lock.Release(); err != nil {
		logger.Warn("failed to release database lock", "error", err)
	}
	s.lock = nil
}

func (s *Store) Close() error {
	var err error
	if s.db != nil {
		err = s.db.Close()
		s.db = nil
	}
	if lerr := s.lock.Release(); lerr != nil && err == nil {
		err = lerr
	}
	s.lock = nil
	return err
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// ready reports whether Init has opened the database.
func (s *Store) ready() error {
	if s.db == nil {
		return errNotInitialized
	}
	return nil
}

// DB returns the underlying database connection, or nil before Init.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Backup writes a snapshot of the open database to the backups directory.
func (s *Store) Backup(ctx context.Context) (string, error) {
	if err := s.ready(); err != nil {
		return "", apperrors.Store("backup", err)
	}
	path, err := s.backups.Snapshot(ctx, s.db)
	return path, apperrors.Store("backup", err)
}

// Reset snapshots the database, drops every table including the schema
// version marker and re-applies all migrations.
func (s *Store) Reset(ctx context.Context) error {
	const op = "reset database"
	if err := s.ready(); err != nil {
		return apperrors.Store(op, err)
	}

	path, err := s.backups.Snapshot(ctx, s.db)
	if err != nil {
		return apperrors.Store(op, fmt.Errorf("refusing to reset without a backup: %w", err))
	}
	logger.Warn("resetting database", "backup", path)

	rows, err := s.db.QueryContext(ctx, "SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%'")
	if err != nil {
		return apperrors.Store(op, err)
	}
	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			rows.Close()
			return apperrors.Store(op, err)
		}
		tables = append(tables, name)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return apperrors.Store(op, err)
	}

	// foreign_keys cannot change inside a transaction
	if _, err := s.db.ExecContext(ctx, "PRAGMA foreign_keys = OFF"); err != nil {
		return apperrors.Store(op, err)
	}
	err = s.WithTx(ctx, func(tx *sql.Tx) error {
		for _, t := range tables {
			if _, err := tx.ExecContext(ctx, fmt.Sprintf("DROP TABLE IF EXISTS %q", t)); err != nil {
				return fmt.Errorf("failed to drop %s: %w", t, err)
			}
		}
		return nil
	})
	if _, perr := s.db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); perr != nil && err == nil {
		err = perr
	}
	if err != nil {
		return apperrors.Store(op, err)
	}

	return apperrors.Store(op, s.migrate(ctx))
}

// WithTx runs fn inside a transaction, committing when fn returns nil.
func (s *Store) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	if err := s.ready(); err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// GetCheckpoint returns the time stored under key, or the zero time.
func (s *Store) GetCheckpoint(ctx context.Context, key string) (time.Time, error) {
	if err := s.ready(); err != nil {
		return time.Time{}, apperrors.Store("get checkpoint", err)
	}
	var value string
	err := s.db.QueryRowContext(ctx, "SELECT value FROM sync_state WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, apperrors.Store("get checkpoint", err)
	}
	t, err := parseTime(value)
	return t, apperrors.Store("get checkpoint", err)
}

func (s *Store) SetCheckpoint(ctx context.Context, key string, t time.Time) error {
	if err := s.ready(); err != nil {
		return apperrors.Store("set checkpoint", err)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sync_state (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, formatTime(t), formatTime(s.now()))
	return apperrors.Store("set checkpoint", err)
}

func (s *Store) stamp() time.Time {
	return normalizeTime(s.now())
}

func normalizeTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}

func formatTime(t time.Time) string {
	return normalizeTime(t).Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp %q: %w", s, err)
	}
	return t.UTC(), nil
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func parseNullTime(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	t, err := parseTime(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func nullString(p *string) sql.NullString {
	if p == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *p, Valid: true}
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	v := ns.String
	return &v
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// isUniqueViolation reports whether err is a UNIQUE or PRIMARY KEY
// constraint failure.
func isUniqueViolation(err error) bool {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	return se.Code()&0xff == sqlite3.SQLITE_CONSTRAINT && strings.Contains(se.Error(), "UNIQUE")
}

func isForeignKeyViolation(err error) bool {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	return se.Code()&0xff == sqlite3.SQLITE_CONSTRAINT && strings.Contains(se.Error(), "FOREIGN KEY")
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// expectRow turns a zero-row update into storage.ErrNotFound.
func expectRow(res sql.Result, err error) error {
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// nextUpdatedAt returns a write timestamp strictly after the row's stored
// updated_at so that an edit made while the previous version is being
// pushed is always distinguishable from it.
func nextUpdatedAt(ctx context.Context, tx *sql.Tx, table, id string, at time.Time) (time.Time, error) {
	var current string
	err := tx.QueryRowContext(ctx, "SELECT updated_at FROM "+table+" WHERE id = ?", id).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, storage.ErrNotFound
	}
	if err != nil {
		return time.Time{}, err
	}
	prev, err := parseTime(current)
	if err != nil {
		return time.Time{}, err
	}
	at = normalizeTime(at)
	if !at.After(prev) {
		at = prev.Add(time.Microsecond)
	}
	return at, nil
}
