// Package postgres is a remote backend stored in PostgreSQL. Changes are
// announced with NOTIFY so that other clients can pull promptly.
package postgres

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"net/url"
	"strings"
	"time"

	pq "github.com/lib/pq"

	"github.com/julianstephens/habitkeep/internal/constants"
	"github.com/julianstephens/habitkeep/internal/logger"
	"github.com/julianstephens/habitkeep/internal/migration"
	"github.com/julianstephens/habitkeep/internal/remote"
	"github.com/julianstephens/habitkeep/migrations"
)

var (
	ErrInvalidConnectionString = errors.New("invalid PostgreSQL connection string")
	ErrEmbeddedCredentials     = errors.New("connection string must not contain a password")
)

var _ remote.Client = (*Client)(nil)

type Client struct {
	connStr string
	db      *sql.DB
}

// New validates connStr and returns an unopened client.
func New(connStr string) (*Client, error) {
	if _, err := ValidateConnString(connStr); err != nil {
		return nil, err
	}
	return &Client{connStr: withSearchPath(connStr)}, nil
}

// NewFromKeyring is New for a connection string read from the OS keyring,
// where an embedded password is allowed.
func NewFromKeyring(connStr string) (*Client, error) {
	if _, err := ValidateConnString(connStr); err != nil && !errors.Is(err, ErrEmbeddedCredentials) {
		return nil, err
	}
	return &Client{connStr: withSearchPath(connStr)}, nil
}

// withSearchPath pins the session to the habitkeep schema unless the
// connection string already chooses one.
func withSearchPath(connStr string) string {
	if strings.HasPrefix(connStr, "postgres://") || strings.HasPrefix(connStr, "postgresql://") {
		u, err := url.Parse(connStr)
		if err != nil {
			return connStr
		}
		q := u.Query()
		if q.Get("search_path") == "" {
			q.Set("search_path", constants.RemoteSchema)
			u.RawQuery = q.Encode()
		}
		return u.String()
	}
	for _, part := range strings.Fields(connStr) {
		kv := strings.SplitN(part, "=", 2)
		if len(kv) == 2 && strings.EqualFold(kv[0], "search_path") {
			return connStr
		}
	}
	return strings.TrimSpace(connStr) + " search_path=" + constants.RemoteSchema
}

// ValidateConnString checks that connStr parses as a PostgreSQL URI or
// DSN and carries no password.
func ValidateConnString(connStr string) (bool, error) {
	if strings.TrimSpace(connStr) == "" {
		return false, fmt.Errorf("%w: connection string cannot be empty", ErrInvalidConnectionString)
	}
	if _, err := pq.NewConnector(connStr); err != nil {
		return false, fmt.Errorf("%w: invalid connection string format: %v", ErrInvalidConnectionString, err)
	}

	if strings.HasPrefix(connStr, "postgres://") || strings.HasPrefix(connStr, "postgresql://") {
		u, err := url.Parse(connStr)
		if err != nil {
			return false, fmt.Errorf("%w: failed to parse connection URL: %v", ErrInvalidConnectionString, err)
		}
		if _, isSet := u.User.Password(); isSet {
			return false, ErrEmbeddedCredentials
		}
		if u.Host == "" && u.User == nil && (u.Path == "" || u.Path == "/") {
			return false, fmt.Errorf("%w: connection URL is incomplete", ErrInvalidConnectionString)
		}
		return true, nil
	}

	for _, pair := range strings.Fields(connStr) {
		kv := strings.SplitN(pair, "=", 2)
		if len(kv) == 2 && strings.EqualFold(strings.TrimSpace(kv[0]), "password") {
			return false, ErrEmbeddedCredentials
		}
	}
	return true, nil
}

// Open connects, creates the schema if needed and applies the remote
// migrations.
func (c *Client) Open(ctx context.Context) error {
	db, err := sql.Open("postgres", c.connStr)
	if err != nil {
		return fmt.Errorf("failed to open remote database: %w", err)
	}
	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return classify(fmt.Errorf("failed to connect to remote database: %w", err))
	}
	if _, err := db.ExecContext(ctx, "CREATE SCHEMA IF NOT EXISTS "+constants.RemoteSchema); err != nil {
		db.Close()
		return fmt.Errorf("failed to create schema: %w", err)
	}

	subFS, err := fs.Sub(migrations.FS, "postgres")
	if err != nil {
		db.Close()
		return fmt.Errorf("failed to access postgres migrations: %w", err)
	}
	runner := migration.NewRunner(db, subFS).WithDialect(migration.Postgres)
	if _, err := runner.ApplyMigrations(ctx, func(msg string) {
		logger.Debug(strings.TrimSpace(msg))
	}); err != nil {
		db.Close()
		return fmt.Errorf("failed to migrate remote database: %w", err)
	}

	c.db = db
	return nil
}

func (c *Client) Close() error {
	if c.db == nil {
		return nil
	}
	err := c.db.Close()
	c.db = nil
	return err
}

// classify marks connection-level failures as remote.ErrUnavailable so the
// sync engine aborts the pass instead of failing row by row.
func classify(err error) error {
	if err == nil || errors.Is(err, remote.ErrUnavailable) {
		return err
	}
	var netErr net.Error
	var pqErr *pq.Error
	switch {
	case errors.Is(err, driver.ErrBadConn), errors.As(err, &netErr):
		return fmt.Errorf("%w: %v", remote.ErrUnavailable, err)
	case errors.As(err, &pqErr):
		// 08: connection exception, 57P: operator intervention
		if pqErr.Code.Class() == "08" || strings.HasPrefix(string(pqErr.Code), "57P") {
			return fmt.Errorf("%w: %v", remote.ErrUnavailable, err)
		}
	}
	return err
}
