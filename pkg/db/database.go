package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/ditto-assistant/txt2img/cfg/envs"
	"github.com/ditto-assistant/txt2img/cfg/secr"
	"github.com/tursodatabase/go-libsql"
)

var (
	D *sql.DB
)

var ErrNotConfigured = errors.New("db: DB_URL not set")

type Mode int

const (
	// ModeLocal opens a file database directly.
	ModeLocal Mode = iota
	// ModeCloud opens an embedded replica of a remote libSQL database.
	ModeCloud
)

// ModeFor picks the mode from the shape of a database URL.
func ModeFor(url string) Mode {
	if strings.HasPrefix(url, "file:") {
		return ModeLocal
	}
	return ModeCloud
}

// Setup opens D from envs.DB_URL, creates the schema, and closes it when ctx is done.
func Setup(ctx context.Context, shutdown *sync.WaitGroup, mode Mode) error {
	if envs.DB_URL == "" {
		return ErrNotConfigured
	}
	var (
		cleanup func()
		err     error
	)
	switch mode {
	case ModeLocal:
		D, err = sql.Open("libsql", envs.DB_URL)
		if err != nil {
			return fmt.Errorf("error opening db: %w", err)
		}
		cleanup = func() { D.Close() }
	case ModeCloud:
		cleanup, err = openReplica()
		if err != nil {
			return err
		}
	default:
		return fmt.Errorf("unknown db mode %d", mode)
	}
	if err := Migrate(ctx, D); err != nil {
		cleanup()
		return err
	}
	slog.Debug("db connected", "url", envs.DB_URL, "mode", mode)

	shutdown.Add(1)
	go func() {
		<-ctx.Done()
		slog.Debug("shutting down libsql db")
		cleanup()
		shutdown.Done()
	}()
	return nil
}

func openReplica() (func(), error) {
	dir, err := os.MkdirTemp("", "libsql-*")
	if err != nil {
		return nil, fmt.Errorf("error creating temporary directory: %w", err)
	}
	opts := []libsql.Option{libsql.WithAuthToken(secr.TURSO_AUTH_TOKEN.String())}
	if key := secr.LIBSQL_ENCRYPTION_KEY.String(); key != "" {
		opts = append(opts, libsql.WithEncryption(key))
	}
	dbPath := filepath.Join(dir, "local.db")
	connector, err := libsql.NewEmbeddedReplicaConnector(dbPath, envs.DB_URL, opts...)
	if err != nil {
		os.RemoveAll(dir)
		return nil, fmt.Errorf("error creating connector: %w", err)
	}
	D = sql.OpenDB(connector)
	return func() {
		D.Close()
		connector.Close()
		os.RemoveAll(dir)
	}, nil
}

const schema = `
CREATE TABLE IF NOT EXISTS receipts (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	job_id TEXT NOT NULL,
	model TEXT NOT NULL,
	service_type TEXT NOT NULL,
	width INTEGER NOT NULL,
	height INTEGER NOT NULL,
	num_images INTEGER NOT NULL,
	seed TEXT NOT NULL,
	cost REAL NOT NULL,
	storage_key TEXT NOT NULL DEFAULT '',
	content_type TEXT NOT NULL,
	duration_seconds REAL NOT NULL,
	created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS receipts_job_id ON receipts (job_id);
`

// Migrate creates the tables the worker writes to.
func Migrate(ctx context.Context, d *sql.DB) error {
	for _, stmt := range strings.Split(schema, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := d.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to migrate: %w", err)
		}
	}
	return nil
}
