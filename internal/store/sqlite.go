package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/ashureev/designhaus/internal/shared"
	_ "modernc.org/sqlite"
)

// SQLiteMedium stores the local document in a SQLite file, so several server
// processes on one host can share local state.
type SQLiteMedium struct {
	db     *sql.DB
	key    string
	logger *slog.Logger
}

// NewSQLiteMedium opens (or creates) the database at dbPath.
func NewSQLiteMedium(dbPath string, logger *slog.Logger) (*SQLiteMedium, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// WAL for concurrent readers; immediate transactions so read-modify-write
	// takes the write lock up front instead of failing on upgrade.
	dsn := "file:" + dbPath + "?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)&_txlock=immediate"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	m := &SQLiteMedium{db: db, key: DocumentKey, logger: logger}
	if err := m.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return m, nil
}

func (m *SQLiteMedium) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS documents (
		key TEXT PRIMARY KEY,
		value BLOB NOT NULL,
		revision INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);`
	if _, err := m.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Load returns the stored document and its revision.
func (m *SQLiteMedium) Load(ctx context.Context) ([]byte, int64, error) {
	var data []byte
	var revision int64
	err := m.db.QueryRowContext(ctx,
		`SELECT value, revision FROM documents WHERE key = ?`, m.key,
	).Scan(&data, &revision)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, 0, nil
	}
	if err != nil {
		return nil, 0, fmt.Errorf("load document: %w", err)
	}
	return data, revision, nil
}

// Revision returns the revision of the stored document.
func (m *SQLiteMedium) Revision(ctx context.Context) (int64, error) {
	var revision int64
	err := m.db.QueryRowContext(ctx,
		`SELECT revision FROM documents WHERE key = ?`, m.key,
	).Scan(&revision)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read revision: %w", err)
	}
	return revision, nil
}

// Update runs fn inside a transaction.
// Implements retry logic with exponential backoff to handle SQLITE_BUSY errors.
func (m *SQLiteMedium) Update(ctx context.Context, fn func(current []byte) ([]byte, error)) (int64, error) {
	maxRetries := 3
	baseDelay := 100 * time.Millisecond

	var lastErr error
	for i := 0; i < maxRetries; i++ {
		revision, err := m.updateOnce(ctx, fn)
		if err == nil {
			return revision, nil
		}
		if !shared.IsSQLiteConflictError(err) {
			return 0, err
		}
		lastErr = err
		if i < maxRetries-1 {
			delay := baseDelay * time.Duration(1<<i) // 100ms, 200ms, 400ms
			m.logger.Debug("Document update hit SQLITE_BUSY, retrying", "attempt", i+1, "delay", delay)
			select {
			case <-ctx.Done():
				return 0, ctx.Err()
			case <-time.After(delay):
			}
		}
	}
	return 0, fmt.Errorf("update document after %d attempts: %w", maxRetries, lastErr)
}

func (m *SQLiteMedium) updateOnce(ctx context.Context, fn func(current []byte) ([]byte, error)) (int64, error) {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var current []byte
	var revision int64
	err = tx.QueryRowContext(ctx,
		`SELECT value, revision FROM documents WHERE key = ?`, m.key,
	).Scan(&current, &revision)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("read document: %w", err)
	}

	next, err := fn(current)
	if err != nil {
		return 0, err
	}

	revision++
	_, err = tx.ExecContext(ctx, `
		INSERT INTO documents (key, value, revision, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			revision = excluded.revision,
			updated_at = excluded.updated_at`,
		m.key, next, revision, time.Now().Unix(),
	)
	if err != nil {
		return 0, fmt.Errorf("write document: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return revision, nil
}

// Close closes the database connection.
func (m *SQLiteMedium) Close() error {
	if err := m.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}
