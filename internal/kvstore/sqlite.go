package kvstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore is the durable Store. Tier lists live in list_entries with a
// monotonic seq per list; keyed values live in kv_entries with an optional
// expiry column swept by the janitor.
type SQLiteStore struct {
	db *sql.DB
}

// DefaultDBPath returns the database path under the caseflow home directory.
func DefaultDBPath(homeDir string) string {
	return filepath.Join(homeDir, "caseflow.db")
}

// OpenSQLite opens (creating if needed) the SQLite-backed store at path.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	dsn := fmt.Sprintf("%s?_busy_timeout=5000&_foreign_keys=on", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite3: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	store := &SQLiteStore{db: db}
	if err := store.configurePragmas(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := store.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// DB exposes the underlying handle for tests.
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) configurePragmas(ctx context.Context) error {
	pragma := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=FULL;",
	}
	for _, q := range pragma {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("set pragma %q: %w", q, err)
		}
	}
	return nil
}

func (s *SQLiteStore) initSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS list_entries (
			list TEXT NOT NULL,
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			value BLOB NOT NULL,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);`,
		`CREATE TABLE IF NOT EXISTS kv_entries (
			key TEXT PRIMARY KEY,
			value BLOB NOT NULL,
			expires_at DATETIME,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);`,
		`CREATE INDEX IF NOT EXISTS idx_list_entries_list_seq ON list_entries(list, seq);`,
		`CREATE INDEX IF NOT EXISTS idx_kv_entries_expires ON kv_entries(expires_at);`,
	}
	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("exec schema: %w", err)
		}
	}
	return nil
}

// retryOnBusy retries f when SQLite returns BUSY or LOCKED, using exponential
// backoff with bounded jitter on top of the driver's busy_timeout.
func retryOnBusy(ctx context.Context, maxRetries int, f func() error) error {
	const baseDelay = 50 * time.Millisecond
	const maxDelay = 500 * time.Millisecond

	var err error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		err = f()
		if err == nil {
			return nil
		}
		if !isSQLiteBusy(err) {
			return err
		}
		if attempt == maxRetries {
			return err
		}
		delay := baseDelay << uint(attempt)
		if delay > maxDelay {
			delay = maxDelay
		}
		jitter := time.Duration(rand.Intn(int(delay / 2)))
		delay = delay - delay/4 + jitter

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return err
}

// isSQLiteBusy checks if an error is a SQLite BUSY (5) or LOCKED (6) error.
func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "database table is locked") ||
		strings.Contains(msg, "(5)") ||
		strings.Contains(msg, "(6)")
}

func (s *SQLiteStore) ListPush(ctx context.Context, list string, value []byte) error {
	return retryOnBusy(ctx, 5, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO list_entries (list, value, created_at)
			VALUES (?, ?, CURRENT_TIMESTAMP);
		`, list, value)
		if err != nil {
			return fmt.Errorf("push list entry: %w", err)
		}
		return nil
	})
}

func (s *SQLiteStore) ListPop(ctx context.Context, list string) ([]byte, error) {
	var value []byte
	err := retryOnBusy(ctx, 5, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin pop tx: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		var seq int64
		if err := tx.QueryRowContext(ctx, `
			SELECT seq, value FROM list_entries
			WHERE list = ?
			ORDER BY seq ASC
			LIMIT 1;
		`, list).Scan(&seq, &value); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrEmpty
			}
			return fmt.Errorf("select oldest list entry: %w", err)
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM list_entries WHERE seq = ?;`, seq)
		if err != nil {
			return fmt.Errorf("delete popped entry: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("pop rows affected: %w", err)
		}
		if affected != 1 {
			// Lost the row to a concurrent pop; treat as empty for this pass.
			return ErrEmpty
		}
		return tx.Commit()
	})
	if err != nil {
		return nil, err
	}
	return value, nil
}

func (s *SQLiteStore) ListLen(ctx context.Context, list string) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(1) FROM list_entries WHERE list = ?;
	`, list).Scan(&n); err != nil {
		return 0, fmt.Errorf("count list entries: %w", err)
	}
	return n, nil
}

func (s *SQLiteStore) ListRange(ctx context.Context, list string, limit int) ([][]byte, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT value FROM list_entries
		WHERE list = ?
		ORDER BY seq DESC
		LIMIT ?;
	`, list, limit)
	if err != nil {
		return nil, fmt.Errorf("query list range: %w", err)
	}
	defer rows.Close()

	var out [][]byte
	for rows.Next() {
		var value []byte
		if err := rows.Scan(&value); err != nil {
			return nil, fmt.Errorf("scan list entry: %w", err)
		}
		out = append(out, value)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list range rows: %w", err)
	}
	return out, nil
}

func (s *SQLiteStore) ListClear(ctx context.Context, list string) error {
	return retryOnBusy(ctx, 5, func() error {
		if _, err := s.db.ExecContext(ctx, `DELETE FROM list_entries WHERE list = ?;`, list); err != nil {
			return fmt.Errorf("clear list: %w", err)
		}
		return nil
	})
}

func (s *SQLiteStore) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT value FROM kv_entries
		WHERE key = ? AND (expires_at IS NULL OR expires_at > CURRENT_TIMESTAMP);
	`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get key: %w", err)
	}
	return value, nil
}

func (s *SQLiteStore) SetEx(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return retryOnBusy(ctx, 5, func() error {
		var expiresAt any
		if ttl > 0 {
			expiresAt = time.Now().UTC().Add(ttl)
		}
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO kv_entries (key, value, expires_at, updated_at)
			VALUES (?, ?, ?, CURRENT_TIMESTAMP)
			ON CONFLICT(key) DO UPDATE SET
				value = excluded.value,
				expires_at = excluded.expires_at,
				updated_at = CURRENT_TIMESTAMP;
		`, key, value, expiresAt)
		if err != nil {
			return fmt.Errorf("set key: %w", err)
		}
		return nil
	})
}

// Update applies mutate inside a transaction so concurrent read-modify-write
// cycles for the same key cannot lose increments.
func (s *SQLiteStore) Update(ctx context.Context, key string, ttl time.Duration, mutate func([]byte) ([]byte, error)) error {
	return retryOnBusy(ctx, 5, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin update tx: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		var value []byte
		if err := tx.QueryRowContext(ctx, `
			SELECT value FROM kv_entries
			WHERE key = ? AND (expires_at IS NULL OR expires_at > CURRENT_TIMESTAMP);
		`, key).Scan(&value); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrNotFound
			}
			return fmt.Errorf("select key for update: %w", err)
		}

		next, err := mutate(value)
		if err != nil {
			return err
		}

		var expiresAt any
		if ttl > 0 {
			expiresAt = time.Now().UTC().Add(ttl)
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE kv_entries
			SET value = ?, expires_at = ?, updated_at = CURRENT_TIMESTAMP
			WHERE key = ?;
		`, next, expiresAt, key); err != nil {
			return fmt.Errorf("write updated key: %w", err)
		}
		return tx.Commit()
	})
}

func (s *SQLiteStore) Delete(ctx context.Context, key string) error {
	return retryOnBusy(ctx, 5, func() error {
		if _, err := s.db.ExecContext(ctx, `DELETE FROM kv_entries WHERE key = ?;`, key); err != nil {
			return fmt.Errorf("delete key: %w", err)
		}
		return nil
	})
}

func (s *SQLiteStore) Keys(ctx context.Context, prefix string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT key FROM kv_entries
		WHERE key LIKE ? || '%' AND (expires_at IS NULL OR expires_at > CURRENT_TIMESTAMP);
	`, prefix)
	if err != nil {
		return nil, fmt.Errorf("query keys: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("scan key: %w", err)
		}
		out = append(out, key)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("key rows: %w", err)
	}
	return out, nil
}

// SweepExpired deletes expired keyed values. Reads already exclude them, so
// the sweep only bounds disk growth.
func (s *SQLiteStore) SweepExpired(ctx context.Context) (int, error) {
	var reclaimed int64
	err := retryOnBusy(ctx, 5, func() error {
		res, err := s.db.ExecContext(ctx, `
			DELETE FROM kv_entries
			WHERE expires_at IS NOT NULL AND expires_at <= CURRENT_TIMESTAMP;
		`)
		if err != nil {
			return fmt.Errorf("sweep expired keys: %w", err)
		}
		reclaimed, err = res.RowsAffected()
		if err != nil {
			return fmt.Errorf("sweep rows affected: %w", err)
		}
		return nil
	})
	return int(reclaimed), err
}
