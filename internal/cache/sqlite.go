// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package cache

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/pdiddy/pharma-research/pkg/types"
)

const sqliteFile = "cache.db"

type sqliteBackend struct {
	db *sql.DB
}

// OpenSQLite opens or creates the cache database at dir/cache.db and
// creates the schema if it does not exist.
func OpenSQLite(dir string, opts Options) (*Cache, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating cache directory: %w", err)
	}

	dbPath := filepath.Join(dir, sqliteFile)
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("opening cache database: %w", err)
	}

	be := &sqliteBackend{db: db}
	if err := be.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating cache schema: %w", err)
	}
	return newCache(be, opts), nil
}

func (s *sqliteBackend) createSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS entries (
			key TEXT PRIMARY KEY,
			source TEXT NOT NULL,
			payload BLOB NOT NULL,
			expires_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_entries_source ON entries(source)`,
		`CREATE INDEX IF NOT EXISTS idx_entries_expires_at ON entries(expires_at)`,
	}
	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("executing schema statement: %w", err)
		}
	}
	return nil
}

func (s *sqliteBackend) name() types.CacheBackend { return types.CacheSQLite }

func (s *sqliteBackend) get(ctx context.Context, _ types.SourceID, key string) ([]byte, bool, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx, `SELECT payload FROM entries WHERE key = ?`, key).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("querying entry: %w", err)
	}
	return data, true, nil
}

func (s *sqliteBackend) put(ctx context.Context, source types.SourceID, key string, data []byte, expiresAt time.Time, _ time.Duration) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO entries (key, source, payload, expires_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			source = excluded.source,
			payload = excluded.payload,
			expires_at = excluded.expires_at`,
		key, string(source), data, expiresAt.UnixNano())
	if err != nil {
		return fmt.Errorf("upserting entry: %w", err)
	}
	return nil
}

func (s *sqliteBackend) removeIf(ctx context.Context, _ types.SourceID, key string, seen []byte) error {
	if seen == nil {
		seen = []byte{}
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM entries WHERE key = ? AND payload = ?`, key, seen); err != nil {
		return fmt.Errorf("deleting entry: %w", err)
	}
	return nil
}

func (s *sqliteBackend) clear(ctx context.Context, source types.SourceID) (int, error) {
	var (
		res sql.Result
		err error
	)
	if source == "" {
		res, err = s.db.ExecContext(ctx, `DELETE FROM entries`)
	} else {
		res, err = s.db.ExecContext(ctx, `DELETE FROM entries WHERE source = ?`, string(source))
	}
	if err != nil {
		return 0, fmt.Errorf("deleting entries: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (s *sqliteBackend) purge(ctx context.Context, now time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM entries WHERE expires_at <= ?`, now.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("deleting expired entries: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (s *sqliteBackend) stats(ctx context.Context) (int, int64, map[types.SourceID]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT source, count(*), coalesce(sum(length(payload)), 0) FROM entries GROUP BY source`)
	if err != nil {
		return 0, 0, nil, fmt.Errorf("querying stats: %w", err)
	}
	defer rows.Close()

	var (
		total int
		bytes int64
	)
	bySource := make(map[types.SourceID]int)
	for rows.Next() {
		var (
			source string
			count  int
			size   int64
		)
		if err := rows.Scan(&source, &count, &size); err != nil {
			return 0, 0, nil, fmt.Errorf("scanning stats row: %w", err)
		}
		bySource[types.SourceID(source)] = count
		total += count
		bytes += size
	}
	return total, bytes, bySource, rows.Err()
}

func (s *sqliteBackend) close() error {
	return s.db.Close()
}
