package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// migrations are applied in order and tracked in schema_migrations, so opening
// an existing database is a no-op for already-applied versions.
var migrations = []struct {
	version string
	stmt    string
}{
	{
		version: "001_items",
		stmt: `
			CREATE TABLE IF NOT EXISTS items (
				namespace  TEXT NOT NULL,
				key        TEXT NOT NULL,
				value      TEXT NOT NULL,
				updated_at INTEGER NOT NULL,
				PRIMARY KEY (namespace, key)
			);
			CREATE INDEX IF NOT EXISTS idx_items_namespace ON items(namespace);
		`,
	},
	{
		version: "002_items_fts",
		stmt: `
			CREATE VIRTUAL TABLE IF NOT EXISTS items_fts USING fts5(
				namespace UNINDEXED,
				key UNINDEXED,
				value
			);
		`,
	},
}

// SQLiteStore implements Store on a single SQLite database with WAL mode and
// an FTS5 index over item values. When the FTS table is unavailable (older
// database, build without fts5), Search falls back to LIKE matching.
type SQLiteStore struct {
	conn *sql.DB
	path string
	fts  bool
}

// OpenSQLite creates or opens the database at dbPath and applies migrations.
func OpenSQLite(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	conn, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite allows one writer at a time.
	conn.SetMaxOpenConns(1)

	var walMode string
	if err := conn.QueryRow("PRAGMA journal_mode=WAL").Scan(&walMode); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := conn.Exec("PRAGMA foreign_keys=ON"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	s := &SQLiteStore{conn: conn, path: dbPath}
	if err := s.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migration failed: %w", err)
	}

	// Probe the FTS table once here and cache the result. The pool is capped
	// at one connection, so issuing this query inside an open write
	// transaction would wait on the connection that transaction holds.
	var name string
	err = conn.QueryRow(
		"SELECT name FROM sqlite_master WHERE type='table' AND name='items_fts'",
	).Scan(&name)
	s.fts = err == nil

	return s, nil
}

func (s *SQLiteStore) migrate() error {
	_, err := s.conn.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version    TEXT PRIMARY KEY,
			applied_at INTEGER NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to init migrations table: %w", err)
	}

	for _, m := range migrations {
		var count int
		if err := s.conn.QueryRow(
			"SELECT COUNT(*) FROM schema_migrations WHERE version = ?", m.version,
		).Scan(&count); err != nil {
			return fmt.Errorf("failed to check migration %s: %w", m.version, err)
		}
		if count > 0 {
			continue
		}

		tx, err := s.conn.Begin()
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		if _, err := tx.Exec(m.stmt); err != nil {
			tx.Rollback()
			// The FTS migration is optional: a go-sqlite3 build without the
			// fts5 tag still serves every query via the LIKE fallback.
			if m.version == "002_items_fts" {
				continue
			}
			return fmt.Errorf("failed to apply migration %s: %w", m.version, err)
		}
		if _, err := tx.Exec(
			"INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)",
			m.version, time.Now().Unix(),
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to record migration %s: %w", m.version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %s: %w", m.version, err)
		}
	}
	return nil
}

// Close closes the underlying connection.
func (s *SQLiteStore) Close() error {
	return s.conn.Close()
}

// Path returns the database file path.
func (s *SQLiteStore) Path() string {
	return s.path
}

// Get implements Store.
func (s *SQLiteStore) Get(ctx context.Context, namespace, key string) ([]byte, error) {
	var value string
	err := s.conn.QueryRowContext(ctx,
		"SELECT value FROM items WHERE namespace = ? AND key = ?", namespace, key,
	).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get %s/%s: %w", namespace, key, err)
	}
	return []byte(value), nil
}

// Put implements Store. Existing items are replaced.
func (s *SQLiteStore) Put(ctx context.Context, namespace, key string, value []byte) error {
	tx, err := s.conn.Begin()
	if err != nil {
		return fmt.Errorf("put %s/%s: %w", namespace, key, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO items (namespace, key, value, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(namespace, key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, namespace, key, string(value), time.Now().Unix()); err != nil {
		return fmt.Errorf("put %s/%s: %w", namespace, key, err)
	}

	if s.fts {
		if _, err := tx.ExecContext(ctx,
			"DELETE FROM items_fts WHERE namespace = ? AND key = ?", namespace, key,
		); err != nil {
			return fmt.Errorf("put %s/%s: fts delete: %w", namespace, key, err)
		}
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO items_fts (namespace, key, value) VALUES (?, ?, ?)",
			namespace, key, string(value),
		); err != nil {
			return fmt.Errorf("put %s/%s: fts insert: %w", namespace, key, err)
		}
	}

	return tx.Commit()
}

// Delete implements Store. Deleting a missing item is not an error.
func (s *SQLiteStore) Delete(ctx context.Context, namespace, key string) error {
	tx, err := s.conn.Begin()
	if err != nil {
		return fmt.Errorf("delete %s/%s: %w", namespace, key, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		"DELETE FROM items WHERE namespace = ? AND key = ?", namespace, key,
	); err != nil {
		return fmt.Errorf("delete %s/%s: %w", namespace, key, err)
	}
	if s.fts {
		if _, err := tx.ExecContext(ctx,
			"DELETE FROM items_fts WHERE namespace = ? AND key = ?", namespace, key,
		); err != nil {
			return fmt.Errorf("delete %s/%s: fts: %w", namespace, key, err)
		}
	}
	return tx.Commit()
}

// List implements Store, newest first.
func (s *SQLiteStore) List(ctx context.Context, namespace string) ([]Item, error) {
	rows, err := s.conn.QueryContext(ctx, `
		SELECT namespace, key, value, updated_at FROM items
		WHERE namespace = ? ORDER BY updated_at DESC, key ASC
	`, namespace)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", namespace, err)
	}
	defer rows.Close()
	return scanItems(rows)
}

// Search implements Store using FTS5 when available.
func (s *SQLiteStore) Search(ctx context.Context, namespace, query string, limit int) ([]Item, error) {
	query = strings.TrimSpace(strings.ReplaceAll(query, `"`, ""))
	if limit <= 0 {
		limit = 50
	}
	if query == "" {
		items, err := s.List(ctx, namespace)
		if err != nil {
			return nil, err
		}
		if len(items) > limit {
			items = items[:limit]
		}
		return items, nil
	}

	if s.fts {
		return s.searchFTS(ctx, namespace, query, limit)
	}
	return s.searchLike(ctx, namespace, query, limit)
}

func (s *SQLiteStore) searchFTS(ctx context.Context, namespace, query string, limit int) ([]Item, error) {
	// OR-join the terms for broad matching; rank orders best match first.
	ftsQuery := strings.Join(strings.Fields(query), " OR ")

	rows, err := s.conn.QueryContext(ctx, `
		SELECT i.namespace, i.key, i.value, i.updated_at
		FROM items i
		JOIN items_fts f ON i.namespace = f.namespace AND i.key = f.key
		WHERE f.items_fts MATCH ? AND i.namespace = ?
		ORDER BY f.rank
		LIMIT ?
	`, ftsQuery, namespace, limit)
	if err != nil {
		return nil, fmt.Errorf("search %s: %w", namespace, err)
	}
	defer rows.Close()
	return scanItems(rows)
}

func (s *SQLiteStore) searchLike(ctx context.Context, namespace, query string, limit int) ([]Item, error) {
	terms := strings.Fields(strings.ToLower(query))
	clauses := make([]string, 0, len(terms))
	args := []interface{}{namespace}
	for _, term := range terms {
		clauses = append(clauses, "lower(value) LIKE ?")
		args = append(args, "%"+term+"%")
	}
	args = append(args, limit)

	rows, err := s.conn.QueryContext(ctx, fmt.Sprintf(`
		SELECT namespace, key, value, updated_at FROM items
		WHERE namespace = ? AND (%s)
		ORDER BY updated_at DESC
		LIMIT ?
	`, strings.Join(clauses, " OR ")), args...)
	if err != nil {
		return nil, fmt.Errorf("search %s: %w", namespace, err)
	}
	defer rows.Close()
	return scanItems(rows)
}

func scanItems(rows *sql.Rows) ([]Item, error) {
	var items []Item
	for rows.Next() {
		var it Item
		var value string
		var updated int64
		if err := rows.Scan(&it.Namespace, &it.Key, &value, &updated); err != nil {
			return nil, fmt.Errorf("scan item: %w", err)
		}
		it.Value = []byte(value)
		it.UpdatedAt = time.Unix(updated, 0)
		items = append(items, it)
	}
	return items, rows.Err()
}
