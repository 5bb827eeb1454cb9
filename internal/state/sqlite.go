package state

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore keeps records in a single kv table, one namespace per record.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the database at dbPath. ":memory:"
// is accepted for tests.
func OpenSQLite(dbPath string) (*SQLiteStore, error) {
	if dbPath != ":memory:" {
		// Ensure parent directory exists
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("create state dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open state db: %w", err)
	}
	// One connection keeps :memory: databases shared and serializes writers.
	db.SetMaxOpenConns(1)

	store := &SQLiteStore{db: db}
	if err := store.ensureSchema(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

func (s *SQLiteStore) ensureSchema(ctx context.Context) error {
	schema := []string{
		`PRAGMA journal_mode = WAL;`,
		`CREATE TABLE IF NOT EXISTS kv (
			namespace TEXT NOT NULL,
			key TEXT NOT NULL,
			value TEXT NOT NULL DEFAULT '',
			updated_at INTEGER NOT NULL,
			PRIMARY KEY (namespace, key)
		);`,
	}
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate state schema: %w", err)
		}
	}
	return nil
}

// Namespace returns the KV view of one record.
func (s *SQLiteStore) Namespace(name string, keys []string) KV {
	return &sqliteKV{db: s.db, namespace: name, keys: keys}
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

type sqliteKV struct {
	db        *sql.DB
	namespace string
	keys      []string
}

func (k *sqliteKV) Load(ctx context.Context) (map[string]string, error) {
	values := defaults(k.keys)

	rows, err := k.db.QueryContext(ctx, `SELECT key, value FROM kv WHERE namespace = ?`, k.namespace)
	if err != nil {
		return values, fmt.Errorf("load %s: %w", k.namespace, err)
	}
	defer rows.Close()

	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return values, fmt.Errorf("scan %s: %w", k.namespace, err)
		}
		if _, known := values[key]; known {
			values[key] = value
		}
	}
	if err := rows.Err(); err != nil {
		return values, fmt.Errorf("iterate %s: %w", k.namespace, err)
	}
	return values, nil
}

func (k *sqliteKV) Update(ctx context.Context, values map[string]string) error {
	if err := checkKeys(k.keys, values); err != nil {
		return err
	}

	tx, err := k.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO kv (namespace, key, value, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(namespace, key) DO UPDATE SET
			value = excluded.value,
			updated_at = excluded.updated_at`)
	if err != nil {
		return fmt.Errorf("prepare upsert: %w", err)
	}
	defer stmt.Close()

	now := time.Now().Unix()
	for key, value := range values {
		if _, err := stmt.ExecContext(ctx, k.namespace, key, value, now); err != nil {
			return fmt.Errorf("upsert %s.%s: %w", k.namespace, key, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// Check runs a read and an empty write transaction on the namespace.
func (k *sqliteKV) Check(ctx context.Context) error {
	if err := k.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping state db: %w", err)
	}
	if _, err := k.Load(ctx); err != nil {
		return err
	}
	tx, err := k.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `DELETE FROM kv WHERE namespace = ? AND 0`, k.namespace); err != nil {
		return fmt.Errorf("state db not writable: %w", err)
	}
	return nil
}

// Store returns a Store whose config and session records live in this
// database.
func (s *SQLiteStore) Store(logger *slog.Logger) *Store {
	return NewStore(
		s.Namespace("config", ConfigKeys),
		s.Namespace("session", SessionKeys),
		logger,
	)
}
