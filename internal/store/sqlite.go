package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	_ "modernc.org/sqlite"
)

var ErrNotFound = errors.New("key not found")

// EnsureSchema creates tables if they don't exist.
func EnsureSchema(db *sql.DB) error {
	schema := `
PRAGMA journal_mode=WAL;
CREATE TABLE IF NOT EXISTS kv (
  key TEXT PRIMARY KEY,
  value TEXT NOT NULL,
  updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE TABLE IF NOT EXISTS lifecycles (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  body BLOB NOT NULL,
  created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`
	_, err := db.Exec(schema)
	return err
}

// Open opens (or creates) the agent database at path and applies the schema.
func Open(path string) (*sql.DB, error) {
	dsn := fmt.Sprintf("file:%s?cache=shared&mode=rwc&_pragma=journal_mode(WAL)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	db.SetMaxOpenConns(1) // SQLite single writer
	if err := EnsureSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	return db, nil
}

// KV is a durable string key/value store.
type KV interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
}

// Record is a cached lifecycle awaiting delivery.
type Record struct {
	ID   int64
	Body json.RawMessage
}

type Lifecycles interface {
	AppendLifecycle(ctx context.Context, body []byte) (int64, error)
	ListLifecycles(ctx context.Context) ([]Record, error)
	LifecycleBytes(ctx context.Context) (int64, error)
	// ClearLifecycles removes every record with an id <= throughID.
	ClearLifecycles(ctx context.Context, throughID int64) error
}

type Repository interface {
	KV
	Lifecycles
}

type sqliteRepo struct{ db *sql.DB }

func NewSQLiteRepo(db *sql.DB) Repository { return &sqliteRepo{db: db} }

func (r *sqliteRepo) Get(ctx context.Context, key string) (string, error) {
	var v string
	err := r.db.QueryRowContext(ctx, `SELECT value FROM kv WHERE key=?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	return v, err
}

func (r *sqliteRepo) Set(ctx context.Context, key, value string) error {
	_, err := r.db.ExecContext(ctx, `
INSERT INTO kv (key,value,updated_at) VALUES (?,?,CURRENT_TIMESTAMP)
ON CONFLICT(key) DO UPDATE SET value=excluded.value, updated_at=CURRENT_TIMESTAMP`, key, value)
	return err
}

func (r *sqliteRepo) Delete(ctx context.Context, key string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM kv WHERE key=?`, key)
	return err
}

func (r *sqliteRepo) AppendLifecycle(ctx context.Context, body []byte) (int64, error) {
	res, err := r.db.ExecContext(ctx, `INSERT INTO lifecycles (body,created_at) VALUES (?,CURRENT_TIMESTAMP)`, body)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (r *sqliteRepo) ListLifecycles(ctx context.Context) ([]Record, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, body FROM lifecycles ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var rec Record
		var body []byte
		if err := rows.Scan(&rec.ID, &body); err != nil {
			return nil, err
		}
		rec.Body = body
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (r *sqliteRepo) LifecycleBytes(ctx context.Context) (int64, error) {
	var n int64
	err := r.db.QueryRowContext(ctx, `SELECT COALESCE(SUM(LENGTH(body)),0) FROM lifecycles`).Scan(&n)
	return n, err
}

func (r *sqliteRepo) ClearLifecycles(ctx context.Context, throughID int64) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM lifecycles WHERE id <= ?`, throughID)
	return err
}

// GetBool reads a boolean flag. ok is false when the key was never written.
func GetBool(ctx context.Context, kv KV, key string) (value, ok bool, err error) {
	s, err := kv.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return false, false, nil
	}
	if err != nil {
		return false, false, err
	}
	b, err := strconv.ParseBool(s)
	if err != nil {
		return false, false, fmt.Errorf("flag %q: %w", key, err)
	}
	return b, true, nil
}

func SetBool(ctx context.Context, kv KV, key string, value bool) error {
	return kv.Set(ctx, key, strconv.FormatBool(value))
}
