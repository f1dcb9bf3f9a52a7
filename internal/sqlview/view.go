package sqlview

import (
	"context"
	"database/sql"
	"path/filepath"
	"strconv"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Reserved keys the view maintains in the actor's keyspace.
const (
	// MetaKey names the side database file.
	MetaKey = "__sql/database"
	// LastWriteKey holds the unix-ms time of the most recent mutation.
	LastWriteKey = "__sql/last_write"
)

// Store is the view's key-value touchpoint.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Put(ctx context.Context, key string, value []byte) error
}

// View wraps the actor's SQLite database.
type View struct {
	db    *sql.DB
	store Store
	path  string
}

// Open opens or creates the SQLite database at path and records it in the
// keyspace through store.
func Open(path string, store Store) (*View, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	v := &View{db: db, store: store, path: path}
	if err := v.recordOpen(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return v, nil
}

func (v *View) recordOpen(ctx context.Context) error {
	_, ok, err := v.store.Get(ctx, MetaKey)
	if err != nil {
		return err
	}
	if ok {
		return nil
	}
	return v.store.Put(ctx, MetaKey, []byte(filepath.Base(v.path)))
}

// Exec runs a mutating statement and stamps the keyspace with the write
// time.
func (v *View) Exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	res, err := v.db.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	stamp := strconv.FormatInt(time.Now().UnixMilli(), 10)
	if err := v.store.Put(ctx, LastWriteKey, []byte(stamp)); err != nil {
		return nil, err
	}
	return res, nil
}

// Query runs a read-only statement.
func (v *View) Query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return v.db.QueryContext(ctx, query, args...)
}

// QueryRow runs a read-only statement expected to return at most one row.
func (v *View) QueryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return v.db.QueryRowContext(ctx, query, args...)
}

// DB exposes the underlying handle for callers that need transactions or
// prepared statements.
func (v *View) DB() *sql.DB { return v.db }

func (v *View) Close() error { return v.db.Close() }
