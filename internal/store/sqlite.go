package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	_ "modernc.org/sqlite"
)

// SQLite keeps the key-value space and the log streams in one database file.
type SQLite struct{ sql *sql.DB }

func OpenSQLite(path string) (*SQLite, error) {
	if path == "" {
		path = "./beacon.db"
	}
	d, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	if path == ":memory:" {
		// every pooled connection would otherwise see its own empty database
		d.SetMaxOpenConns(1)
	}
	if _, err := d.Exec(`PRAGMA journal_mode=WAL; PRAGMA synchronous=NORMAL;`); err != nil {
		_ = d.Close()
		return nil, err
	}
	db := &SQLite{sql: d}
	if err := db.migrate(); err != nil {
		_ = d.Close()
		return nil, err
	}
	return db, nil
}

func (d *SQLite) Close() error { return d.sql.Close() }

func (d *SQLite) migrate() error {
	_, err := d.sql.Exec(`
	CREATE TABLE IF NOT EXISTS kv (
	  key TEXT PRIMARY KEY,
	  value BLOB NOT NULL,
	  updated_at INTEGER NOT NULL
	);
	CREATE TABLE IF NOT EXISTS audit_log (
	  id INTEGER PRIMARY KEY AUTOINCREMENT,
	  ts INTEGER NOT NULL,
	  stream TEXT NOT NULL,
	  line TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_audit_stream ON audit_log(stream, id);
	`)
	return err
}

func (d *SQLite) Get(ctx context.Context, key string) ([]byte, error) {
	var v []byte
	err := d.sql.QueryRowContext(ctx, `SELECT value FROM kv WHERE key=?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return v, err
}

func (d *SQLite) Put(ctx context.Context, key string, value []byte) error {
	_, err := d.sql.ExecContext(ctx, `INSERT INTO kv(key, value, updated_at) VALUES(?,?,?)
	ON CONFLICT(key) DO UPDATE SET value=excluded.value, updated_at=excluded.updated_at`,
		key, value, time.Now().UTC().UnixMilli())
	return err
}

func (d *SQLite) Delete(ctx context.Context, key string) error {
	_, err := d.sql.ExecContext(ctx, `DELETE FROM kv WHERE key=?`, key)
	return err
}

func (d *SQLite) Append(ctx context.Context, stream string, line []byte) error {
	_, err := d.sql.ExecContext(ctx, `INSERT INTO audit_log(ts, stream, line) VALUES(?,?,?)`,
		time.Now().UTC().UnixMilli(), stream, string(line))
	return err
}

func (d *SQLite) Lines(ctx context.Context, stream string) ([][]byte, error) {
	rows, err := d.sql.QueryContext(ctx, `SELECT line FROM audit_log WHERE stream=? ORDER BY id`, stream)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out [][]byte
	for rows.Next() {
		var l string
		if err := rows.Scan(&l); err != nil {
			return nil, err
		}
		out = append(out, []byte(l))
	}
	return out, rows.Err()
}

// CountSince returns how many lines were appended to stream at or after since.
func (d *SQLite) CountSince(ctx context.Context, stream string, since time.Time) (int, error) {
	var n int
	err := d.sql.QueryRowContext(ctx, `SELECT COUNT(*) FROM audit_log WHERE stream=? AND ts>=?`,
		stream, since.UTC().UnixMilli()).Scan(&n)
	return n, err
}
