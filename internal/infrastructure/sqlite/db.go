// Package sqlite persists discovered class indexes (snapshots) in a local
// SQLite database so a build step can seed discovery without the icon
// library installed.
package sqlite

import (
	"database/sql"
	"fmt"
	"io"
	"os"
	"path/filepath"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/zjrosen/archnodes/internal/log"
)

const schema = `
CREATE TABLE IF NOT EXISTS snapshots (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	guid TEXT NOT NULL UNIQUE,
	library TEXT NOT NULL,
	version TEXT NOT NULL,
	created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS snapshot_categories (
	snapshot_id INTEGER NOT NULL,
	provider TEXT NOT NULL,
	name TEXT NOT NULL,
	module TEXT NOT NULL,
	PRIMARY KEY (snapshot_id, provider, name),
	FOREIGN KEY (snapshot_id) REFERENCES snapshots(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS snapshot_classes (
	snapshot_id INTEGER NOT NULL,
	provider TEXT NOT NULL,
	category TEXT NOT NULL,
	name TEXT NOT NULL,
	alias_of TEXT,
	PRIMARY KEY (snapshot_id, provider, category, name),
	FOREIGN KEY (snapshot_id, provider, category)
		REFERENCES snapshot_categories(snapshot_id, provider, name) ON DELETE CASCADE
);
`

// DB wraps the SQLite connection holding discovery snapshots.
type DB struct {
	conn *sql.DB
}

// NewDB opens (or creates) the database at path. The parent directory is
// created with 0700 permissions, and an existing file is copied to
// path+".bak" before the schema is applied.
func NewDB(path string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	if _, err := os.Stat(path); err == nil {
		if err := backup(path); err != nil {
			return nil, fmt.Errorf("backup database: %w", err)
		}
	}

	dsn := "file:" + path +
		"?_pragma=journal_mode(wal)&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	conn, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("connect database: %w", err)
	}
	if _, err := conn.Exec(schema); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	log.Debug(log.CatDB, "Opened snapshot database", "path", path)
	return &DB{conn: conn}, nil
}

// Close closes the underlying connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Connection returns the underlying *sql.DB.
func (db *DB) Connection() *sql.DB {
	return db.conn
}

// Snapshots returns the snapshot store backed by this database.
func (db *DB) Snapshots() *SnapshotStore {
	return newSnapshotStore(db.conn)
}

func backup(path string) error {
	src, err := os.Open(path)
	if err != nil {
		return err
	}
	defer func() { _ = src.Close() }()

	dst, err := os.OpenFile(path+".bak", os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if _, err := io.Copy(dst, src); err != nil {
		_ = dst.Close()
		return err
	}
	return dst.Close()
}
