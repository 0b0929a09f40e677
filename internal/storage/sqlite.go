package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/starford/memtree/internal/checksum"
)

const snapshotSchemaSQL = `
CREATE TABLE IF NOT EXISTS snapshots (
	name       TEXT PRIMARY KEY,
	content    BLOB NOT NULL,
	checksum   TEXT NOT NULL DEFAULT '',
	updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`

// SQLite implements Provider with one row per name in a SQLite database.
type SQLite struct {
	conn *sql.DB
}

// OpenSQLite opens (or creates) the database at dsn and applies the schema.
func OpenSQLite(dsn string) (*SQLite, error) {
	conn, err := sql.Open("sqlite3", dsn+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("storage: open db: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("storage: ping: %w", err)
	}
	if _, err := conn.Exec(snapshotSchemaSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("storage: apply schema: %w", err)
	}
	return &SQLite{conn: conn}, nil
}

// Close closes the underlying database connection.
func (s *SQLite) Close() error {
	return s.conn.Close()
}

// Read returns the stored snapshot for name.
func (s *SQLite) Read(name string) ([]byte, error) {
	var data []byte
	err := s.conn.QueryRow(`SELECT content FROM snapshots WHERE name = ?`, name).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("storage: read %s: %w", name, fs.ErrNotExist)
	}
	if err != nil {
		return nil, fmt.Errorf("storage: read %s: %w", name, err)
	}
	return data, nil
}

// Write upserts the snapshot for name in a single statement. A snapshot whose
// checksum matches the stored one is left alone, updated_at included.
func (s *SQLite) Write(name string, content []byte) error {
	sum := checksum.Sum(content)
	if stored, err := s.Checksum(name); err == nil && stored == sum {
		return nil
	}
	_, err := s.conn.Exec(`
		INSERT INTO snapshots (name, content, checksum, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			content    = excluded.content,
			checksum   = excluded.checksum,
			updated_at = excluded.updated_at
	`, name, content, sum, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("storage: write %s: %w", name, err)
	}
	return nil
}

// Move renames a snapshot row, replacing any row already named newName.
func (s *SQLite) Move(oldName, newName string) error {
	tx, err := s.conn.Begin()
	if err != nil {
		return fmt.Errorf("storage: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // best-effort on failure path

	if _, err := tx.Exec(`DELETE FROM snapshots WHERE name = ?`, newName); err != nil {
		return fmt.Errorf("storage: move: %w", err)
	}
	res, err := tx.Exec(`UPDATE snapshots SET name = ? WHERE name = ?`, newName, oldName)
	if err != nil {
		return fmt.Errorf("storage: move: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("storage: move %s: %w", oldName, fs.ErrNotExist)
	}
	return tx.Commit()
}

// Checksum returns the stored digest for name, or "" when absent.
func (s *SQLite) Checksum(name string) (string, error) {
	var cs string
	err := s.conn.QueryRow(`SELECT checksum FROM snapshots WHERE name = ?`, name).Scan(&cs)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("storage: checksum %s: %w", name, err)
	}
	return cs, nil
}
