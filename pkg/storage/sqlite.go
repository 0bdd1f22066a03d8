package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/ritzau/category-sync/pkg/logging"
	"github.com/ritzau/category-sync/pkg/model"
)

const schema = `
CREATE TABLE IF NOT EXISTS streams (
	unit       TEXT NOT NULL,
	key        TEXT NOT NULL,
	data       BLOB NOT NULL,
	updated_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ', 'now')),
	PRIMARY KEY (unit, key)
);
`

// SQLiteStore implements Store on a SQLite database file
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// OpenSQLite opens (creating if needed) the cache database at path
func OpenSQLite(path string) (*SQLiteStore, error) {
	// Ensure directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	// WAL so concurrent readers don't block the writer
	dsn := "file:" + path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	logging.Debug("opened cache database", "path", path)
	return &SQLiteStore{db: db, path: path}, nil
}

func (s *SQLiteStore) ReadStream(ctx context.Context, unit model.UnitID, key string) ([]byte, bool, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT data FROM streams WHERE unit = ? AND key = ?`,
		unit.String(), key,
	).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read %s/%s: %w", unit, key, err)
	}
	return data, true, nil
}

func (s *SQLiteStore) WriteStream(ctx context.Context, unit model.UnitID, key string, data []byte) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO streams (unit, key, data) VALUES (?, ?, ?)
		ON CONFLICT (unit, key) DO UPDATE SET
			data = excluded.data,
			updated_at = strftime('%Y-%m-%dT%H:%M:%fZ', 'now')
	`, unit.String(), key, data)
	if err != nil {
		return fmt.Errorf("failed to write %s/%s: %w", unit, key, err)
	}
	return nil
}

// Units lists the units that have a stream stored under key, in key order
func (s *SQLiteStore) Units(ctx context.Context, key string) ([]model.UnitID, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT unit FROM streams WHERE key = ? ORDER BY unit`, key)
	if err != nil {
		return nil, fmt.Errorf("failed to list units: %w", err)
	}
	defer rows.Close()

	var units []model.UnitID
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("failed to scan unit: %w", err)
		}
		unit, err := model.ParseUnitID(raw)
		if err != nil {
			logging.Warn("skipping malformed unit key", "unit", raw, "error", err)
			continue
		}
		units = append(units, unit)
	}
	return units, rows.Err()
}

// Path returns the database file path
func (s *SQLiteStore) Path() string {
	return s.path
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
