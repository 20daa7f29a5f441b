package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/lib/pq"
	_ "modernc.org/sqlite"

	"imgpipe/internal/models"
)

// SQLite is a single-file metadata table for local runs. Pure Go, no cgo.
type SQLite struct {
	db    *sql.DB
	table string
}

func OpenSQLite(ctx context.Context, dbPath, tableName string) (*SQLite, error) {
	const op = "storage.OpenSQLite"

	if err := os.MkdirAll(filepath.Dir(dbPath), 0o700); err != nil {
		return nil, fmt.Errorf("%s: create db directory: %w", op, err)
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("%s: set WAL mode: %w", op, err)
	}

	s := &SQLite{db: db, table: pq.QuoteIdentifier(tableName)}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return s, nil
}

func (s *SQLite) Close() {
	s.db.Close()
}

func (s *SQLite) migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			image_id   TEXT PRIMARY KEY,
			item       TEXT NOT NULL,
			updated_at TEXT NOT NULL DEFAULT (datetime('now'))
		)`, s.table))
	return err
}

func (s *SQLite) PutRecord(ctx context.Context, rec *models.MetadataRecord) error {
	const op = "storage.SQLite.PutRecord"

	item, err := encodeRecord(rec)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	_, err = s.db.ExecContext(ctx, fmt.Sprintf(
		`INSERT INTO %s (image_id, item, updated_at) VALUES (?, ?, datetime('now'))
		 ON CONFLICT(image_id) DO UPDATE SET item = excluded.item, updated_at = excluded.updated_at`,
		s.table), rec.ImageID, item)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (s *SQLite) GetItem(ctx context.Context, id string) (models.Item, error) {
	const op = "storage.SQLite.GetItem"

	var raw string
	err := s.db.QueryRowContext(ctx, fmt.Sprintf(
		`SELECT item FROM %s WHERE image_id = ?`, s.table), id).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %s: %w", op, id, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	item, err := decodeItem([]byte(raw))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return item, nil
}
