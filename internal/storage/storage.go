package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/lib/pq"

	"imgpipe/internal/models"
)

// Storage is the Postgres metadata table.
type Storage struct {
	pool  *pgxpool.Pool
	db    *sql.DB // For migrations
	table string  // quoted identifier
}

func NewStorage(ctx context.Context, dsn, tableName string) (*Storage, error) {
	const op = "storage.NewStorage"

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	db := stdlib.OpenDBFromPool(pool)
	if err := runMigrations(db); err != nil {
		db.Close()
		pool.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	storage := &Storage{pool: pool, db: db, table: pq.QuoteIdentifier(tableName)}

	if err := storage.ensureTable(ctx, tableName); err != nil {
		storage.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return storage, nil
}

func (s *Storage) Close() {
	s.db.Close()
	s.pool.Close()
}

// ensureTable creates a configured table that differs from the migrated one
// with the same shape.
func (s *Storage) ensureTable(ctx context.Context, tableName string) error {
	const op = "storage.ensureTable"

	if tableName == DefaultTable {
		return nil
	}
	_, err := s.pool.Exec(ctx, fmt.Sprintf(
		`CREATE TABLE IF NOT EXISTS %s (LIKE %s INCLUDING ALL)`,
		s.table, pq.QuoteIdentifier(DefaultTable)))
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (s *Storage) PutRecord(ctx context.Context, rec *models.MetadataRecord) error {
	const op = "storage.PutRecord"

	item, err := encodeRecord(rec)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	_, err = s.pool.Exec(ctx, fmt.Sprintf(
		`INSERT INTO %s (image_id, item, updated_at) VALUES ($1, $2, now())
		 ON CONFLICT (image_id) DO UPDATE SET item = EXCLUDED.item, updated_at = EXCLUDED.updated_at`,
		s.table), rec.ImageID, item)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (s *Storage) GetItem(ctx context.Context, id string) (models.Item, error) {
	const op = "storage.GetItem"

	var raw string
	err := s.pool.QueryRow(ctx, fmt.Sprintf(
		`SELECT item::text FROM %s WHERE image_id = $1`, s.table), id).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
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
