package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hyperjump/reunite/internal/models"
)

// PostgresStorage implements Store with one jsonb row per record.
// Merge uses the jsonb concatenation operator, so top-level keys are replaced atomically.
type PostgresStorage struct {
	pool *pgxpool.Pool
}

// NewPostgresStorage connects to dsn and ensures the items table exists.
func NewPostgresStorage(ctx context.Context, dsn string) (*PostgresStorage, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}
	const ddl = `
CREATE TABLE IF NOT EXISTS items (
  collection text NOT NULL,
  id text NOT NULL,
  fields jsonb NOT NULL,
  created_at timestamptz NOT NULL DEFAULT now(),
  updated_at timestamptz NOT NULL DEFAULT now(),
  PRIMARY KEY (collection, id)
);
CREATE INDEX IF NOT EXISTS idx_items_collection_created ON items (collection, created_at);
`
	if _, err := pool.Exec(ctx, ddl); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return &PostgresStorage{pool: pool}, nil
}

func (s *PostgresStorage) Get(ctx context.Context, collection models.Collection, id string) (*models.Record, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, fields, created_at, updated_at FROM items WHERE collection=$1 AND id=$2`,
		string(collection), id)
	rec, err := scanPGRecord(row, collection)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%s/%s: %w", collection, id, ErrNotFound)
	}
	return rec, err
}

func (s *PostgresStorage) List(ctx context.Context, collection models.Collection) ([]*models.Record, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, fields, created_at, updated_at FROM items WHERE collection=$1 ORDER BY created_at, id`,
		string(collection))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.Record
	for rows.Next() {
		rec, err := scanPGRecord(rows, collection)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *PostgresStorage) Create(ctx context.Context, collection models.Collection, id string, fields map[string]any) error {
	data, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("failed to marshal fields: %w", err)
	}
	if _, err := s.pool.Exec(ctx,
		`INSERT INTO items (collection, id, fields) VALUES ($1, $2, $3::jsonb)`,
		string(collection), id, string(data)); err != nil {
		return fmt.Errorf("failed to insert %s/%s: %w", collection, id, err)
	}
	return nil
}

func (s *PostgresStorage) Merge(ctx context.Context, collection models.Collection, id string, fields map[string]any) error {
	data, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("failed to marshal fields: %w", err)
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE items SET fields = fields || $3::jsonb, updated_at = now() WHERE collection=$1 AND id=$2`,
		string(collection), id, string(data))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s/%s: %w", collection, id, ErrNotFound)
	}
	return nil
}

func (s *PostgresStorage) Count(ctx context.Context, collection models.Collection) (int64, error) {
	var n int64
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM items WHERE collection=$1`, string(collection)).Scan(&n)
	return n, err
}

func (s *PostgresStorage) Close() error {
	s.pool.Close()
	return nil
}

func scanPGRecord(row pgx.Row, collection models.Collection) (*models.Record, error) {
	var (
		rec models.Record
		raw []byte
	)
	if err := row.Scan(&rec.ID, &raw, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
		return nil, err
	}
	rec.Collection = collection
	if err := json.Unmarshal(raw, &rec.Fields); err != nil {
		return nil, fmt.Errorf("failed to unmarshal fields: %w", err)
	}
	return &rec, nil
}
