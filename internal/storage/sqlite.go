package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/hyperjump/reunite/internal/models"
)

// SQLiteStorage implements Store using SQLite. Fields are kept as a JSON object per record.
type SQLiteStorage struct {
	db *sql.DB
}

// NewSQLiteStorage opens or creates a SQLite database at dbPath and initializes the schema.
// Parent directories are created if they do not exist.
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	db, err := sql.Open(sqliteDriver, dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteStorage{db: db}, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS items (
		collection TEXT NOT NULL,
		id TEXT NOT NULL,
		fields TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		PRIMARY KEY (collection, id)
	);

	CREATE INDEX IF NOT EXISTS idx_items_collection_created ON items(collection, created_at);
	`
	_, err := db.Exec(schema)
	return err
}

// Get returns a record by collection and ID.
func (s *SQLiteStorage) Get(ctx context.Context, collection models.Collection, id string) (*models.Record, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, fields, created_at, updated_at FROM items WHERE collection = ? AND id = ?`,
		string(collection), id,
	)
	rec, err := scanRecord(row, collection)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s/%s: %w", collection, id, ErrNotFound)
	}
	return rec, err
}

// List returns all records in a collection ordered by creation time.
func (s *SQLiteStorage) List(ctx context.Context, collection models.Collection) ([]*models.Record, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, fields, created_at, updated_at FROM items
		 WHERE collection = ? ORDER BY created_at, rowid`,
		string(collection),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.Record
	for rows.Next() {
		rec, err := scanRecord(rows, collection)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Create inserts a new record. It fails if the ID is already taken in the collection.
func (s *SQLiteStorage) Create(ctx context.Context, collection models.Collection, id string, fields map[string]any) error {
	data, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("failed to marshal fields: %w", err)
	}
	now := time.Now().UnixMilli()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO items (collection, id, fields, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		string(collection), id, string(data), now, now,
	)
	if err != nil {
		return fmt.Errorf("failed to insert %s/%s: %w", collection, id, err)
	}
	return nil
}

// Merge updates the given top-level fields of an existing record inside a transaction.
func (s *SQLiteStorage) Merge(ctx context.Context, collection models.Collection, id string, fields map[string]any) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var raw string
	err = tx.QueryRowContext(ctx,
		`SELECT fields FROM items WHERE collection = ? AND id = ?`, string(collection), id,
	).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s/%s: %w", collection, id, ErrNotFound)
	}
	if err != nil {
		return err
	}

	current := map[string]any{}
	if err := json.Unmarshal([]byte(raw), &current); err != nil {
		return fmt.Errorf("failed to unmarshal fields: %w", err)
	}
	data, err := json.Marshal(models.MergeFields(current, fields))
	if err != nil {
		return fmt.Errorf("failed to marshal fields: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE items SET fields = ?, updated_at = ? WHERE collection = ? AND id = ?`,
		string(data), time.Now().UnixMilli(), string(collection), id,
	); err != nil {
		return err
	}
	return tx.Commit()
}

// Count returns the number of records in a collection.
func (s *SQLiteStorage) Count(ctx context.Context, collection models.Collection) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM items WHERE collection = ?`, string(collection)).Scan(&n)
	return n, err
}

// Close closes the database.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner, collection models.Collection) (*models.Record, error) {
	var (
		rec              models.Record
		raw              string
		created, updated int64
	)
	if err := row.Scan(&rec.ID, &raw, &created, &updated); err != nil {
		return nil, err
	}
	rec.Collection = collection
	rec.CreatedAt = time.UnixMilli(created)
	rec.UpdatedAt = time.UnixMilli(updated)
	if err := json.Unmarshal([]byte(raw), &rec.Fields); err != nil {
		return nil, fmt.Errorf("failed to unmarshal fields: %w", err)
	}
	return &rec, nil
}
