package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore keeps one row per delivered ID. Saves only ever insert.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens or creates the database at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if path == "" {
		path = "paperwatch.db"
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("store: failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("store: opening database: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: creating schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) createSchema() error {
	_, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS seen_ids (
		id TEXT PRIMARY KEY,
		added_at TIMESTAMP NOT NULL
	)`)
	return err
}

func (s *SQLiteStore) Load(ctx context.Context) (Set, error) {
	ids := NewSet()
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM seen_ids`)
	if err != nil {
		return ids, fmt.Errorf("store: querying ids: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return NewSet(), fmt.Errorf("%w: scanning id: %v", ErrCorrupt, err)
		}
		ids.Add(id)
	}
	if err := rows.Err(); err != nil {
		return NewSet(), fmt.Errorf("store: reading ids: %w", err)
	}
	return ids, nil
}

// Save inserts every ID not yet present, in one transaction.
func (s *SQLiteStore) Save(ctx context.Context, ids Set) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `INSERT OR IGNORE INTO seen_ids (id, added_at) VALUES (?, ?)`)
	if err != nil {
		return fmt.Errorf("store: preparing insert: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for _, id := range ids.Sorted() {
		if _, err := stmt.ExecContext(ctx, id, now); err != nil {
			return fmt.Errorf("store: inserting %s: %w", id, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
