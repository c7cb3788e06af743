// Package archive persists committed escrow notifications to SQLite so they
// survive the node's in-memory stream history.
package archive

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Record is one archived notification.
type Record struct {
	ID         string
	Sequence   uint64
	Type       string
	Seller     string
	Index      string
	Attributes map[string]string
	CreatedAt  time.Time
}

// Filter narrows List results. Zero fields match everything.
type Filter struct {
	Type   string
	Seller string
	Limit  int
}

// Store wraps the SQLite archive database.
type Store struct {
	db *sql.DB
}

func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("archive: path required")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	store := &Store{db: db}
	if err := store.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *Store) init() error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS events (
            id TEXT PRIMARY KEY,
            sequence INTEGER NOT NULL,
            type TEXT NOT NULL,
            seller TEXT,
            trade_index TEXT,
            payload TEXT NOT NULL,
            created_at TIMESTAMP NOT NULL
        );`,
		`CREATE UNIQUE INDEX IF NOT EXISTS events_sequence ON events(sequence);`,
		`CREATE INDEX IF NOT EXISTS events_type ON events(type);`,
		`CREATE INDEX IF NOT EXISTS events_seller ON events(seller, trade_index);`,
	}
	for _, stmt := range schema {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Insert stores rec, assigning an id when it has none. A record whose
// sequence is already archived is ignored.
func (s *Store) Insert(ctx context.Context, rec Record) (string, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	payload, err := json.Marshal(rec.Attributes)
	if err != nil {
		return "", err
	}
	const stmt = `INSERT INTO events(id, sequence, type, seller, trade_index, payload, created_at) VALUES (?, ?, ?, ?, ?, ?, ?) ON CONFLICT(sequence) DO NOTHING`
	if _, err := s.db.ExecContext(ctx, stmt, rec.ID, int64(rec.Sequence), rec.Type, rec.Seller, rec.Index, string(payload), rec.CreatedAt); err != nil {
		return "", fmt.Errorf("archive insert: %w", err)
	}
	return rec.ID, nil
}

// List returns records newest first.
func (s *Store) List(ctx context.Context, filter Filter) ([]Record, error) {
	query := `SELECT id, sequence, type, seller, trade_index, payload, created_at FROM events`
	var (
		clauses []string
		args    []interface{}
	)
	if filter.Type != "" {
		clauses = append(clauses, "type = ?")
		args = append(args, filter.Type)
	}
	if filter.Seller != "" {
		clauses = append(clauses, "seller = ?")
		args = append(args, filter.Seller)
	}
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY created_at DESC, sequence DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var (
			rec      Record
			sequence int64
			seller   sql.NullString
			index    sql.NullString
			payload  string
		)
		if err := rows.Scan(&rec.ID, &sequence, &rec.Type, &seller, &index, &payload, &rec.CreatedAt); err != nil {
			return nil, err
		}
		rec.Sequence = uint64(sequence)
		rec.Seller = seller.String
		rec.Index = index.String
		if err := json.Unmarshal([]byte(payload), &rec.Attributes); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Count returns the number of archived records.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM events`).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

// LastSequence returns the highest archived sequence, or zero when empty.
func (s *Store) LastSequence(ctx context.Context) (uint64, error) {
	var last sql.NullInt64
	if err := s.db.QueryRowContext(ctx, `SELECT MAX(sequence) FROM events`).Scan(&last); err != nil {
		return 0, err
	}
	if !last.Valid || last.Int64 < 0 {
		return 0, nil
	}
	return uint64(last.Int64), nil
}
