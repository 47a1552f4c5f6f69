// Package report stores per-method results of a run in SQLite.
package report

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/eaburns/ilgraph/il"
	_ "modernc.org/sqlite"
)

// A Result is the outcome of processing one method.
type Result struct {
	Path  string
	Token il.Token
	Name  string
	// DeadBlocks, NopBlocks, and Locals are the numbers
	// of blocks and local variable slots removed.
	DeadBlocks int
	NopBlocks  int
	Locals     int
	// Err is the error message if the method failed, or "".
	Err string
}

// Failed returns whether the method failed.
func (r Result) Failed() bool { return r.Err != "" }

// Store persists results.
type Store struct {
	db *sql.DB
}

// Open creates or opens the result database at path.
// The path ":memory:" opens a private in-memory database.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// An in-memory database exists per connection.
	db.SetMaxOpenConns(1)
	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

func (s *Store) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS results (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		path TEXT NOT NULL,
		token INTEGER NOT NULL,
		name TEXT NOT NULL,
		dead_blocks INTEGER NOT NULL,
		nop_blocks INTEGER NOT NULL,
		locals INTEGER NOT NULL,
		err TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_results_err ON results(err);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// Record stores a result.
func (s *Store) Record(ctx context.Context, r Result) error {
	const query = `
	INSERT INTO results (path, token, name, dead_blocks, nop_blocks, locals, err, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, query,
		r.Path, int64(r.Token), r.Name, r.DeadBlocks, r.NopBlocks, r.Locals, r.Err, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to record %s: %w", r.Name, err)
	}
	return nil
}

// Results returns all results in the order they were recorded.
func (s *Store) Results(ctx context.Context) ([]Result, error) {
	return s.query(ctx, "")
}

// Failures returns the results of failed methods
// in the order they were recorded.
func (s *Store) Failures(ctx context.Context) ([]Result, error) {
	return s.query(ctx, `WHERE err != ''`)
}

func (s *Store) query(ctx context.Context, where string) ([]Result, error) {
	rows, err := s.db.QueryContext(ctx, `
	SELECT path, token, name, dead_blocks, nop_blocks, locals, err
	FROM results `+where+` ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query results: %w", err)
	}
	defer rows.Close()
	var rs []Result
	for rows.Next() {
		var r Result
		var tok int64
		if err := rows.Scan(&r.Path, &tok, &r.Name, &r.DeadBlocks, &r.NopBlocks, &r.Locals, &r.Err); err != nil {
			return nil, fmt.Errorf("failed to scan result: %w", err)
		}
		r.Token = il.Token(tok)
		rs = append(rs, r)
	}
	return rs, rows.Err()
}

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }
