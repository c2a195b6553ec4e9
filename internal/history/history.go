// Package history keeps a SQLite log of every transfer a session performs.
//
// The log is append-only and lives in a single database file. It is opened in
// WAL mode so the `history` command can read it while a run is writing.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// Kind classifies a history record.
type Kind string

const (
	KindUpload    Kind = "upload"
	KindCopy      Kind = "copy"
	KindKeepalive Kind = "keepalive"
	KindFailure   Kind = "failure"
)

// Record is one logged transfer.
type Record struct {
	ID     int64
	Time   time.Time
	Kind   Kind
	Path   string
	Detail string
}

// Store wraps the history database.
type Store struct {
	conn *sql.DB
	path string
}

// Open opens (creating if needed) the history database at path and ensures
// the schema exists. The caller must call Close.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create history directory: %w", err)
	}

	conn, err := sql.Open("sqlite3", fmt.Sprintf("file:%s", path))
	if err != nil {
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}
	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping history database: %w", err)
	}

	s := &Store{conn: conn, path: path}

	if _, err := s.conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := s.conn.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}
	if err := s.InitSchema(); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

// Path returns the database file path.
func (s *Store) Path() string { return s.path }

// Close checkpoints the WAL and closes the database.
func (s *Store) Close() error {
	if s.conn == nil {
		return nil
	}
	if _, err := s.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to checkpoint WAL: %v\n", err)
	}
	if err := s.conn.Close(); err != nil {
		return fmt.Errorf("failed to close history database: %w", err)
	}
	s.conn = nil
	return nil
}

// InitSchema creates the transfers table. It is idempotent.
func (s *Store) InitSchema() error {
	return s.InitSchemaContext(context.Background())
}

// InitSchemaContext creates the transfers table with context support.
func (s *Store) InitSchemaContext(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS transfers (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		at TEXT NOT NULL,
		kind TEXT NOT NULL,
		path TEXT NOT NULL DEFAULT '',
		detail TEXT NOT NULL DEFAULT ''
	);

	CREATE INDEX IF NOT EXISTS idx_transfers_at ON transfers(at);
	CREATE INDEX IF NOT EXISTS idx_transfers_kind ON transfers(kind);
	`
	if _, err := s.conn.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	return nil
}

// Append logs one record.
func (s *Store) Append(r Record) error {
	return s.AppendContext(context.Background(), r)
}

// AppendContext logs one record with context support.
func (s *Store) AppendContext(ctx context.Context, r Record) error {
	if r.Time.IsZero() {
		r.Time = time.Now()
	}
	_, err := s.conn.ExecContext(ctx,
		`INSERT INTO transfers (at, kind, path, detail) VALUES (?, ?, ?, ?)`,
		r.Time.UTC().Format(time.RFC3339Nano), string(r.Kind), r.Path, r.Detail,
	)
	if err != nil {
		return fmt.Errorf("failed to append %s record: %w", r.Kind, err)
	}
	return nil
}

// Filter narrows a Recent query.
type Filter struct {
	// Kind restricts results to one kind. Empty means all.
	Kind Kind
	// Limit caps the number of rows. Zero means 50.
	Limit int
}

// Recent returns the latest records, newest first.
func (s *Store) Recent(filter Filter) ([]Record, error) {
	return s.RecentContext(context.Background(), filter)
}

// RecentContext returns the latest records with context support.
func (s *Store) RecentContext(ctx context.Context, filter Filter) ([]Record, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}

	query := `SELECT id, at, kind, path, detail FROM transfers`
	args := []any{}
	if filter.Kind != "" {
		query += ` WHERE kind = ?`
		args = append(args, string(filter.Kind))
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var r Record
		var at, kind string
		if err := rows.Scan(&r.ID, &at, &kind, &r.Path, &r.Detail); err != nil {
			return nil, fmt.Errorf("failed to scan history row: %w", err)
		}
		r.Kind = Kind(kind)
		if t, err := time.Parse(time.RFC3339Nano, at); err == nil {
			r.Time = t
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Counts returns the number of records per kind.
func (s *Store) Counts() (map[Kind]int, error) {
	return s.CountsContext(context.Background())
}

// CountsContext returns the number of records per kind with context support.
func (s *Store) CountsContext(ctx context.Context) (map[Kind]int, error) {
	rows, err := s.conn.QueryContext(ctx, `SELECT kind, COUNT(*) FROM transfers GROUP BY kind`)
	if err != nil {
		return nil, fmt.Errorf("failed to count history: %w", err)
	}
	defer rows.Close()

	counts := make(map[Kind]int)
	for rows.Next() {
		var kind string
		var n int
		if err := rows.Scan(&kind, &n); err != nil {
			return nil, fmt.Errorf("failed to scan count: %w", err)
		}
		counts[Kind(kind)] = n
	}
	return counts, rows.Err()
}
