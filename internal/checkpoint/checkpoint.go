// Package checkpoint provides the append-only SQLite log of terminal task
// outcomes. The log is the durable source of truth for resuming a run.
package checkpoint

import (
	"database/sql"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/ShayCichocki/hivemind/pkg/models"
)

// Record is one terminal task outcome. Exactly one record is appended per
// terminal task; records are never rewritten in place.
type Record struct {
	// TaskID identifies the task.
	TaskID string
	// Status is the terminal status the task reached.
	Status models.TaskStatus
	// Output is the provider output, empty on failure.
	Output string
	// ErrorKind is the terminal failure class, empty on success.
	ErrorKind models.ErrorKind
	// TokensUsed is the usage attributed to this task.
	TokensUsed int64
	// Latency is the wall-clock time from admission to outcome.
	Latency time.Duration
	// Timestamp is when the record was appended.
	Timestamp time.Time
}

// Log is the checkpoint contract: append-only, replay-idempotent, one
// record per terminal task.
type Log interface {
	io.Closer
	Append(rec *Record) error
	Replay() (map[string]*Record, error)
}

// Store is the SQLite-backed checkpoint log.
type Store struct {
	conn *sql.DB
	path string
	// mu serializes appends so concurrent workers never interleave writes.
	mu sync.Mutex
}

// Verify Store implements Log at compile time.
var _ Log = (*Store)(nil)

// Open opens the checkpoint database at the given path, creating parent
// directories and the schema as needed. WAL mode is enabled so replay can
// read concurrently with appends.
func Open(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create checkpoint directory: %w", err)
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open checkpoint database: %w", err)
	}

	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	s := &Store{conn: conn, path: path}
	if err := s.migrate(); err != nil {
		conn.Close()
		return nil, err
	}
	return s, nil
}

// migrate creates the results table.
func (s *Store) migrate() error {
	_, err := s.conn.Exec(`
		CREATE TABLE IF NOT EXISTS results (
			seq         INTEGER PRIMARY KEY AUTOINCREMENT,
			task_id     TEXT NOT NULL,
			status      TEXT NOT NULL,
			output      TEXT NOT NULL DEFAULT '',
			error_kind  TEXT NOT NULL DEFAULT '',
			tokens_used INTEGER NOT NULL DEFAULT 0,
			latency_ns  INTEGER NOT NULL DEFAULT 0,
			timestamp   DATETIME NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("create results table: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.Close()
}

// Path returns the path to the database file.
func (s *Store) Path() string {
	return s.path
}

// Append records one terminal task outcome. It never updates or deletes
// prior entries.
func (s *Store) Append(rec *Record) error {
	if !rec.Status.Terminal() {
		return fmt.Errorf("refusing to checkpoint non-terminal status %q for task %s", rec.Status, rec.TaskID)
	}

	ts := rec.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.conn.Exec(`
		INSERT INTO results (task_id, status, output, error_kind, tokens_used, latency_ns, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.TaskID, string(rec.Status), rec.Output, string(rec.ErrorKind),
		rec.TokensUsed, rec.Latency.Nanoseconds(), ts,
	)
	if err != nil {
		return fmt.Errorf("append checkpoint record for task %s: %w", rec.TaskID, err)
	}
	return nil
}

// Replay reconstructs run state from the log. The first record per task
// wins, so replaying the same log any number of times yields the same
// state.
func (s *Store) Replay() (map[string]*Record, error) {
	rows, err := s.conn.Query(`
		SELECT task_id, status, output, error_kind, tokens_used, latency_ns, timestamp
		FROM results ORDER BY seq ASC`)
	if err != nil {
		return nil, fmt.Errorf("replay checkpoint log: %w", err)
	}
	defer rows.Close()

	state := make(map[string]*Record)
	for rows.Next() {
		var rec Record
		var status, kind string
		var latencyNS int64
		if err := rows.Scan(&rec.TaskID, &status, &rec.Output, &kind,
			&rec.TokensUsed, &latencyNS, &rec.Timestamp); err != nil {
			return nil, fmt.Errorf("scan checkpoint record: %w", err)
		}
		rec.Status = models.TaskStatus(status)
		rec.ErrorKind = models.ErrorKind(kind)
		rec.Latency = time.Duration(latencyNS)

		if _, seen := state[rec.TaskID]; !seen {
			state[rec.TaskID] = &rec
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate checkpoint log: %w", err)
	}
	return state, nil
}

// Result converts a record to the result model.
func (r *Record) Result() *models.Result {
	return &models.Result{
		TaskID:     r.TaskID,
		Output:     r.Output,
		ErrorKind:  r.ErrorKind,
		Latency:    r.Latency,
		TokensUsed: r.TokensUsed,
		Timestamp:  r.Timestamp,
	}
}
