// Package recorder persists update request outcomes to SQLite for offline
// analysis without slowing the event loop.
package recorder

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// Outcome is one recorded update request.
type Outcome struct {
	DeviceID    string
	Payload     string
	SimulatedAt time.Time
	Status      string // "requested", "responded" or "errored"
	Error       string
}

// Outcome statuses.
const (
	StatusRequested = "requested"
	StatusResponded = "responded"
	StatusErrored   = "errored"
)

// Recorder appends update outcomes to a SQLite database.
type Recorder struct {
	db *sql.DB
	mu sync.Mutex
}

// New opens (or creates) the database at path and ensures the schema exists.
func New(path string) (*Recorder, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("recorder: ensure dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("recorder: open: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if err := initSchema(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Recorder{db: db}, nil
}

func initSchema(db *sql.DB) error {
	const schema = `
CREATE TABLE IF NOT EXISTS update_outcomes (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    device_id TEXT,
    payload TEXT,
    simulated_at INTEGER,
    recorded_at INTEGER,
    status TEXT,
    error TEXT
);`
	_, err := db.Exec(schema)
	if err != nil {
		return fmt.Errorf("recorder: init schema: %w", err)
	}
	return nil
}

// Record appends one outcome.
func (r *Recorder) Record(o Outcome) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, err := r.db.Exec(
		`INSERT INTO update_outcomes (device_id, payload, simulated_at, recorded_at, status, error)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		o.DeviceID, o.Payload, o.SimulatedAt.UTC().Unix(), time.Now().UTC().Unix(), o.Status, o.Error)
	if err != nil {
		return fmt.Errorf("recorder: insert: %w", err)
	}
	return nil
}

// Count returns how many outcomes with the given status are stored. An empty
// status counts everything.
func (r *Recorder) Count(status string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var count int
	var err error
	if status == "" {
		err = r.db.QueryRow(`SELECT COUNT(*) FROM update_outcomes`).Scan(&count)
	} else {
		err = r.db.QueryRow(`SELECT COUNT(*) FROM update_outcomes WHERE status = ?`, status).Scan(&count)
	}
	if err != nil {
		return 0, fmt.Errorf("recorder: count: %w", err)
	}
	return count, nil
}

// Close flushes and closes the database.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.db.Close()
}
