package telemetry

import (
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/chazu/zonegc/gc"
)

// ErrClosed is returned by a Sink after Close.
var ErrClosed = errors.New("telemetry sink closed")

// Sink records cycle stats and heap snapshots in a sqlite database. Each
// row keeps the CBOR record next to a few queryable columns.
type Sink struct {
	db     *sql.DB
	dbPath string
	mu     sync.Mutex
}

var schema = []string{`
CREATE TABLE IF NOT EXISTS cycles (
	runtime_id  TEXT    NOT NULL,
	number      INTEGER NOT NULL,
	reason      TEXT    NOT NULL,
	started_at  INTEGER NOT NULL,
	duration_ns INTEGER NOT NULL,
	freed       INTEGER NOT NULL,
	heap_after  INTEGER NOT NULL,
	record      BLOB    NOT NULL,
	PRIMARY KEY (runtime_id, number)
)`, `
CREATE TABLE IF NOT EXISTS snapshots (
	runtime_id TEXT    NOT NULL,
	taken_at   INTEGER NOT NULL,
	record     BLOB    NOT NULL
)`}

// OpenSink opens (creating if needed) the database at dbPath.
func OpenSink(dbPath string) (*Sink, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// Set busy timeout for concurrent access
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}
	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("creating tables: %w", err)
		}
	}
	log.Infof("telemetry sink opened at %s", dbPath)
	return &Sink{db: db, dbPath: dbPath}, nil
}

// Path returns the database path the sink was opened with.
func (s *Sink) Path() string { return s.dbPath }

// Close closes the database connection. Closing twice is a no-op.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// RecordCycle stores the stats of one cycle of runtime id. Recording the
// same cycle twice replaces the earlier row.
func (s *Sink) RecordCycle(id uuid.UUID, stats gc.CycleStats) error {
	r := NewCycleRecord(id, stats)
	data, err := MarshalCycle(&r)
	if err != nil {
		return fmt.Errorf("encoding cycle %d: %w", stats.Number, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return ErrClosed
	}
	_, err = s.db.Exec(
		`INSERT OR REPLACE INTO cycles
			(runtime_id, number, reason, started_at, duration_ns, freed, heap_after, record)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		id.String(), int64(stats.Number), stats.Reason, stats.StartedAt.UnixNano(),
		int64(stats.Duration), stats.Freed, int64(stats.HeapBytesAfter), data,
	)
	if err != nil {
		return fmt.Errorf("saving cycle %d: %w", stats.Number, err)
	}
	return nil
}

// Cycles returns the recorded cycles of runtime id in cycle order.
func (s *Sink) Cycles(id uuid.UUID) ([]CycleRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil, ErrClosed
	}
	rows, err := s.db.Query(
		"SELECT record FROM cycles WHERE runtime_id = ? ORDER BY number", id.String())
	if err != nil {
		return nil, fmt.Errorf("querying cycles: %w", err)
	}
	defer rows.Close()

	var out []CycleRecord
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("reading cycle row: %w", err)
		}
		r, err := UnmarshalCycle(data)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

// RecordSnapshot stores a heap snapshot.
func (s *Sink) RecordSnapshot(snap gc.HeapSnapshot) error {
	r := NewSnapshotRecord(snap)
	data, err := MarshalSnapshot(&r)
	if err != nil {
		return fmt.Errorf("encoding snapshot: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return ErrClosed
	}
	_, err = s.db.Exec(
		"INSERT INTO snapshots (runtime_id, taken_at, record) VALUES (?, ?, ?)",
		snap.RuntimeID.String(), snap.TakenAt.UnixNano(), data,
	)
	if err != nil {
		return fmt.Errorf("saving snapshot: %w", err)
	}
	return nil
}

// LatestSnapshot returns the most recent snapshot of runtime id, or
// sql.ErrNoRows if there is none.
func (s *Sink) LatestSnapshot(id uuid.UUID) (*SnapshotRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil, ErrClosed
	}
	var data []byte
	err := s.db.QueryRow(
		"SELECT record FROM snapshots WHERE runtime_id = ? ORDER BY taken_at DESC LIMIT 1",
		id.String(),
	).Scan(&data)
	if err != nil {
		return nil, fmt.Errorf("querying snapshot: %w", err)
	}
	return UnmarshalSnapshot(data)
}

// Attach records every cycle rt finishes. Errors are logged, not returned:
// the hook has no error return. Attach replaces any OnCycleEnd hook
// already installed on rt.
func (s *Sink) Attach(rt *gc.Runtime) {
	id := rt.ID()
	rt.OnCycleEnd(func(stats gc.CycleStats) {
		start := time.Now()
		if err := s.RecordCycle(id, stats); err != nil {
			log.Warningf("recording cycle %d: %s", stats.Number, err)
			return
		}
		log.Debugf("recorded cycle %d in %s", stats.Number, time.Since(start))
	})
}
