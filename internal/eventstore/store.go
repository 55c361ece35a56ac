// Package eventstore provides the windowed event storage backing path
// queries: durable ingest through a segmented journal, SQLite-backed
// storage, and ordered per-person window scans.
package eventstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/golang/snappy"
	_ "github.com/mattn/go-sqlite3"

	trailerrors "github.com/trailmap/trailmap/internal/errors"
	"github.com/trailmap/trailmap/pkg/types"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS events (
	event_id    BLOB PRIMARY KEY,
	team_id     INTEGER NOT NULL,
	distinct_id TEXT NOT NULL,
	name        TEXT NOT NULL,
	ts          INTEGER NOT NULL,
	properties  BLOB
);

CREATE INDEX IF NOT EXISTS idx_events_team_ts ON events(team_id, ts);
CREATE INDEX IF NOT EXISTS idx_events_team_distinct ON events(team_id, distinct_id);

CREATE TABLE IF NOT EXISTS ingest_state (
	id       INTEGER PRIMARY KEY CHECK (id = 1),
	last_lsn INTEGER NOT NULL
);

INSERT OR IGNORE INTO ingest_state (id, last_lsn) VALUES (1, 0);
`

// WindowScanner is the event-window read interface the path engine
// consumes. The scan returns each person's events ordered by
// (timestamp, event id); the ULID id preserves insertion order for
// events with equal timestamps.
type WindowScanner interface {
	ScanWindow(ctx context.Context, teamID int64, from, to time.Time, allowedEvents []string) (map[string][]types.Event, error)
}

// SQLiteEventStore stores events in a single SQLite database with
// separate write and read connections (single writer, concurrent readers).
type SQLiteEventStore struct {
	db     *sql.DB // Write connection (single writer)
	readDB *sql.DB // Read connection pool (concurrent readers)
}

// NewSQLiteEventStore opens (creating if needed) the events database.
func NewSQLiteEventStore(path string) (*SQLiteEventStore, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open events db: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize events schema: %w", err)
	}

	readDB, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&mode=ro")
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to open read connection: %w", err)
	}

	return &SQLiteEventStore{db: db, readDB: readDB}, nil
}

// ApplyEntry inserts a journal entry's events and advances the applied
// LSN in one transaction. Replaying an already-applied entry is a no-op:
// inserts are keyed by event id and the LSN only moves forward.
func (s *SQLiteEventStore) ApplyEntry(ctx context.Context, lsn uint64, events []types.Event) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR IGNORE INTO events (event_id, team_id, distinct_id, name, ts, properties)
		VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, ev := range events {
		props, err := encodeProperties(ev.Properties)
		if err != nil {
			return fmt.Errorf("failed to encode properties: %w", err)
		}
		if _, err := stmt.ExecContext(ctx, ev.EventID, ev.TeamID, ev.DistinctID, ev.Name, ev.Timestamp, props); err != nil {
			return fmt.Errorf("failed to insert event: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE ingest_state SET last_lsn = ? WHERE id = 1 AND last_lsn < ?`, lsn, lsn); err != nil {
		return fmt.Errorf("failed to advance lsn: %w", err)
	}

	return tx.Commit()
}

// LastAppliedLSN returns the LSN of the last journal entry applied to the
// database. Recovery replays journal entries above this point.
func (s *SQLiteEventStore) LastAppliedLSN(ctx context.Context) (uint64, error) {
	var lsn uint64
	err := s.db.QueryRowContext(ctx, `SELECT last_lsn FROM ingest_state WHERE id = 1`).Scan(&lsn)
	if err != nil {
		return 0, fmt.Errorf("failed to read last applied lsn: %w", err)
	}
	return lsn, nil
}

// ScanWindow returns, per distinct id, the team's events inside
// [from, to] that match the allow-list (all events when the list is
// empty), ordered by (timestamp, event id).
func (s *SQLiteEventStore) ScanWindow(ctx context.Context, teamID int64, from, to time.Time, allowedEvents []string) (map[string][]types.Event, error) {
	query := `
		SELECT event_id, distinct_id, name, ts, properties
		FROM events
		WHERE team_id = ? AND ts >= ? AND ts <= ?`
	args := []interface{}{teamID, from.UnixNano(), to.UnixNano()}

	if len(allowedEvents) > 0 {
		query += ` AND name IN (?` + repeatPlaceholder(len(allowedEvents)-1) + `)`
		for _, name := range allowedEvents {
			args = append(args, name)
		}
	}
	query += ` ORDER BY distinct_id, ts, event_id`

	rows, err := s.readDB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, trailerrors.NewScanError(trailerrors.CodeScanFailed, "window scan failed", err)
	}
	defer rows.Close()

	streams := make(map[string][]types.Event)
	for rows.Next() {
		var ev types.Event
		var props []byte
		if err := rows.Scan(&ev.EventID, &ev.DistinctID, &ev.Name, &ev.Timestamp, &props); err != nil {
			return nil, trailerrors.NewScanError(trailerrors.CodeScanFailed, "window scan row failed", err)
		}
		ev.TeamID = teamID
		if ev.Properties, err = decodeProperties(props); err != nil {
			return nil, trailerrors.NewScanError(trailerrors.CodeScanFailed, "corrupt event properties", err)
		}
		streams[ev.DistinctID] = append(streams[ev.DistinctID], ev)
	}
	if err := rows.Err(); err != nil {
		return nil, trailerrors.NewScanError(trailerrors.CodeScanFailed, "window scan failed", err)
	}

	return streams, nil
}

// Close closes both database connections.
func (s *SQLiteEventStore) Close() error {
	if err := s.readDB.Close(); err != nil {
		s.db.Close()
		return err
	}
	return s.db.Close()
}

// encodeProperties serializes and snappy-compresses an event's properties.
func encodeProperties(props map[string]interface{}) ([]byte, error) {
	if len(props) == 0 {
		return nil, nil
	}
	raw, err := json.Marshal(props)
	if err != nil {
		return nil, err
	}
	return snappy.Encode(nil, raw), nil
}

// decodeProperties reverses encodeProperties.
func decodeProperties(data []byte) (map[string]interface{}, error) {
	if len(data) == 0 {
		return nil, nil
	}
	raw, err := snappy.Decode(nil, data)
	if err != nil {
		return nil, err
	}
	var props map[string]interface{}
	if err := json.Unmarshal(raw, &props); err != nil {
		return nil, err
	}
	return props, nil
}

// repeatPlaceholder returns n copies of ", ?" for IN clauses.
func repeatPlaceholder(n int) string {
	out := ""
	for i := 0; i < n; i++ {
		out += ", ?"
	}
	return out
}
