package identity

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	trailerrors "github.com/trailmap/trailmap/internal/errors"
	"github.com/trailmap/trailmap/pkg/types"
)

const identitySchemaSQL = `
CREATE TABLE IF NOT EXISTS persons (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	uuid       TEXT NOT NULL UNIQUE,
	team_id    INTEGER NOT NULL,
	deleted    INTEGER NOT NULL DEFAULT 0,
	created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS person_distinct_ids (
	team_id     INTEGER NOT NULL,
	distinct_id TEXT NOT NULL,
	person_id   INTEGER NOT NULL,
	PRIMARY KEY (team_id, distinct_id)
);

CREATE INDEX IF NOT EXISTS idx_distinct_person ON person_distinct_ids(person_id);
`

// Store is the person-store interface the path engine consumes.
type Store interface {
	// Resolve maps a distinct id to its person id.
	Resolve(ctx context.Context, teamID int64, distinctID string) (int64, error)

	// Lookup fetches a person by id, reporting deleted and missing
	// persons through the resolution status.
	Lookup(ctx context.Context, personID int64) (Resolution, error)
}

// SQLiteIdentityStore implements the person store on SQLite.
type SQLiteIdentityStore struct {
	db     *sql.DB
	readDB *sql.DB

	hookMu   sync.RWMutex
	onDelete []func(personID int64)
}

// NewSQLiteIdentityStore opens (creating if needed) the persons database.
func NewSQLiteIdentityStore(path string) (*SQLiteIdentityStore, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open persons db: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(identitySchemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize persons schema: %w", err)
	}

	readDB, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&mode=ro")
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to open read connection: %w", err)
	}

	return &SQLiteIdentityStore{db: db, readDB: readDB}, nil
}

// OnDelete registers a hook fired after a person is soft-deleted. The
// result cache registers here so deletions invalidate stale aggregations.
func (s *SQLiteIdentityStore) OnDelete(hook func(personID int64)) {
	s.hookMu.Lock()
	defer s.hookMu.Unlock()
	s.onDelete = append(s.onDelete, hook)
}

// CreatePerson creates a person owning the given distinct ids.
func (s *SQLiteIdentityStore) CreatePerson(ctx context.Context, teamID int64, distinctIDs []string) (*types.Person, error) {
	if len(distinctIDs) == 0 {
		return nil, fmt.Errorf("at least one distinct id is required")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin tx: %w", err)
	}
	defer tx.Rollback()

	personUUID := uuid.New().String()
	res, err := tx.ExecContext(ctx,
		`INSERT INTO persons (uuid, team_id, deleted, created_at) VALUES (?, ?, 0, ?)`,
		personUUID, teamID, time.Now().UnixNano())
	if err != nil {
		return nil, fmt.Errorf("failed to insert person: %w", err)
	}
	personID, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to read person id: %w", err)
	}

	for _, distinctID := range distinctIDs {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO person_distinct_ids (team_id, distinct_id, person_id) VALUES (?, ?, ?)`,
			teamID, distinctID, personID); err != nil {
			return nil, fmt.Errorf("failed to insert distinct id %q: %w", distinctID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit: %w", err)
	}

	return &types.Person{
		ID:          personID,
		UUID:        personUUID,
		DistinctIDs: append([]string(nil), distinctIDs...),
	}, nil
}

// Resolve maps a distinct id to its person id.
func (s *SQLiteIdentityStore) Resolve(ctx context.Context, teamID int64, distinctID string) (int64, error) {
	var personID int64
	err := s.readDB.QueryRowContext(ctx,
		`SELECT person_id FROM person_distinct_ids WHERE team_id = ? AND distinct_id = ?`,
		teamID, distinctID).Scan(&personID)
	if err == sql.ErrNoRows {
		return 0, trailerrors.New(trailerrors.ErrCategoryIdentity, trailerrors.CodePersonNotFound,
			fmt.Sprintf("no person for distinct id %q", distinctID))
	}
	if err != nil {
		return 0, trailerrors.NewIdentityError(trailerrors.CodeResolutionFailed,
			"distinct id resolution failed", err)
	}
	return personID, nil
}

// Lookup fetches a person by id. The deleted flag is read live: callers
// must not cache the answer across requests.
func (s *SQLiteIdentityStore) Lookup(ctx context.Context, personID int64) (Resolution, error) {
	var (
		personUUID string
		deleted    int
	)
	err := s.readDB.QueryRowContext(ctx,
		`SELECT uuid, deleted FROM persons WHERE id = ?`, personID).
		Scan(&personUUID, &deleted)
	if err == sql.ErrNoRows {
		return Resolution{Status: StatusNotFound}, nil
	}
	if err != nil {
		return Resolution{}, trailerrors.NewIdentityError(trailerrors.CodeResolutionFailed,
			"person lookup failed", err)
	}
	if deleted != 0 {
		return Resolution{Status: StatusDeleted}, nil
	}

	rows, err := s.readDB.QueryContext(ctx,
		`SELECT distinct_id FROM person_distinct_ids WHERE person_id = ? ORDER BY distinct_id`, personID)
	if err != nil {
		return Resolution{}, trailerrors.NewIdentityError(trailerrors.CodeResolutionFailed,
			"distinct id lookup failed", err)
	}
	defer rows.Close()

	var distinctIDs []string
	for rows.Next() {
		var d string
		if err := rows.Scan(&d); err != nil {
			return Resolution{}, trailerrors.NewIdentityError(trailerrors.CodeResolutionFailed,
				"distinct id scan failed", err)
		}
		distinctIDs = append(distinctIDs, d)
	}
	if err := rows.Err(); err != nil {
		return Resolution{}, trailerrors.NewIdentityError(trailerrors.CodeResolutionFailed,
			"distinct id scan failed", err)
	}

	return Resolution{
		Status: StatusFound,
		Person: &types.Person{
			ID:          personID,
			UUID:        personUUID,
			DistinctIDs: distinctIDs,
		},
	}, nil
}

// Delete soft-deletes a person and fires the registered hooks. The rows
// stay in place; Lookup reports StatusDeleted from now on.
func (s *SQLiteIdentityStore) Delete(ctx context.Context, personID int64) error {
	res, err := s.db.ExecContext(ctx, `UPDATE persons SET deleted = 1 WHERE id = ?`, personID)
	if err != nil {
		return trailerrors.NewIdentityError(trailerrors.CodeResolutionFailed, "delete failed", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return trailerrors.NewIdentityError(trailerrors.CodeResolutionFailed, "delete failed", err)
	}
	if affected == 0 {
		return trailerrors.New(trailerrors.ErrCategoryIdentity, trailerrors.CodePersonNotFound,
			fmt.Sprintf("person %d not found", personID))
	}

	s.hookMu.RLock()
	hooks := append(([]func(int64))(nil), s.onDelete...)
	s.hookMu.RUnlock()
	for _, hook := range hooks {
		hook(personID)
	}
	return nil
}

// Close closes both database connections.
func (s *SQLiteIdentityStore) Close() error {
	if err := s.readDB.Close(); err != nil {
		s.db.Close()
		return err
	}
	return s.db.Close()
}
