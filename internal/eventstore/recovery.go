package eventstore

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// Recovery replays journal entries that were acknowledged but never
// applied to SQLite (crash between journal fsync and commit).
type Recovery struct {
	journal *Journal
	store   *SQLiteEventStore
	log     zerolog.Logger
}

// NewRecovery creates a recovery instance.
func NewRecovery(journal *Journal, store *SQLiteEventStore, log zerolog.Logger) *Recovery {
	return &Recovery{
		journal: journal,
		store:   store,
		log:     log.With().Str("component", "recovery").Logger(),
	}
}

// Recover replays unapplied journal entries and returns how many were
// applied. The applied LSN comes from the database, not memory: it is
// the only source that survives a crash.
func (r *Recovery) Recover(ctx context.Context) (int, error) {
	start := time.Now()

	appliedLSN, err := r.store.LastAppliedLSN(ctx)
	if err != nil {
		return 0, fmt.Errorf("recovery: failed to read applied lsn: %w", err)
	}
	r.journal.AdvanceTo(appliedLSN)

	segments, err := r.journal.SegmentFiles()
	if err != nil {
		return 0, fmt.Errorf("recovery: failed to list segments: %w", err)
	}

	var recovered int
	for _, path := range segments {
		entries, err := ReadSegment(path)
		if err != nil {
			return recovered, fmt.Errorf("recovery: failed to read segment: %w", err)
		}
		for _, entry := range entries {
			if entry.LSN <= appliedLSN {
				continue
			}
			if err := r.store.ApplyEntry(ctx, entry.LSN, entry.Events); err != nil {
				return recovered, fmt.Errorf("recovery: failed to apply lsn %d: %w", entry.LSN, err)
			}
			recovered++
		}
	}

	if recovered > 0 {
		r.log.Info().
			Int("entries", recovered).
			Dur("took", time.Since(start)).
			Msg("journal recovery complete")
	}
	return recovered, nil
}
