package eventstore

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/trailmap/trailmap/pkg/types"
)

// Ingestor accepts event batches: it assigns ULIDs, journals the batch
// for durability, then applies it to the SQLite store. ULIDs are derived
// from each event's own timestamp so ids sort by event time when events
// arrive in order, and the generator keeps ids strictly increasing in
// ingestion order so equal-timestamp ties never reorder.
type Ingestor struct {
	journal *Journal
	store   *SQLiteEventStore
	gen     *types.ULIDGenerator
	log     zerolog.Logger
}

// NewIngestor creates an ingestor over a journal and store.
func NewIngestor(journal *Journal, store *SQLiteEventStore, log zerolog.Logger) *Ingestor {
	return &Ingestor{
		journal: journal,
		store:   store,
		gen:     types.NewULIDGenerator(),
		log:     log.With().Str("component", "ingestor").Logger(),
	}
}

// Ingest records a batch of events. Events keep any EventID already set
// (journal replays); fresh events get one assigned here.
func (i *Ingestor) Ingest(ctx context.Context, events []types.Event) (uint64, error) {
	if len(events) == 0 {
		return 0, fmt.Errorf("empty batch")
	}

	for idx := range events {
		if len(events[idx].EventID) != 0 {
			continue
		}
		u, err := i.gen.GenerateWithTime(time.Unix(0, events[idx].Timestamp))
		if err != nil {
			return 0, fmt.Errorf("failed to assign event id: %w", err)
		}
		events[idx].EventID = u.Bytes()
	}

	lsn, err := i.journal.Append(&Entry{
		Events:    events,
		Timestamp: time.Now().UnixNano(),
	})
	if err != nil {
		return 0, fmt.Errorf("journal append failed: %w", err)
	}

	if err := i.store.ApplyEntry(ctx, lsn, events); err != nil {
		// The batch is journaled; recovery will re-apply it on restart.
		i.log.Error().Err(err).Uint64("lsn", lsn).Msg("apply failed, batch remains journaled")
		return 0, fmt.Errorf("apply failed: %w", err)
	}

	return lsn, nil
}
