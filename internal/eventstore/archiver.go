package eventstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/golang/snappy"
	"github.com/rs/zerolog"

	"github.com/trailmap/trailmap/internal/storage"
)

// Archiver pushes sealed journal segments to object storage in the
// background. Segments are snappy-compressed before upload and removed
// locally once the upload succeeds. A segment is only eligible once the
// event store has applied all of its entries: until then the local copy
// is what recovery replays from, and removing it would lose the batch.
type Archiver struct {
	journal  *Journal
	storage  storage.ObjectStorage
	applied  appliedLSNSource
	interval time.Duration
	prefix   string
	log      zerolog.Logger
}

// appliedLSNSource reports the newest journal LSN the event store has
// committed.
type appliedLSNSource interface {
	LastAppliedLSN(ctx context.Context) (uint64, error)
}

// NewArchiver creates an archiver for the journal.
func NewArchiver(journal *Journal, store storage.ObjectStorage, applied appliedLSNSource, interval time.Duration, log zerolog.Logger) *Archiver {
	return &Archiver{
		journal:  journal,
		storage:  store,
		applied:  applied,
		interval: interval,
		prefix:   "journal",
		log:      log.With().Str("component", "archiver").Logger(),
	}
}

// Run starts the background archive loop. It drains once more on
// context cancellation before returning.
func (a *Archiver) Run(ctx context.Context) {
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			drainCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			a.archiveOnce(drainCtx)
			cancel()
			return
		case <-ticker.C:
			a.archiveOnce(ctx)
		}
	}
}

// archiveOnce uploads every fully-applied sealed segment and removes the
// local copy.
func (a *Archiver) archiveOnce(ctx context.Context) {
	sealed, err := a.journal.SealedSegments()
	if err != nil {
		a.log.Error().Err(err).Msg("failed to list sealed segments")
		return
	}
	if len(sealed) == 0 {
		return
	}

	appliedLSN, err := a.applied.LastAppliedLSN(ctx)
	if err != nil {
		a.log.Error().Err(err).Msg("failed to read applied lsn")
		return
	}

	for _, path := range sealed {
		ok, err := segmentApplied(path, appliedLSN)
		if err != nil {
			a.log.Error().Err(err).Str("segment", filepath.Base(path)).Msg("segment read failed")
			continue
		}
		if !ok {
			// Holds entries recovery may still need; retry next tick.
			continue
		}
		if err := a.archiveSegment(ctx, path); err != nil {
			a.log.Error().Err(err).Str("segment", filepath.Base(path)).Msg("archive failed")
			continue
		}
		a.log.Info().Str("segment", filepath.Base(path)).Msg("segment archived")
	}
}

// segmentApplied reports whether every entry in the segment is at or
// below the store's applied LSN.
func segmentApplied(path string, appliedLSN uint64) (bool, error) {
	entries, err := ReadSegment(path)
	if err != nil {
		return false, err
	}
	for _, entry := range entries {
		if entry.LSN > appliedLSN {
			return false, nil
		}
	}
	return true, nil
}

func (a *Archiver) archiveSegment(ctx context.Context, path string) error {
	objectPath := a.prefix + "/" + filepath.Base(path) + ".snappy"

	exists, err := a.storage.Exists(ctx, objectPath)
	if err != nil {
		return fmt.Errorf("exists check failed: %w", err)
	}
	if !exists {
		compressed, err := compressSegment(path)
		if err != nil {
			return err
		}
		defer os.Remove(compressed)

		if err := a.storage.Upload(ctx, compressed, objectPath); err != nil {
			return fmt.Errorf("upload failed: %w", err)
		}
	}

	return os.Remove(path)
}

// compressSegment writes a snappy-compressed copy of the segment to a
// temp file and returns its path.
func compressSegment(path string) (string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read segment failed: %w", err)
	}

	tmp, err := os.CreateTemp("", "trailmap-archive-*.snappy")
	if err != nil {
		return "", fmt.Errorf("create temp failed: %w", err)
	}

	if _, err := tmp.Write(snappy.Encode(nil, raw)); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", fmt.Errorf("write temp failed: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", err
	}
	return tmp.Name(), nil
}
