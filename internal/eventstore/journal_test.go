package eventstore

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/trailmap/trailmap/internal/storage"
	"github.com/trailmap/trailmap/pkg/types"
)

func journalEvent(name string) types.Event {
	return types.Event{
		EventID:    make([]byte, 16),
		TeamID:     1,
		DistinctID: "user_0",
		Name:       name,
		Timestamp:  time.Now().UnixNano(),
	}
}

func TestJournalAppendReadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	j, err := NewJournal(dir, 16*1024*1024)
	if err != nil {
		t.Fatalf("NewJournal: %v", err)
	}
	defer j.Close()

	for i := 0; i < 3; i++ {
		lsn, err := j.Append(&Entry{
			Events:    []types.Event{journalEvent("step one")},
			Timestamp: time.Now().UnixNano(),
		})
		if err != nil {
			t.Fatalf("Append %d: %v", i, err)
		}
		if lsn != uint64(i+1) {
			t.Errorf("lsn = %d, want %d", lsn, i+1)
		}
	}

	files, err := j.SegmentFiles()
	if err != nil || len(files) != 1 {
		t.Fatalf("SegmentFiles = (%v, %v), want 1 file", files, err)
	}

	entries, err := ReadSegment(files[0])
	if err != nil {
		t.Fatalf("ReadSegment: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}
	if entries[2].LSN != 3 || entries[2].Events[0].Name != "step one" {
		t.Errorf("last entry = %+v", entries[2])
	}
}

func TestJournalRotationAndSealedSegments(t *testing.T) {
	dir := t.TempDir()
	// Tiny segment size forces rotation on every append.
	j, err := NewJournal(dir, 1)
	if err != nil {
		t.Fatalf("NewJournal: %v", err)
	}
	defer j.Close()

	for i := 0; i < 3; i++ {
		if _, err := j.Append(&Entry{Events: []types.Event{journalEvent("x")}}); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	sealed, err := j.SealedSegments()
	if err != nil {
		t.Fatalf("SealedSegments: %v", err)
	}
	if len(sealed) != 3 {
		t.Errorf("expected 3 sealed segments, got %d", len(sealed))
	}
}

func TestJournalResumesLSN(t *testing.T) {
	dir := t.TempDir()
	j, err := NewJournal(dir, 16*1024*1024)
	if err != nil {
		t.Fatalf("NewJournal: %v", err)
	}
	for i := 0; i < 5; i++ {
		if _, err := j.Append(&Entry{Events: []types.Event{journalEvent("x")}}); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	j.Close()

	reopened, err := NewJournal(dir, 16*1024*1024)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()

	lsn, err := reopened.Append(&Entry{Events: []types.Event{journalEvent("y")}})
	if err != nil {
		t.Fatalf("Append after reopen: %v", err)
	}
	if lsn != 6 {
		t.Errorf("lsn after reopen = %d, want 6", lsn)
	}
}

func TestJournalResumesLSNAfterRotation(t *testing.T) {
	dir := t.TempDir()
	// Every append rotates, so the reopened journal sees an empty active
	// segment and must walk back to find the last issued LSN.
	j, err := NewJournal(dir, 1)
	if err != nil {
		t.Fatalf("NewJournal: %v", err)
	}
	if _, err := j.Append(&Entry{Events: []types.Event{journalEvent("x")}}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	j.Close()

	reopened, err := NewJournal(dir, 1)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()

	lsn, err := reopened.Append(&Entry{Events: []types.Event{journalEvent("y")}})
	if err != nil {
		t.Fatalf("Append after reopen: %v", err)
	}
	if lsn != 2 {
		t.Errorf("lsn after reopen = %d, want 2", lsn)
	}
}

func TestReadSegmentToleratesTornTail(t *testing.T) {
	dir := t.TempDir()
	j, err := NewJournal(dir, 16*1024*1024)
	if err != nil {
		t.Fatalf("NewJournal: %v", err)
	}
	for i := 0; i < 2; i++ {
		if _, err := j.Append(&Entry{Events: []types.Event{journalEvent("x")}}); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	j.Close()

	files, _ := filepath.Glob(filepath.Join(dir, "journal_*.log"))
	if len(files) != 1 {
		t.Fatalf("expected 1 segment, got %v", files)
	}

	// Truncate mid-entry to simulate a torn write.
	info, err := os.Stat(files[0])
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if err := os.Truncate(files[0], info.Size()-10); err != nil {
		t.Fatalf("truncate: %v", err)
	}

	entries, err := ReadSegment(files[0])
	if err != nil {
		t.Fatalf("ReadSegment after torn write: %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("expected 1 intact entry, got %d", len(entries))
	}
}

func TestRecoveryReplaysUnappliedEntries(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	store, err := NewSQLiteEventStore(filepath.Join(dir, "events.db"))
	if err != nil {
		t.Fatalf("NewSQLiteEventStore: %v", err)
	}
	defer store.Close()

	journal, err := NewJournal(filepath.Join(dir, "journal"), 16*1024*1024)
	if err != nil {
		t.Fatalf("NewJournal: %v", err)
	}
	defer journal.Close()

	// Journal two batches without applying them: the crash window.
	base := time.Date(2021, 5, 1, 0, 0, 0, 0, time.UTC)
	gen := types.NewULIDGenerator()
	for i, name := range []string{"step one", "step two"} {
		u, err := gen.GenerateWithTime(base.Add(time.Duration(i) * time.Minute))
		if err != nil {
			t.Fatalf("generate ulid: %v", err)
		}
		ev := types.Event{
			EventID:    u.Bytes(),
			TeamID:     1,
			DistinctID: "user_0",
			Name:       name,
			Timestamp:  base.Add(time.Duration(i) * time.Minute).UnixNano(),
		}
		if _, err := journal.Append(&Entry{Events: []types.Event{ev}}); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	recovered, err := NewRecovery(journal, store, zerolog.Nop()).Recover(ctx)
	if err != nil {
		t.Fatalf("Recover: %v", err)
	}
	if recovered != 2 {
		t.Errorf("recovered = %d, want 2", recovered)
	}

	streams, err := store.ScanWindow(ctx, 1, base.Add(-time.Hour), base.Add(time.Hour), nil)
	if err != nil {
		t.Fatalf("ScanWindow: %v", err)
	}
	if len(streams["user_0"]) != 2 {
		t.Errorf("expected 2 replayed events, got %d", len(streams["user_0"]))
	}

	// Recovery is idempotent.
	again, err := NewRecovery(journal, store, zerolog.Nop()).Recover(ctx)
	if err != nil || again != 0 {
		t.Errorf("second Recover = (%d, %v), want (0, nil)", again, err)
	}
}

func TestRecoveryRaisesJournalLSNFromStore(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	store, err := NewSQLiteEventStore(filepath.Join(dir, "events.db"))
	if err != nil {
		t.Fatalf("NewSQLiteEventStore: %v", err)
	}
	defer store.Close()

	u, err := types.NewULIDGenerator().Generate()
	if err != nil {
		t.Fatalf("generate ulid: %v", err)
	}
	ev := journalEvent("step one")
	ev.EventID = u.Bytes()
	if err := store.ApplyEntry(ctx, 7, []types.Event{ev}); err != nil {
		t.Fatalf("ApplyEntry: %v", err)
	}

	// Fresh journal directory: the case where every prior segment has
	// been archived away. The counter must pick up from the store.
	journal, err := NewJournal(filepath.Join(dir, "journal"), 16*1024*1024)
	if err != nil {
		t.Fatalf("NewJournal: %v", err)
	}
	defer journal.Close()

	if _, err := NewRecovery(journal, store, zerolog.Nop()).Recover(ctx); err != nil {
		t.Fatalf("Recover: %v", err)
	}

	lsn, err := journal.Append(&Entry{Events: []types.Event{journalEvent("x")}})
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	if lsn != 8 {
		t.Errorf("lsn after recovery = %d, want 8", lsn)
	}
}

type fixedAppliedLSN uint64

func (f fixedAppliedLSN) LastAppliedLSN(context.Context) (uint64, error) {
	return uint64(f), nil
}

func TestArchiverUploadsAndRemovesSealedSegments(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	j, err := NewJournal(filepath.Join(dir, "journal"), 1)
	if err != nil {
		t.Fatalf("NewJournal: %v", err)
	}
	defer j.Close()

	for i := 0; i < 2; i++ {
		if _, err := j.Append(&Entry{Events: []types.Event{journalEvent("x")}}); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	store, err := storage.NewLocalStorage(filepath.Join(dir, "archive"))
	if err != nil {
		t.Fatalf("NewLocalStorage: %v", err)
	}

	archiver := NewArchiver(j, store, fixedAppliedLSN(2), time.Hour, zerolog.Nop())
	archiver.archiveOnce(ctx)

	objects, err := store.ListObjects(ctx, "journal")
	if err != nil {
		t.Fatalf("ListObjects: %v", err)
	}
	if len(objects) != 2 {
		t.Errorf("expected 2 archived segments, got %v", objects)
	}

	sealed, err := j.SealedSegments()
	if err != nil {
		t.Fatalf("SealedSegments: %v", err)
	}
	if len(sealed) != 0 {
		t.Errorf("sealed segments not removed locally: %v", sealed)
	}
}

func TestArchiverKeepsUnappliedSegments(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	j, err := NewJournal(filepath.Join(dir, "journal"), 1)
	if err != nil {
		t.Fatalf("NewJournal: %v", err)
	}
	defer j.Close()

	for i := 0; i < 2; i++ {
		if _, err := j.Append(&Entry{Events: []types.Event{journalEvent("x")}}); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	store, err := storage.NewLocalStorage(filepath.Join(dir, "archive"))
	if err != nil {
		t.Fatalf("NewLocalStorage: %v", err)
	}

	// Only LSN 1 is applied: the segment holding LSN 2 still backs
	// recovery and must stay local.
	NewArchiver(j, store, fixedAppliedLSN(1), time.Hour, zerolog.Nop()).archiveOnce(ctx)

	objects, err := store.ListObjects(ctx, "journal")
	if err != nil {
		t.Fatalf("ListObjects: %v", err)
	}
	if len(objects) != 1 {
		t.Errorf("expected 1 archived segment, got %v", objects)
	}
	sealed, err := j.SealedSegments()
	if err != nil {
		t.Fatalf("SealedSegments: %v", err)
	}
	if len(sealed) != 1 {
		t.Fatalf("expected 1 retained segment, got %v", sealed)
	}

	// Once the store catches up the retained segment drains.
	NewArchiver(j, store, fixedAppliedLSN(2), time.Hour, zerolog.Nop()).archiveOnce(ctx)
	sealed, err = j.SealedSegments()
	if err != nil {
		t.Fatalf("SealedSegments: %v", err)
	}
	if len(sealed) != 0 {
		t.Errorf("retained segment not archived after catch-up: %v", sealed)
	}
}
