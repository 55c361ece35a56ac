package eventstore

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/trailmap/trailmap/pkg/types"
)

// Journal is a segmented append-only log providing durable acknowledgment
// for ingested events before the SQLite commit. Sealed segments are picked
// up by the Archiver; unapplied entries are replayed by Recovery after a
// crash.
type Journal struct {
	dir        string
	segment    *os.File
	segmentID  uint64
	offset     int64
	maxSegSize int64
	currentLSN uint64
	mu         sync.Mutex
}

// Entry is a single journal record: one ingested batch.
type Entry struct {
	LSN       uint64        `json:"lsn"`
	Events    []types.Event `json:"events"`
	Timestamp int64         `json:"timestamp"`
}

const segmentPrefix = "journal_"

// NewJournal opens the journal directory, resuming from existing segments.
func NewJournal(dir string, maxSegSize int64) (*Journal, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create journal directory: %w", err)
	}

	j := &Journal{dir: dir, maxSegSize: maxSegSize}

	if err := j.findLastSegment(); err != nil {
		return nil, err
	}
	if err := j.openSegment(); err != nil {
		return nil, err
	}
	return j, nil
}

// findLastSegment resumes segmentID, offset and LSN from existing files.
func (j *Journal) findLastSegment() error {
	files, err := os.ReadDir(j.dir)
	if err != nil {
		return fmt.Errorf("failed to read journal directory: %w", err)
	}

	var ids []uint64
	for _, file := range files {
		if file.IsDir() {
			continue
		}
		if id, ok := parseSegmentName(file.Name()); ok {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return nil
	}
	sort.Slice(ids, func(a, b int) bool { return ids[a] > ids[b] })
	j.segmentID = ids[0]

	// The active segment is empty right after a rotation, so walk back
	// to the newest segment holding entries. Resuming from an empty tail
	// would restart the counter and reissue LSNs already handed out.
	for _, id := range ids {
		entries, err := ReadSegment(j.segmentPath(id))
		if err != nil {
			return fmt.Errorf("failed to read segment: %w", err)
		}
		if len(entries) > 0 {
			j.currentLSN = entries[len(entries)-1].LSN
			break
		}
	}
	return nil
}

func (j *Journal) openSegment() error {
	file, err := os.OpenFile(j.segmentPath(j.segmentID), os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return fmt.Errorf("failed to open segment file: %w", err)
	}
	offset, err := file.Seek(0, io.SeekEnd)
	if err != nil {
		file.Close()
		return fmt.Errorf("failed to seek segment: %w", err)
	}
	j.segment = file
	j.offset = offset
	return nil
}

// Append adds one batch entry to the journal and returns its LSN.
// The write is fsynced before returning.
func (j *Journal) Append(entry *Entry) (uint64, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.currentLSN++
	entry.LSN = j.currentLSN

	payload, err := json.Marshal(entry)
	if err != nil {
		return 0, fmt.Errorf("failed to serialize entry: %w", err)
	}

	// Frame: [length:4 LE][crc32:4 LE][payload]
	crc := crc32.ChecksumIEEE(payload)
	if err := binary.Write(j.segment, binary.LittleEndian, uint32(len(payload))); err != nil {
		return 0, fmt.Errorf("failed to write length: %w", err)
	}
	if err := binary.Write(j.segment, binary.LittleEndian, crc); err != nil {
		return 0, fmt.Errorf("failed to write crc: %w", err)
	}
	if _, err := j.segment.Write(payload); err != nil {
		return 0, fmt.Errorf("failed to write payload: %w", err)
	}
	if err := j.segment.Sync(); err != nil {
		return 0, fmt.Errorf("failed to fsync: %w", err)
	}

	j.offset += int64(8 + len(payload))
	if j.offset >= j.maxSegSize {
		if err := j.rotateSegment(); err != nil {
			return 0, err
		}
	}

	return entry.LSN, nil
}

// rotateSegment seals the current segment and opens a new one.
func (j *Journal) rotateSegment() error {
	if j.segment != nil {
		if err := j.segment.Close(); err != nil {
			return fmt.Errorf("failed to close segment: %w", err)
		}
	}
	j.segmentID++
	return j.openSegment()
}

// AdvanceTo raises the LSN counter to at least lsn. Recovery calls this
// with the store's applied LSN, covering the case where every journaled
// segment has already been archived away and the counter cannot be
// resumed from local files.
func (j *Journal) AdvanceTo(lsn uint64) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if lsn > j.currentLSN {
		j.currentLSN = lsn
	}
}

// CurrentLSN returns the LSN of the most recently appended entry.
func (j *Journal) CurrentLSN() uint64 {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.currentLSN
}

// SealedSegments returns paths of all segments except the active one,
// sorted ascending. These are immutable and safe to archive.
func (j *Journal) SealedSegments() ([]string, error) {
	j.mu.Lock()
	activeID := j.segmentID
	j.mu.Unlock()

	files, err := os.ReadDir(j.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read journal directory: %w", err)
	}

	var sealed []string
	for _, file := range files {
		if file.IsDir() {
			continue
		}
		id, ok := parseSegmentName(file.Name())
		if ok && id < activeID {
			sealed = append(sealed, filepath.Join(j.dir, file.Name()))
		}
	}
	sort.Strings(sealed)
	return sealed, nil
}

// SegmentFiles returns all segment paths, active included, sorted ascending.
func (j *Journal) SegmentFiles() ([]string, error) {
	files, err := os.ReadDir(j.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read journal directory: %w", err)
	}

	var paths []string
	for _, file := range files {
		if file.IsDir() {
			continue
		}
		if _, ok := parseSegmentName(file.Name()); ok {
			paths = append(paths, filepath.Join(j.dir, file.Name()))
		}
	}
	sort.Strings(paths)
	return paths, nil
}

// Close closes the active segment.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.segment == nil {
		return nil
	}
	err := j.segment.Close()
	j.segment = nil
	return err
}

func (j *Journal) segmentPath(id uint64) string {
	return filepath.Join(j.dir, fmt.Sprintf("%s%016x.log", segmentPrefix, id))
}

func parseSegmentName(name string) (uint64, bool) {
	if !strings.HasPrefix(name, segmentPrefix) || !strings.HasSuffix(name, ".log") {
		return 0, false
	}
	hexPart := strings.TrimSuffix(strings.TrimPrefix(name, segmentPrefix), ".log")
	if len(hexPart) != 16 {
		return 0, false
	}
	var id uint64
	if _, err := fmt.Sscanf(hexPart, "%016x", &id); err != nil {
		return 0, false
	}
	return id, true
}

// ReadSegment reads and verifies all entries in one segment file.
// A truncated trailing entry (torn write) ends the read without error;
// a checksum mismatch mid-file is corruption and fails it.
func ReadSegment(path string) ([]*Entry, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open segment: %w", err)
	}
	defer file.Close()

	var entries []*Entry
	for {
		var length, crc uint32
		if err := binary.Read(file, binary.LittleEndian, &length); err != nil {
			if err == io.EOF {
				break
			}
			return nil, fmt.Errorf("failed to read length: %w", err)
		}
		if err := binary.Read(file, binary.LittleEndian, &crc); err != nil {
			break // torn header
		}

		payload := make([]byte, length)
		if _, err := io.ReadFull(file, payload); err != nil {
			break // torn payload
		}

		if crc32.ChecksumIEEE(payload) != crc {
			return nil, fmt.Errorf("checksum mismatch in %s", filepath.Base(path))
		}

		var entry Entry
		if err := json.Unmarshal(payload, &entry); err != nil {
			return nil, fmt.Errorf("failed to decode entry: %w", err)
		}
		entries = append(entries, &entry)
	}

	return entries, nil
}
