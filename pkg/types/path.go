package types

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// PathOrigin is the From label of a segment that starts a full sequence.
const PathOrigin = ""

// PathStep is one position-labeled event occurrence within a person's
// filtered, time-ordered stream. Labels have the form "<position>_<name>"
// with a 1-based position.
type PathStep struct {
	Position int    `json:"position"`
	Label    string `json:"label"`
}

// StepLabel builds the canonical label for an event at the given 1-based
// position.
func StepLabel(position int, eventName string) string {
	return fmt.Sprintf("%d_%s", position, eventName)
}

// SplitStepLabel splits a step label into its position and event-name
// components. It returns false for labels that don't carry a numeric
// position prefix.
func SplitStepLabel(label string) (position int, eventName string, ok bool) {
	idx := strings.Index(label, "_")
	if idx <= 0 {
		return 0, "", false
	}
	pos, err := strconv.Atoi(label[:idx])
	if err != nil || pos < 1 {
		return 0, "", false
	}
	return pos, label[idx+1:], true
}

// PersonPathSequence is one person's ordered path through the window.
type PersonPathSequence struct {
	PersonID int64
	Steps    []PathStep
}

// SegmentKey identifies a directed path segment by its step labels.
// From == PathOrigin marks the synthetic origin-to-first-step segment.
type SegmentKey struct {
	From string
	To   string
}

// Segment is a directed edge between two consecutive path steps together
// with the set of persons who traversed it. A person contributes at most
// once no matter how often their sequence revisits the same label pair.
type Segment struct {
	Key       SegmentKey
	PersonIDs map[int64]struct{}
}

// NewSegment creates an empty segment for the given key.
func NewSegment(key SegmentKey) *Segment {
	return &Segment{Key: key, PersonIDs: make(map[int64]struct{})}
}

// Add records that a person traversed this segment. Idempotent.
func (s *Segment) Add(personID int64) {
	s.PersonIDs[personID] = struct{}{}
}

// Count returns the number of distinct traversing persons. Always derived
// from the set, never incremented separately.
func (s *Segment) Count() int {
	return len(s.PersonIDs)
}

// SortedPersonIDs returns the traversing person ids in ascending order.
// The ordering backs pagination, so it must be reproducible across runs.
func (s *Segment) SortedPersonIDs() []int64 {
	ids := make([]int64, 0, len(s.PersonIDs))
	for id := range s.PersonIDs {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Merge unions another segment's person set into this one. Merging is
// commutative and associative, so parallel partial aggregations combine
// to the same result in any order.
func (s *Segment) Merge(other *Segment) {
	for id := range other.PersonIDs {
		s.PersonIDs[id] = struct{}{}
	}
}
