package paths

import (
	"testing"

	"github.com/trailmap/trailmap/pkg/types"
)

func eventsNamed(names ...string) []types.Event {
	events := make([]types.Event, len(names))
	for i, name := range names {
		events[i] = types.Event{Name: name, Timestamp: int64(i) * 1000}
	}
	return events
}

func TestBuildSequenceLabels(t *testing.T) {
	seq := BuildSequence(7, eventsNamed("step one", "step two", "step three"), 0)
	if seq.PersonID != 7 {
		t.Fatalf("expected person 7, got %d", seq.PersonID)
	}
	want := []string{"1_step one", "2_step two", "3_step three"}
	if len(seq.Steps) != len(want) {
		t.Fatalf("expected %d steps, got %d", len(want), len(seq.Steps))
	}
	for i, label := range want {
		if seq.Steps[i].Label != label {
			t.Errorf("step %d: expected %q, got %q", i, label, seq.Steps[i].Label)
		}
		if seq.Steps[i].Position != i+1 {
			t.Errorf("step %d: expected position %d, got %d", i, i+1, seq.Steps[i].Position)
		}
	}
}

func TestBuildSequenceKeepsConsecutiveDuplicates(t *testing.T) {
	seq := BuildSequence(1, eventsNamed("step one", "step one", "step two"), 0)
	want := []string{"1_step one", "2_step one", "3_step two"}
	for i, label := range want {
		if seq.Steps[i].Label != label {
			t.Errorf("step %d: expected %q, got %q", i, label, seq.Steps[i].Label)
		}
	}
}

func TestBuildSequenceEmpty(t *testing.T) {
	seq := BuildSequence(1, nil, 0)
	if len(seq.Steps) != 0 {
		t.Fatalf("expected no steps, got %d", len(seq.Steps))
	}
	if keys := SequenceSegments(seq); keys != nil {
		t.Errorf("empty sequence must emit no segments, got %v", keys)
	}
}

func TestBuildSequenceMaxSteps(t *testing.T) {
	seq := BuildSequence(1, eventsNamed("a", "b", "c", "d"), 2)
	if len(seq.Steps) != 2 {
		t.Fatalf("expected 2 steps, got %d", len(seq.Steps))
	}
	if seq.Steps[1].Label != "2_b" {
		t.Errorf("expected 2_b, got %q", seq.Steps[1].Label)
	}
}

func TestRescopeAtStartPoint(t *testing.T) {
	events := eventsNamed("step one", "step two", "step three", "step two")

	scoped := RescopeAtStartPoint(events, "step two")
	if len(scoped) != 3 {
		t.Fatalf("expected 3 events after rescope, got %d", len(scoped))
	}
	seq := BuildSequence(1, scoped, 0)
	want := []string{"1_step two", "2_step three", "3_step two"}
	for i, label := range want {
		if seq.Steps[i].Label != label {
			t.Errorf("step %d: expected %q, got %q", i, label, seq.Steps[i].Label)
		}
	}

	if got := RescopeAtStartPoint(events, "missing"); got != nil {
		t.Errorf("person without the start event must contribute nothing, got %v", got)
	}
	if got := RescopeAtStartPoint(events, ""); len(got) != len(events) {
		t.Errorf("empty start point must be a no-op")
	}
}

func TestSequenceSegmentsOriginEdge(t *testing.T) {
	seq := BuildSequence(1, eventsNamed("step one", "step two"), 0)
	keys := SequenceSegments(seq)
	want := []types.SegmentKey{
		{From: types.PathOrigin, To: "1_step one"},
		{From: "1_step one", To: "2_step two"},
	}
	if len(keys) != len(want) {
		t.Fatalf("expected %d keys, got %d", len(want), len(keys))
	}
	for i := range want {
		if keys[i] != want[i] {
			t.Errorf("key %d: expected %+v, got %+v", i, want[i], keys[i])
		}
	}
}
