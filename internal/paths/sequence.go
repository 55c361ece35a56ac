package paths

import (
	"github.com/trailmap/trailmap/pkg/types"
)

// BuildSequence turns one person's time-ordered events into a
// position-labeled step sequence. Positions are 1-based and consecutive
// duplicate events are kept: "step one, step one" yields the labels
// "1_step one" and "2_step one", which is what makes self-loop segments
// visible in the graph.
//
// maxSteps caps the sequence length; 0 means unbounded. Events past the
// cap are dropped, not wrapped.
func BuildSequence(personID int64, events []types.Event, maxSteps int) types.PersonPathSequence {
	if maxSteps > 0 && len(events) > maxSteps {
		events = events[:maxSteps]
	}
	steps := make([]types.PathStep, 0, len(events))
	for i, ev := range events {
		pos := i + 1
		steps = append(steps, types.PathStep{
			Position: pos,
			Label:    types.StepLabel(pos, ev.Name),
		})
	}
	return types.PersonPathSequence{PersonID: personID, Steps: steps}
}

// RescopeAtStartPoint trims events so the sequence begins at the first
// occurrence of the named event. Later occurrences are ordinary steps;
// only the first one re-anchors the walk. Persons who never fire the
// event return nil and contribute nothing to the graph.
func RescopeAtStartPoint(events []types.Event, startPoint string) []types.Event {
	if startPoint == "" {
		return events
	}
	for i, ev := range events {
		if ev.Name == startPoint {
			return events[i:]
		}
	}
	return nil
}

// SequenceSegments walks a sequence and emits the segment keys it
// traverses, including the synthetic origin segment into the first step.
// An empty sequence emits nothing.
func SequenceSegments(seq types.PersonPathSequence) []types.SegmentKey {
	if len(seq.Steps) == 0 {
		return nil
	}
	keys := make([]types.SegmentKey, 0, len(seq.Steps))
	prev := types.PathOrigin
	for _, step := range seq.Steps {
		keys = append(keys, types.SegmentKey{From: prev, To: step.Label})
		prev = step.Label
	}
	return keys
}
