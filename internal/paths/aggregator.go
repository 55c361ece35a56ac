package paths

import (
	"context"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/trailmap/trailmap/pkg/types"
)

// Aggregator merges per-person step sequences into the directed segment
// graph. Each person is independent, so the work fans out across a fixed
// worker pool; the final merge is a set union, which makes the parallel
// result identical to a sequential run regardless of scheduling.
type Aggregator struct {
	concurrency int
}

// NewAggregator creates an aggregator with the given worker count.
// Counts below 1 fall back to a single worker.
func NewAggregator(concurrency int) *Aggregator {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Aggregator{concurrency: concurrency}
}

// Aggregate builds the segment map for a set of person sequences.
// Persons with empty sequences contribute nothing; a person traversing
// the same label pair twice is recorded once. Segments with no
// traversers are never materialized.
func (a *Aggregator) Aggregate(ctx context.Context, sequences []types.PersonPathSequence) (map[types.SegmentKey]*types.Segment, error) {
	if len(sequences) == 0 {
		return map[types.SegmentKey]*types.Segment{}, nil
	}

	workers := a.concurrency
	if workers > len(sequences) {
		workers = len(sequences)
	}

	partials := make([]map[types.SegmentKey]*types.Segment, workers)
	g, ctx := errgroup.WithContext(ctx)
	for w := 0; w < workers; w++ {
		w := w
		g.Go(func() error {
			partial := make(map[types.SegmentKey]*types.Segment)
			for i := w; i < len(sequences); i += workers {
				if err := ctx.Err(); err != nil {
					return err
				}
				addSequence(partial, sequences[i])
			}
			partials[w] = partial
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	merged := partials[0]
	for _, partial := range partials[1:] {
		for key, seg := range partial {
			if existing, ok := merged[key]; ok {
				existing.Merge(seg)
			} else {
				merged[key] = seg
			}
		}
	}
	return merged, nil
}

// addSequence records every segment a single sequence traverses,
// including the synthetic origin edge into its first step.
func addSequence(segments map[types.SegmentKey]*types.Segment, seq types.PersonPathSequence) {
	for _, key := range SequenceSegments(seq) {
		seg, ok := segments[key]
		if !ok {
			seg = types.NewSegment(key)
			segments[key] = seg
		}
		seg.Add(seq.PersonID)
	}
}

// FilterSegments scopes a segment map by a starting constraint. An exact
// path start key wins over a start-point event name when both are set:
// the exact label is the stricter ask. With neither set, the whole map
// passes through.
func FilterSegments(segments map[types.SegmentKey]*types.Segment, pathStartKey, startPoint string) map[types.SegmentKey]*types.Segment {
	if pathStartKey == "" && startPoint == "" {
		return segments
	}
	out := make(map[types.SegmentKey]*types.Segment)
	for key, seg := range segments {
		if pathStartKey != "" {
			if key.From == pathStartKey {
				out[key] = seg
			}
			continue
		}
		_, name, ok := types.SplitStepLabel(key.From)
		if ok && name == startPoint {
			out[key] = seg
		}
	}
	return out
}

// UnionPersonIDs collects the distinct person ids across a segment map
// in ascending order. The ordering backs pagination and must reproduce
// exactly across runs of the same aggregation.
func UnionPersonIDs(segments map[types.SegmentKey]*types.Segment) []int64 {
	set := make(map[int64]struct{})
	for _, seg := range segments {
		for id := range seg.PersonIDs {
			set[id] = struct{}{}
		}
	}
	ids := make([]int64, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// SortedSegments flattens a segment map into a slice ordered by
// (From, To) so serialized output is byte-stable.
func SortedSegments(segments map[types.SegmentKey]*types.Segment) []*types.Segment {
	out := make([]*types.Segment, 0, len(segments))
	for _, seg := range segments {
		out = append(out, seg)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Key.From != out[j].Key.From {
			return out[i].Key.From < out[j].Key.From
		}
		return out[i].Key.To < out[j].Key.To
	})
	return out
}
