package paths

import (
	"bytes"
	"context"
	"encoding/json"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"github.com/trailmap/trailmap/internal/cache"
	trailerrors "github.com/trailmap/trailmap/internal/errors"
	"github.com/trailmap/trailmap/internal/eventstore"
	"github.com/trailmap/trailmap/internal/identity"
	"github.com/trailmap/trailmap/pkg/types"
)

// SegmentSummary is the served shape of one path segment. From is empty
// for the synthetic origin edge. Count reflects live post-deletion
// state, not the count at aggregation time.
type SegmentSummary struct {
	From  string `json:"from"`
	To    string `json:"to"`
	Count int    `json:"count"`
}

// Result is one served page of a paths query.
type Result struct {
	// Segments summarizes the scoped graph, ordered by (From, To)
	Segments []SegmentSummary `json:"segments"`

	// People is the requested page of resolved persons, ascending by id
	People []types.PersonRecord `json:"people"`

	// Count is the live total number of persons across the scoped
	// segments, after deletion filtering
	Count int `json:"count"`

	// NextOffset is the offset of the next page, or nil on the last one
	NextOffset *int `json:"next_offset,omitempty"`

	// CacheHit reports whether the aggregation came from the cache
	CacheHit bool `json:"-"`
}

// Engine runs the full paths pipeline: window scan, identity grouping,
// sequence building, segment aggregation, start-key scoping, live person
// resolution, and pagination. Aggregations are pure functions of the
// filter fingerprint and are cached; resolution never is.
type Engine struct {
	scanner     eventstore.WindowScanner
	identities  identity.Store
	resolver    *Resolver
	aggregator  *Aggregator
	cache       *cache.ResultCache
	maxSteps    int
	pageLimit   int
	testAccount func(distinctID string) bool
	log         zerolog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithCache attaches a result cache. Without one every query
// re-aggregates from the event store.
func WithCache(c *cache.ResultCache) Option {
	return func(e *Engine) { e.cache = c }
}

// WithMaxSteps caps per-person sequence length. Zero means unbounded.
func WithMaxSteps(n int) Option {
	return func(e *Engine) { e.maxSteps = n }
}

// WithDefaultPageLimit sets the page size used when a filter gives none.
func WithDefaultPageLimit(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.pageLimit = n
		}
	}
}

// WithTestAccountMatcher overrides the predicate used to drop internal
// traffic when a filter sets FilterTestAccounts.
func WithTestAccountMatcher(match func(distinctID string) bool) Option {
	return func(e *Engine) { e.testAccount = match }
}

// NewEngine wires the pipeline over an event scanner and identity store.
func NewEngine(scanner eventstore.WindowScanner, identities identity.Store, concurrency int, log zerolog.Logger, opts ...Option) *Engine {
	e := &Engine{
		scanner:     scanner,
		identities:  identities,
		resolver:    NewResolver(identities, log),
		aggregator:  NewAggregator(concurrency),
		pageLimit:   100,
		testAccount: isTestAccount,
		log:         log.With().Str("component", "paths_engine").Logger(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// QueryPaths serves one page of a paths query. The aggregated segment
// map is looked up by the filter fingerprint and recomputed on a miss;
// person resolution and the deleted-filter run on every call, cache hit
// or not, so a deletion between pages shrinks later pages instead of
// serving stale persons.
func (e *Engine) QueryPaths(ctx context.Context, filter *Filter) (*Result, error) {
	if err := filter.Validate(); err != nil {
		return nil, err
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = e.pageLimit
	}

	fingerprint := filter.Fingerprint()
	segments, hit, err := e.loadSegments(ctx, fingerprint)
	if err != nil {
		return nil, err
	}
	if !hit {
		segments, err = e.aggregate(ctx, filter)
		if err != nil {
			return nil, err
		}
		e.storeSegments(fingerprint, segments)
	}

	scoped := FilterSegments(segments, filter.PathStartKey, filter.StartPoint)
	candidates := UnionPersonIDs(scoped)

	records, err := e.resolver.ResolvePersons(ctx, candidates)
	if err != nil {
		return nil, err
	}
	live := make(map[int64]struct{}, len(records))
	for _, rec := range records {
		live[rec.ID] = struct{}{}
	}

	result := &Result{
		Segments: summarize(scoped, live),
		Count:    len(records),
		CacheHit: hit,
	}

	offset := filter.Offset
	if offset > len(records) {
		offset = len(records)
	}
	end := offset + limit
	if end > len(records) {
		end = len(records)
	}
	result.People = records[offset:end]
	if end < len(records) {
		next := end
		result.NextOffset = &next
	}

	e.log.Debug().
		Str("fingerprint", fingerprint).
		Bool("cache_hit", hit).
		Int("segments", len(scoped)).
		Int("count", result.Count).
		Int("page", len(result.People)).
		Msg("paths query served")
	return result, nil
}

// aggregate runs the window scan and builds the segment map from
// scratch. Events are regrouped from distinct ids to person ids first:
// a person with several distinct ids gets one interleaved stream.
func (e *Engine) aggregate(ctx context.Context, filter *Filter) (map[types.SegmentKey]*types.Segment, error) {
	byDistinct, err := e.scanner.ScanWindow(ctx, filter.TeamID, filter.DateFrom, filter.DateTo, filter.AllowedEvents)
	if err != nil {
		return nil, err
	}

	byPerson := make(map[int64][]types.Event)
	for distinctID, events := range byDistinct {
		if filter.FilterTestAccounts && e.testAccount(distinctID) {
			continue
		}
		personID, err := e.identities.Resolve(ctx, filter.TeamID, distinctID)
		if err != nil {
			e.log.Warn().Err(err).Str("distinct_id", distinctID).Msg("distinct id unresolved, skipping its events")
			continue
		}
		byPerson[personID] = append(byPerson[personID], events...)
	}

	sequences := make([]types.PersonPathSequence, 0, len(byPerson))
	for personID, events := range byPerson {
		sortEvents(events)
		events = RescopeAtStartPoint(events, filter.StartPoint)
		seq := BuildSequence(personID, events, e.maxSteps)
		if len(seq.Steps) == 0 {
			continue
		}
		sequences = append(sequences, seq)
	}

	return e.aggregator.Aggregate(ctx, sequences)
}

// sortEvents restores the canonical scan order after merging the event
// streams of a person's distinct ids: timestamp, then event id, which
// carries insertion order for equal timestamps.
func sortEvents(events []types.Event) {
	sort.Slice(events, func(i, j int) bool {
		if events[i].Timestamp != events[j].Timestamp {
			return events[i].Timestamp < events[j].Timestamp
		}
		return bytes.Compare(events[i].EventID, events[j].EventID) < 0
	})
}

// summarize flattens a scoped segment map into served summaries with
// live counts. Segments whose traversers are all deleted are dropped.
func summarize(segments map[types.SegmentKey]*types.Segment, live map[int64]struct{}) []SegmentSummary {
	out := make([]SegmentSummary, 0, len(segments))
	for _, seg := range SortedSegments(segments) {
		n := 0
		for id := range seg.PersonIDs {
			if _, ok := live[id]; ok {
				n++
			}
		}
		if n == 0 {
			continue
		}
		out = append(out, SegmentSummary{From: seg.Key.From, To: seg.Key.To, Count: n})
	}
	return out
}

// segmentPayload is the cached wire form of one segment. Person ids are
// sorted so the payload is byte-identical across runs.
type segmentPayload struct {
	From      string  `json:"from"`
	To        string  `json:"to"`
	PersonIDs []int64 `json:"person_ids"`
}

func (e *Engine) storeSegments(fingerprint string, segments map[types.SegmentKey]*types.Segment) {
	if e.cache == nil {
		return
	}
	payload := make([]segmentPayload, 0, len(segments))
	for _, seg := range SortedSegments(segments) {
		payload = append(payload, segmentPayload{
			From:      seg.Key.From,
			To:        seg.Key.To,
			PersonIDs: seg.SortedPersonIDs(),
		})
	}
	data, err := json.Marshal(payload)
	if err != nil {
		e.log.Error().Err(err).Str("fingerprint", fingerprint).Msg("segment map not cacheable")
		return
	}
	e.cache.Put(fingerprint, data, UnionPersonIDs(segments))
}

func (e *Engine) loadSegments(ctx context.Context, fingerprint string) (map[types.SegmentKey]*types.Segment, bool, error) {
	if e.cache == nil {
		return nil, false, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	data, ok := e.cache.Get(fingerprint)
	if !ok {
		return nil, false, nil
	}
	var payload []segmentPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		e.cache.Remove(fingerprint)
		e.log.Warn().Err(err).Str("fingerprint", fingerprint).Msg("dropping undecodable cache entry")
		return nil, false, nil
	}
	segments := make(map[types.SegmentKey]*types.Segment, len(payload))
	for _, p := range payload {
		seg := types.NewSegment(types.SegmentKey{From: p.From, To: p.To})
		for _, id := range p.PersonIDs {
			seg.Add(id)
		}
		segments[seg.Key] = seg
	}
	return segments, true, nil
}

// isTestAccount is the default internal-traffic predicate: distinct ids
// minted by test tooling carry a "test-" prefix.
func isTestAccount(distinctID string) bool {
	return strings.HasPrefix(distinctID, "test-")
}

// ErrInvalidFilter reports whether an error came from filter validation,
// for handlers mapping engine errors to status codes.
func ErrInvalidFilter(err error) bool {
	return trailerrors.GetCategory(err) == trailerrors.ErrCategoryValidation
}
