package paths

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/trailmap/trailmap/internal/cache"
	trailerrors "github.com/trailmap/trailmap/internal/errors"
	"github.com/trailmap/trailmap/internal/identity"
	"github.com/trailmap/trailmap/pkg/types"
)

// fakeScanner serves a fixed per-distinct-id event map and counts scans
// so tests can assert cache hits.
type fakeScanner struct {
	events map[string][]types.Event
	scans  int
}

func (f *fakeScanner) ScanWindow(_ context.Context, _ int64, _, _ time.Time, allowed []string) (map[string][]types.Event, error) {
	f.scans++
	out := make(map[string][]types.Event, len(f.events))
	for distinctID, events := range f.events {
		kept := make([]types.Event, 0, len(events))
		for _, ev := range events {
			if len(allowed) > 0 && !contains(allowed, ev.Name) {
				continue
			}
			kept = append(kept, ev)
		}
		if len(kept) > 0 {
			out[distinctID] = kept
		}
	}
	return out, nil
}

func contains(names []string, name string) bool {
	for _, n := range names {
		if n == name {
			return true
		}
	}
	return false
}

// fakeIdentities is an in-memory identity store with soft deletion.
type fakeIdentities struct {
	byDistinct map[string]int64
	persons    map[int64]*types.Person
}

func newFakeIdentities() *fakeIdentities {
	return &fakeIdentities{
		byDistinct: make(map[string]int64),
		persons:    make(map[int64]*types.Person),
	}
}

func (f *fakeIdentities) addPerson(id int64, distinctIDs ...string) {
	f.persons[id] = &types.Person{
		ID:          id,
		UUID:        fmt.Sprintf("uuid-%d", id),
		DistinctIDs: distinctIDs,
	}
	for _, d := range distinctIDs {
		f.byDistinct[d] = id
	}
}

func (f *fakeIdentities) deletePerson(id int64) {
	if p, ok := f.persons[id]; ok {
		p.Deleted = true
	}
}

func (f *fakeIdentities) Resolve(_ context.Context, _ int64, distinctID string) (int64, error) {
	id, ok := f.byDistinct[distinctID]
	if !ok {
		return 0, trailerrors.NewIdentityError(trailerrors.CodePersonNotFound,
			fmt.Sprintf("no person for distinct id %q", distinctID), nil)
	}
	return id, nil
}

func (f *fakeIdentities) Lookup(_ context.Context, personID int64) (identity.Resolution, error) {
	p, ok := f.persons[personID]
	if !ok {
		return identity.Resolution{Status: identity.StatusNotFound}, nil
	}
	if p.Deleted {
		return identity.Resolution{Status: identity.StatusDeleted}, nil
	}
	return identity.Resolution{Status: identity.StatusFound, Person: p}, nil
}

// stepFixture populates n persons walking "step one" then, for odd ids,
// "step two", then "step three".
func stepFixture(n int) (*fakeScanner, *fakeIdentities) {
	scanner := &fakeScanner{events: make(map[string][]types.Event)}
	ids := newFakeIdentities()
	base := time.Date(2021, 5, 1, 0, 0, 0, 0, time.UTC).UnixNano()
	for i := 1; i <= n; i++ {
		distinctID := fmt.Sprintf("person_%d", i)
		ids.addPerson(int64(i), distinctID)
		names := []string{"step one", "step three"}
		if i%2 == 1 {
			names = []string{"step one", "step two", "step three"}
		}
		events := make([]types.Event, len(names))
		for j, name := range names {
			events[j] = types.Event{
				EventID:    []byte{byte(i), byte(j)},
				TeamID:     1,
				DistinctID: distinctID,
				Name:       name,
				Timestamp:  base + int64(j)*int64(time.Minute),
			}
		}
		scanner.events[distinctID] = events
	}
	return scanner, ids
}

func newTestEngine(scanner *fakeScanner, ids *fakeIdentities, opts ...Option) *Engine {
	return NewEngine(scanner, ids, 4, zerolog.Nop(), opts...)
}

func queryFilter() *Filter {
	return &Filter{
		TeamID:   1,
		DateFrom: time.Date(2021, 5, 1, 0, 0, 0, 0, time.UTC),
		DateTo:   time.Date(2021, 5, 7, 23, 59, 59, 0, time.UTC),
	}
}

func TestQueryPathsBasic(t *testing.T) {
	scanner, ids := stepFixture(5)
	engine := newTestEngine(scanner, ids)

	result, err := engine.QueryPaths(context.Background(), queryFilter())
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if result.Count != 5 {
		t.Fatalf("expected 5 persons, got %d", result.Count)
	}
	if len(result.People) != 5 {
		t.Fatalf("expected full page of 5, got %d", len(result.People))
	}
	if result.NextOffset != nil {
		t.Errorf("expected no next page, got offset %d", *result.NextOffset)
	}
	for i, rec := range result.People {
		if rec.ID != int64(i+1) {
			t.Errorf("person %d out of order: id %d", i, rec.ID)
		}
		if rec.Name != fmt.Sprintf("person_%d", i+1) {
			t.Errorf("person %d: unexpected name %q", i, rec.Name)
		}
	}

	// The origin edge carries the whole cohort.
	for _, seg := range result.Segments {
		if seg.From == types.PathOrigin && seg.To == "1_step one" && seg.Count != 5 {
			t.Errorf("origin edge count %d, expected 5", seg.Count)
		}
	}
}

func TestQueryPathsStartKey(t *testing.T) {
	scanner, ids := stepFixture(5)
	engine := newTestEngine(scanner, ids)

	filter := queryFilter()
	filter.PathStartKey = "2_step two"
	result, err := engine.QueryPaths(context.Background(), filter)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	// Odd ids walked step two: 1, 3, 5.
	if result.Count != 3 {
		t.Fatalf("expected 3 persons through 2_step two, got %d", result.Count)
	}
	want := []int64{1, 3, 5}
	for i, rec := range result.People {
		if rec.ID != want[i] {
			t.Errorf("expected ids %v, got %d at %d", want, rec.ID, i)
		}
	}
}

func TestQueryPathsStartPointRescopes(t *testing.T) {
	scanner, ids := stepFixture(7)
	engine := newTestEngine(scanner, ids)

	filter := queryFilter()
	filter.StartPoint = "step two"
	filter.PathStartKey = "1_step two"
	result, err := engine.QueryPaths(context.Background(), filter)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	// Odd ids fired step two: 1, 3, 5, 7. Their rescoped walks begin at
	// "1_step two", so the exact key matches all of them.
	if result.Count != 4 {
		t.Fatalf("expected 4 persons, got %d", result.Count)
	}
	for _, seg := range result.Segments {
		if seg.From != "1_step two" {
			t.Errorf("unexpected segment from %q", seg.From)
		}
	}
}

func TestQueryPathsPagination(t *testing.T) {
	scanner, ids := stepFixture(20)
	engine := newTestEngine(scanner, ids)

	filter := queryFilter()
	filter.Limit = 15
	page1, err := engine.QueryPaths(context.Background(), filter)
	if err != nil {
		t.Fatalf("page 1: %v", err)
	}
	if len(page1.People) != 15 {
		t.Fatalf("expected 15 on page 1, got %d", len(page1.People))
	}
	if page1.NextOffset == nil || *page1.NextOffset != 15 {
		t.Fatalf("expected next offset 15, got %v", page1.NextOffset)
	}
	if page1.Count != 20 {
		t.Errorf("expected total 20, got %d", page1.Count)
	}

	filter.Offset = *page1.NextOffset
	page2, err := engine.QueryPaths(context.Background(), filter)
	if err != nil {
		t.Fatalf("page 2: %v", err)
	}
	if len(page2.People) != 5 {
		t.Fatalf("expected 5 on page 2, got %d", len(page2.People))
	}
	if page2.NextOffset != nil {
		t.Errorf("expected no next after the last page")
	}

	seen := make(map[int64]struct{})
	for _, rec := range append(page1.People, page2.People...) {
		if _, dup := seen[rec.ID]; dup {
			t.Errorf("person %d served twice", rec.ID)
		}
		seen[rec.ID] = struct{}{}
	}
	if len(seen) != 20 {
		t.Errorf("expected 20 distinct persons across pages, got %d", len(seen))
	}
}

func TestQueryPathsAllDeleted(t *testing.T) {
	scanner, ids := stepFixture(3)
	engine := newTestEngine(scanner, ids)
	for i := int64(1); i <= 3; i++ {
		ids.deletePerson(i)
	}

	result, err := engine.QueryPaths(context.Background(), queryFilter())
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(result.People) != 0 || result.Count != 0 {
		t.Errorf("expected empty result, got %d people count %d", len(result.People), result.Count)
	}
	if result.NextOffset != nil {
		t.Errorf("expected nil next for an empty result")
	}
	if len(result.Segments) != 0 {
		t.Errorf("fully deleted segments must not be served, got %d", len(result.Segments))
	}
}

func TestQueryPathsCacheHitStaysLive(t *testing.T) {
	scanner, ids := stepFixture(4)
	c := cache.NewResultCache(1 << 20)
	engine := newTestEngine(scanner, ids, WithCache(c))

	first, err := engine.QueryPaths(context.Background(), queryFilter())
	if err != nil {
		t.Fatalf("first query: %v", err)
	}
	if first.Count != 4 || scanner.scans != 1 {
		t.Fatalf("expected one scan serving 4 persons, got count %d scans %d", first.Count, scanner.scans)
	}

	// Deletion between pages: the cached aggregation is reused but the
	// deleted person vanishes from the served page and count.
	ids.deletePerson(2)
	second, err := engine.QueryPaths(context.Background(), queryFilter())
	if err != nil {
		t.Fatalf("second query: %v", err)
	}
	if scanner.scans != 1 {
		t.Fatalf("expected cache hit, got %d scans", scanner.scans)
	}
	if second.Count != 3 {
		t.Fatalf("expected live count 3 after deletion, got %d", second.Count)
	}
	for _, rec := range second.People {
		if rec.ID == 2 {
			t.Error("deleted person served from cache")
		}
	}
}

func TestQueryPathsUnresolvedDistinctIDDropped(t *testing.T) {
	scanner, ids := stepFixture(2)
	scanner.events["ghost"] = []types.Event{{Name: "step one", Timestamp: 1}}
	engine := newTestEngine(scanner, ids)

	result, err := engine.QueryPaths(context.Background(), queryFilter())
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if result.Count != 2 {
		t.Errorf("unresolved distinct id must not surface, got count %d", result.Count)
	}
}

func TestQueryPathsFiltersTestAccounts(t *testing.T) {
	scanner, ids := stepFixture(2)
	ids.addPerson(99, "test-runner")
	scanner.events["test-runner"] = []types.Event{{Name: "step one", Timestamp: 1}}

	engine := newTestEngine(scanner, ids)
	filter := queryFilter()
	filter.FilterTestAccounts = true
	result, err := engine.QueryPaths(context.Background(), filter)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if result.Count != 2 {
		t.Errorf("expected test account dropped, got count %d", result.Count)
	}
}

func TestQueryPathsRejectsInvalidFilter(t *testing.T) {
	scanner, ids := stepFixture(1)
	engine := newTestEngine(scanner, ids)

	filter := queryFilter()
	filter.TeamID = 0
	if _, err := engine.QueryPaths(context.Background(), filter); err == nil {
		t.Fatal("expected validation error")
	} else if !ErrInvalidFilter(err) {
		t.Fatalf("expected a validation category error, got %v", err)
	}
	if scanner.scans != 0 {
		t.Errorf("invalid filter must not reach the scanner")
	}
}

func TestQueryPathsOffsetPastEnd(t *testing.T) {
	scanner, ids := stepFixture(2)
	engine := newTestEngine(scanner, ids)

	filter := queryFilter()
	filter.Offset = 10
	result, err := engine.QueryPaths(context.Background(), filter)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(result.People) != 0 || result.NextOffset != nil {
		t.Errorf("offset past the end must serve an empty final page")
	}
}
