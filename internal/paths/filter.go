// Package paths implements the path analytics engine: it turns a window
// of raw events into position-labeled step sequences, aggregates those
// into a directed segment graph keyed by distinct traversing persons,
// scopes the graph by start keys, resolves person ids against the live
// identity store, and serves paginated, cacheable results.
package paths

import (
	"encoding/binary"
	"fmt"
	"sort"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/spaolacci/murmur3"

	trailerrors "github.com/trailmap/trailmap/internal/errors"
	"github.com/trailmap/trailmap/pkg/types"
)

// Filter is the canonical description of a paths query. All scoping the
// engine performs is driven from here; handlers build a Filter and never
// touch the aggregation internals directly.
type Filter struct {
	// TeamID scopes the query to one tenant
	TeamID int64 `json:"team_id"`

	// DateFrom and DateTo bound the event window, inclusive on both ends
	DateFrom time.Time `json:"date_from"`
	DateTo   time.Time `json:"date_to"`

	// PathStartKey scopes the graph to segments reachable from an exact
	// step label, e.g. "2_step two". When set it takes precedence over
	// StartPoint.
	PathStartKey string `json:"path_start_key,omitempty"`

	// StartPoint scopes each person's sequence to begin at the first
	// occurrence of this event name, renumbering positions from 1.
	StartPoint string `json:"start_point,omitempty"`

	// AllowedEvents restricts the window scan to these event names.
	// Empty means all events.
	AllowedEvents []string `json:"allowed_events,omitempty"`

	// FilterTestAccounts drops events whose distinct id matches the
	// team's internal-account patterns before sequences are built.
	FilterTestAccounts bool `json:"filter_test_accounts,omitempty"`

	// Limit and Offset paginate the person list of each served segment.
	// Zero Limit means the configured default page size. They never
	// participate in the cache fingerprint.
	Limit  int `json:"limit,omitempty"`
	Offset int `json:"offset,omitempty"`
}

// Validate checks the filter for internal consistency. It is called once
// at the top of every query; nothing downstream re-validates.
func (f *Filter) Validate() error {
	err := validation.ValidateStruct(f,
		validation.Field(&f.TeamID, validation.Required, validation.Min(int64(1))),
		validation.Field(&f.DateFrom, validation.Required),
		validation.Field(&f.DateTo, validation.Required),
		validation.Field(&f.Limit, validation.Min(0)),
		validation.Field(&f.Offset, validation.Min(0)),
	)
	if err != nil {
		return trailerrors.NewValidationError(trailerrors.CodeInvalidFilter, err.Error())
	}
	if f.DateTo.Before(f.DateFrom) {
		return trailerrors.NewValidationError(trailerrors.CodeInvalidDateRange,
			fmt.Sprintf("date_to %s precedes date_from %s",
				f.DateTo.Format(time.RFC3339), f.DateFrom.Format(time.RFC3339)))
	}
	if f.PathStartKey != "" {
		if _, _, ok := types.SplitStepLabel(f.PathStartKey); !ok {
			return trailerrors.NewValidationError(trailerrors.CodeUnknownStartKey,
				fmt.Sprintf("path_start_key %q is not a step label", f.PathStartKey))
		}
	}
	return nil
}

// Fingerprint returns a stable 128-bit hash of every field that changes
// the aggregated graph. Limit and Offset are excluded so all pages of
// one query share a cache entry. Two filters with the same fingerprint
// always produce the same segment map.
func (f *Filter) Fingerprint() string {
	h := murmur3.New128()
	var buf [8]byte

	binary.LittleEndian.PutUint64(buf[:], uint64(f.TeamID))
	h.Write(buf[:])
	binary.LittleEndian.PutUint64(buf[:], uint64(f.DateFrom.UnixNano()))
	h.Write(buf[:])
	binary.LittleEndian.PutUint64(buf[:], uint64(f.DateTo.UnixNano()))
	h.Write(buf[:])

	writeString(h, f.PathStartKey)
	writeString(h, f.StartPoint)

	// Allowed events hash as a sorted set: order in the request must not
	// split the cache.
	allowed := make([]string, len(f.AllowedEvents))
	copy(allowed, f.AllowedEvents)
	sort.Strings(allowed)
	binary.LittleEndian.PutUint64(buf[:], uint64(len(allowed)))
	h.Write(buf[:])
	for _, name := range allowed {
		writeString(h, name)
	}

	if f.FilterTestAccounts {
		h.Write([]byte{1})
	} else {
		h.Write([]byte{0})
	}

	h1, h2 := h.Sum128()
	return fmt.Sprintf("%016x%016x", h1, h2)
}

// writeString length-prefixes the string so adjacent fields can never
// collide by concatenation.
func writeString(h murmur3.Hash128, s string) {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(len(s)))
	h.Write(buf[:])
	h.Write([]byte(s))
}
