package http

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	trailerrors "github.com/trailmap/trailmap/internal/errors"
	"github.com/trailmap/trailmap/internal/observability"
	"github.com/trailmap/trailmap/internal/paths"
	"github.com/trailmap/trailmap/pkg/types"
)

// PathsResult is one entry of the results list: the page of persons
// traversing the scoped segments plus the live total.
type PathsResult struct {
	People []types.PersonRecord `json:"people"`
	Count  int                  `json:"count"`
}

// PathsResponse represents the paths query response. Next carries the
// URL of the following page and is null on the last one.
type PathsResponse struct {
	Results   []PathsResult          `json:"results"`
	Segments  []paths.SegmentSummary `json:"segments"`
	Next      *string                `json:"next"`
	RequestID string                 `json:"request_id"`
}

// PathsHandler handles GET /api/person/path/ requests.
type PathsHandler struct {
	engine *paths.Engine
	stats  *observability.PathStats
}

// NewPathsHandler creates a new paths handler.
func NewPathsHandler(engine *paths.Engine, stats *observability.PathStats) *PathsHandler {
	return &PathsHandler{engine: engine, stats: stats}
}

// ServeHTTP handles the paths HTTP request.
func (h *PathsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	requestID := GetRequestID(r.Context())

	filter, err := parsePathsFilter(r.URL.Query())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), trailerrors.CodeInvalidFilter, requestID)
		return
	}

	start := time.Now()
	result, err := h.engine.QueryPaths(r.Context(), filter)
	if err != nil {
		status := http.StatusInternalServerError
		if paths.ErrInvalidFilter(err) {
			status = http.StatusBadRequest
		} else if trailerrors.IsRetryable(err) {
			status = http.StatusServiceUnavailable
		}
		writeError(w, status, err.Error(), trailerrors.GetCode(err), requestID)
		return
	}

	if h.stats != nil {
		h.stats.RecordQuery(filter.Fingerprint(), result.CacheHit, time.Since(start))
		h.stats.RecordStartKey(filter.PathStartKey)
		h.stats.RecordStartKey(filter.StartPoint)
	}

	people := result.People
	if people == nil {
		people = []types.PersonRecord{}
	}
	resp := PathsResponse{
		Results:   []PathsResult{{People: people, Count: result.Count}},
		Segments:  result.Segments,
		RequestID: requestID,
	}
	if result.NextOffset != nil {
		next := nextPageURL(r.URL, *result.NextOffset)
		resp.Next = &next
	}
	writeJSON(w, http.StatusOK, resp)
}

// parsePathsFilter builds the engine filter from query parameters.
func parsePathsFilter(params url.Values) (*paths.Filter, error) {
	filter := &paths.Filter{
		PathStartKey: params.Get("path_start_key"),
		StartPoint:   params.Get("start_point"),
	}

	teamID, err := strconv.ParseInt(params.Get("team_id"), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("team_id is required and must be an integer")
	}
	filter.TeamID = teamID

	filter.DateFrom, err = parseDate(params.Get("date_from"), false)
	if err != nil {
		return nil, fmt.Errorf("invalid date_from: %w", err)
	}
	filter.DateTo, err = parseDate(params.Get("date_to"), true)
	if err != nil {
		return nil, fmt.Errorf("invalid date_to: %w", err)
	}

	if raw := params.Get("allowed_events"); raw != "" {
		for _, name := range strings.Split(raw, ",") {
			if name = strings.TrimSpace(name); name != "" {
				filter.AllowedEvents = append(filter.AllowedEvents, name)
			}
		}
	}
	if params.Get("filter_test_accounts") == "true" {
		filter.FilterTestAccounts = true
	}

	if raw := params.Get("limit"); raw != "" {
		if filter.Limit, err = strconv.Atoi(raw); err != nil {
			return nil, fmt.Errorf("limit must be an integer")
		}
	}
	if raw := params.Get("offset"); raw != "" {
		if filter.Offset, err = strconv.Atoi(raw); err != nil {
			return nil, fmt.Errorf("offset must be an integer")
		}
	}
	return filter, nil
}

// parseDate accepts RFC 3339 timestamps and bare dates. A bare date_to
// covers the whole day.
func parseDate(raw string, endOfDay bool) (time.Time, error) {
	if raw == "" {
		return time.Time{}, fmt.Errorf("missing")
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	t, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return time.Time{}, err
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	return t, nil
}

// nextPageURL rewrites the request URL with the next page's offset.
func nextPageURL(u *url.URL, offset int) string {
	next := *u
	q := next.Query()
	q.Set("offset", strconv.Itoa(offset))
	next.RawQuery = q.Encode()
	return next.String()
}
