package http

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/trailmap/trailmap/internal/eventstore"
	"github.com/trailmap/trailmap/pkg/types"
)

// IngestRequest represents a batch event capture request.
type IngestRequest struct {
	TeamID int64         `json:"team_id"`
	Events []IngestEvent `json:"events"`
}

// IngestEvent is one captured event on the wire. Timestamp is RFC 3339;
// an empty one means "now".
type IngestEvent struct {
	DistinctID string                 `json:"distinct_id"`
	Event      string                 `json:"event"`
	Timestamp  string                 `json:"timestamp,omitempty"`
	Properties map[string]interface{} `json:"properties,omitempty"`
}

// IngestResponse represents the ingest response.
type IngestResponse struct {
	LSN        uint64 `json:"lsn"`
	EventCount int    `json:"event_count"`
	RequestID  string `json:"request_id"`
}

// IngestHandler handles POST /v1/events requests.
type IngestHandler struct {
	ingestor *eventstore.Ingestor
}

// NewIngestHandler creates a new ingest handler.
func NewIngestHandler(ingestor *eventstore.Ingestor) *IngestHandler {
	return &IngestHandler{ingestor: ingestor}
}

// ServeHTTP handles the ingest HTTP request.
func (h *IngestHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	requestID := GetRequestID(r.Context())

	var req IngestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err), "", requestID)
		return
	}
	if req.TeamID < 1 {
		writeError(w, http.StatusBadRequest, "team_id is required", "", requestID)
		return
	}
	if len(req.Events) == 0 {
		writeError(w, http.StatusBadRequest, "events must not be empty", "", requestID)
		return
	}

	events := make([]types.Event, 0, len(req.Events))
	for i, in := range req.Events {
		if in.DistinctID == "" || in.Event == "" {
			writeError(w, http.StatusBadRequest,
				fmt.Sprintf("event %d: distinct_id and event are required", i), "", requestID)
			return
		}
		ts := time.Now()
		if in.Timestamp != "" {
			parsed, err := time.Parse(time.RFC3339, in.Timestamp)
			if err != nil {
				writeError(w, http.StatusBadRequest,
					fmt.Sprintf("event %d: invalid timestamp: %v", i, err), "", requestID)
				return
			}
			ts = parsed
		}
		events = append(events, types.Event{
			TeamID:     req.TeamID,
			DistinctID: in.DistinctID,
			Name:       in.Event,
			Timestamp:  ts.UnixNano(),
			Properties: in.Properties,
		})
	}

	lsn, err := h.ingestor.Ingest(r.Context(), events)
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("ingest failed: %v", err), "", requestID)
		return
	}

	writeJSON(w, http.StatusCreated, IngestResponse{
		LSN:        lsn,
		EventCount: len(events),
		RequestID:  requestID,
	})
}
