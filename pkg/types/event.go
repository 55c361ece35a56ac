// Package types provides core data types for Trailmap.
package types

// Event represents a single recorded product event.
type Event struct {
	// EventID is the ULID assigned at ingest (time-ordered, unique).
	// Events with equal timestamps keep their insertion order because
	// ULIDs within a millisecond are monotonically increasing.
	EventID []byte `json:"event_id"`

	// TeamID identifies the team (project) this event belongs to
	TeamID int64 `json:"team_id"`

	// DistinctID identifies the user who triggered the event
	DistinctID string `json:"distinct_id"`

	// Name is the event name (e.g., "step one", "$pageview")
	Name string `json:"name"`

	// Timestamp is the Unix timestamp (nanoseconds) when the event occurred
	Timestamp int64 `json:"timestamp"`

	// Properties contains the event-specific data, stored snappy-compressed
	Properties map[string]interface{} `json:"properties,omitempty"`
}
