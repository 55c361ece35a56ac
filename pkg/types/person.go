package types

// Person is a resolved identity owned by the identity store. The path
// engine treats it as read-only.
type Person struct {
	// ID is the numeric primary key assigned by the identity store
	ID int64 `json:"id"`

	// UUID is the stable external identifier
	UUID string `json:"uuid"`

	// DistinctIDs are the distinct ids merged into this person
	DistinctIDs []string `json:"distinct_ids"`

	// Deleted marks a soft-deleted person. Deleted persons never appear
	// in served results; the flag is re-checked at resolution time.
	Deleted bool `json:"deleted"`
}

// Name returns the display name for the person: the lexicographically
// smallest distinct id, or the UUID if no distinct ids exist.
func (p *Person) Name() string {
	if len(p.DistinctIDs) == 0 {
		return p.UUID
	}
	name := p.DistinctIDs[0]
	for _, d := range p.DistinctIDs[1:] {
		if d < name {
			name = d
		}
	}
	return name
}

// PersonRecord is the served shape of a person in a paths response.
type PersonRecord struct {
	ID          int64    `json:"id"`
	Name        string   `json:"name"`
	DistinctIDs []string `json:"distinct_ids"`
}
