// Package identity provides the person store: distinct-id resolution,
// person records, and soft deletion with invalidation hooks.
package identity

import "github.com/trailmap/trailmap/pkg/types"

// Status is the outcome of a person lookup. Deleted and missing persons
// are ordinary outcomes here, not errors: the resolver downstream decides
// what to do with them.
type Status int

const (
	StatusFound Status = iota
	StatusDeleted
	StatusNotFound
)

// String returns the status name for logs.
func (s Status) String() string {
	switch s {
	case StatusFound:
		return "found"
	case StatusDeleted:
		return "deleted"
	case StatusNotFound:
		return "not_found"
	default:
		return "unknown"
	}
}

// Resolution is the result of a person lookup. Person is populated only
// when Status is StatusFound.
type Resolution struct {
	Status Status
	Person *types.Person
}
