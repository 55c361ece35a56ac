package paths

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/trailmap/trailmap/internal/identity"
	"github.com/trailmap/trailmap/pkg/types"
)

// Resolver maps person ids from the aggregated graph into served person
// records. Lookups go to the live identity store on every call: the
// deleted flag is authoritative at read time, never at aggregation time,
// which is what keeps cached aggregations honest after deletions.
type Resolver struct {
	store identity.Store
	log   zerolog.Logger
}

// NewResolver creates a resolver over the given identity store.
func NewResolver(store identity.Store, log zerolog.Logger) *Resolver {
	return &Resolver{store: store, log: log.With().Str("component", "resolver").Logger()}
}

// ResolvePersons turns ordered person ids into display records. Deleted
// and missing persons are silently excluded; a person id whose lookup
// fails outright is logged and dropped rather than failing the page.
// Input ordering is preserved, so an ascending-id input yields an
// ascending-id page.
func (r *Resolver) ResolvePersons(ctx context.Context, personIDs []int64) ([]types.PersonRecord, error) {
	records := make([]types.PersonRecord, 0, len(personIDs))
	for _, id := range personIDs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		res, err := r.store.Lookup(ctx, id)
		if err != nil {
			r.log.Warn().Err(err).Int64("person_id", id).Msg("person lookup failed, dropping from page")
			continue
		}
		if res.Status != identity.StatusFound {
			continue
		}
		records = append(records, types.PersonRecord{
			ID:          res.Person.ID,
			Name:        res.Person.Name(),
			DistinctIDs: res.Person.DistinctIDs,
		})
	}
	return records, nil
}
