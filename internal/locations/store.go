package locations

import (
	"context"

	id "locations-inside-prison/pkg/domain"
)

// Store is the persistence contract for location nodes and their history.
// Implementations return sentinel errors for infrastructure facts; services
// translate those into coded domain errors.
type Store interface {
	FindByID(ctx context.Context, locID id.LocationID) (*Location, error)
	// FindByKey looks a location up by prisonId + pathHierarchy.
	FindByKey(ctx context.Context, prisonID, pathHierarchy string) (*Location, error)
	// FindAllByPrison returns every location in the prison, drafts included.
	FindAllByPrison(ctx context.Context, prisonID string) ([]*Location, error)
	// Save upserts the given locations as one batch.
	Save(ctx context.Context, locs ...*Location) error
	// Delete removes locations permanently. Only DRAFT subtrees are ever
	// deleted; the service enforces that rule.
	Delete(ctx context.Context, locIDs ...id.LocationID) error

	AppendHistory(ctx context.Context, records ...ChangeRecord) error
	HistoryForLocation(ctx context.Context, locID id.LocationID) ([]ChangeRecord, error)
}
