package certificates

import (
	"context"
	"time"

	"locations-inside-prison/internal/locations"
	id "locations-inside-prison/pkg/domain"
	dErrors "locations-inside-prison/pkg/domain-errors"
)

// Builder issues certificates from the live location tree. It runs inside the
// caller's transaction so the snapshot, the demotion of the previous
// certificate and the approval that triggered it commit together.
type Builder struct {
	locations locations.Store
	store     Store
}

func NewBuilder(locationStore locations.Store, certStore Store) *Builder {
	return &Builder{locations: locationStore, store: certStore}
}

// BuildAndActivate snapshots the prison's accommodation, demotes the previous
// current certificate and saves the new one as current.
func (b *Builder) BuildAndActivate(ctx context.Context, prisonID, approvedBy string, at time.Time) (*CellCertificate, error) {
	locs, err := b.locations.FindAllByPrison(ctx, prisonID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load prison locations")
	}
	tree, err := locations.NewTree(prisonID, locs)
	if err != nil {
		return nil, err
	}

	nodes := Snapshot(tree)
	maxCap, workingCap, cna := Totals(nodes)
	cert := &CellCertificate{
		ID:                           id.NewCertificateID(),
		PrisonID:                     prisonID,
		ApprovedBy:                   approvedBy,
		ApprovedAt:                   at,
		Current:                      true,
		TotalMaxCapacity:             maxCap,
		TotalWorkingCapacity:         workingCap,
		CertifiedNormalAccommodation: cna,
		Locations:                    nodes,
	}

	if err := b.store.MarkNotCurrent(ctx, prisonID); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to demote current certificate")
	}
	if err := b.store.Save(ctx, cert); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to save certificate")
	}
	return cert, nil
}
