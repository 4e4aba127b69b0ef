package service

import (
	"context"

	"locations-inside-prison/internal/events"
	"locations-inside-prison/internal/locations"
	id "locations-inside-prison/pkg/domain"
	dErrors "locations-inside-prison/pkg/domain-errors"
)

// SetCapacityRequest changes a cell's capacity figures. CNA is optional and
// only moves when supplied.
type SetCapacityRequest struct {
	MaxCapacity                  int
	WorkingCapacity              int
	CertifiedNormalAccommodation *int
}

// SetCapacity changes a cell's capacity. In prisons where certification
// sign-off is required and the cell is certified, the change is staged as a
// pending change instead of applied; otherwise it takes effect immediately
// and the aggregates ripple up the tree.
func (s *Service) SetCapacity(ctx context.Context, locID id.LocationID, req SetCapacityRequest, actor string) (*locations.Location, error) {
	ctx, span := s.tracer.Start(ctx, "SetCapacity")
	defer span.End()

	at := s.now()
	var result *locations.Location
	var evts []events.Event
	var cascade int

	err := s.txr.InTx(ctx, func(ctx context.Context) error {
		tree, node, err := s.loadTreeFor(ctx, locID)
		if err != nil {
			return err
		}
		if !node.IsCell() {
			return dErrors.New(dErrors.CodeBadRequest, "capacity can only be set on cells")
		}
		if err := node.CheckCapacity(req.MaxCapacity, req.WorkingCapacity); err != nil {
			return err
		}
		if req.MaxCapacity < node.Capacity.MaxCapacity {
			if err := s.checkOccupancyFits(ctx, node, req.MaxCapacity); err != nil {
				return err
			}
		}

		staged, err := s.needsCertificationApproval(ctx, node)
		if err != nil {
			return err
		}
		if staged {
			if node.HasPendingApproval() {
				return dErrors.New(dErrors.CodeApprovalAlreadyPending, "an approval request is already pending for this cell")
			}
			if node.PendingChange == nil {
				node.PendingChange = &locations.PendingChange{}
			}
			maxCap, workingCap := req.MaxCapacity, req.WorkingCapacity
			node.PendingChange.MaxCapacity = &maxCap
			node.PendingChange.WorkingCapacity = &workingCap
			if req.CertifiedNormalAccommodation != nil {
				cna := *req.CertifiedNormalAccommodation
				node.PendingChange.CertifiedNormalAccommodation = &cna
			}
			node.UpdatedAt = at
			node.UpdatedBy = actor
			result = node
			return s.persist(ctx, nil, []*locations.Location{node}, id.NewTransactionID(), actor, at)
		}

		before := snapshotSubtree(tree, node.ID)
		workingChanged := node.Capacity.WorkingCapacity != req.WorkingCapacity
		node.Capacity = locations.Capacity{MaxCapacity: req.MaxCapacity, WorkingCapacity: req.WorkingCapacity}
		if req.CertifiedNormalAccommodation != nil {
			node.Certification.CertifiedNormalAccommodation = *req.CertifiedNormalAccommodation
		}
		node.UpdatedAt = at
		node.UpdatedBy = actor

		amended := tree.Recompute(node.ID)
		changed := append([]*locations.Location{node}, amended...)
		cascade = len(changed)
		if err := s.persist(ctx, before, changed, id.NewTransactionID(), actor, at); err != nil {
			return err
		}

		result = node
		for _, n := range changed {
			evts = append(evts, eventFor(events.TypeAmended, n, at))
		}
		if workingChanged {
			evts = append(evts, eventFor(events.TypeSignedOpCapAmended, node, at))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if s.metrics != nil && len(evts) > 0 {
		s.metrics.CapacityChanges.Inc()
	}
	s.observeCascade(cascade)
	s.publish(ctx, evts)
	return result, nil
}

// SetCellMark sets or stages a cell's mark.
func (s *Service) SetCellMark(ctx context.Context, locID id.LocationID, cellMark string, actor string) (*locations.Location, error) {
	ctx, span := s.tracer.Start(ctx, "SetCellMark")
	defer span.End()

	return s.updateCellAttribute(ctx, locID, actor,
		func(p *locations.PendingChange) { p.CellMark = &cellMark },
		func(node *locations.Location) bool {
			if node.CellMark == cellMark {
				return false
			}
			node.CellMark = cellMark
			return true
		})
}

// SetInCellSanitation sets or stages whether a cell has in-cell sanitation.
func (s *Service) SetInCellSanitation(ctx context.Context, locID id.LocationID, sanitation bool, actor string) (*locations.Location, error) {
	ctx, span := s.tracer.Start(ctx, "SetInCellSanitation")
	defer span.End()

	return s.updateCellAttribute(ctx, locID, actor,
		func(p *locations.PendingChange) { p.InCellSanitation = &sanitation },
		func(node *locations.Location) bool {
			if node.InCellSanitation != nil && *node.InCellSanitation == sanitation {
				return false
			}
			node.InCellSanitation = &sanitation
			return true
		})
}

// updateCellAttribute carries the shared staged-or-immediate split for
// leaf-only cell attributes. Leaf attributes never move the aggregates, so no
// recompute happens here.
func (s *Service) updateCellAttribute(
	ctx context.Context,
	locID id.LocationID,
	actor string,
	stage func(*locations.PendingChange),
	apply func(*locations.Location) bool,
) (*locations.Location, error) {
	at := s.now()
	var result *locations.Location
	var evts []events.Event

	err := s.txr.InTx(ctx, func(ctx context.Context) error {
		tree, node, err := s.loadTreeFor(ctx, locID)
		if err != nil {
			return err
		}
		if !node.IsCell() {
			return dErrors.New(dErrors.CodeBadRequest, "attribute applies to cells only")
		}

		staged, err := s.needsCertificationApproval(ctx, node)
		if err != nil {
			return err
		}
		if staged {
			if node.HasPendingApproval() {
				return dErrors.New(dErrors.CodeApprovalAlreadyPending, "an approval request is already pending for this cell")
			}
			if node.PendingChange == nil {
				node.PendingChange = &locations.PendingChange{}
			}
			stage(node.PendingChange)
			node.UpdatedAt = at
			node.UpdatedBy = actor
			result = node
			return s.persist(ctx, nil, []*locations.Location{node}, id.NewTransactionID(), actor, at)
		}

		before := snapshotSubtree(tree, node.ID)
		if !apply(node) {
			result = node
			return nil
		}
		node.UpdatedAt = at
		node.UpdatedBy = actor
		if err := s.persist(ctx, before, []*locations.Location{node}, id.NewTransactionID(), actor, at); err != nil {
			return err
		}
		result = node
		evts = append(evts, eventFor(events.TypeAmended, node, at))
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.publish(ctx, evts)
	return result, nil
}

// UpdateLocalName renames a location's display name.
func (s *Service) UpdateLocalName(ctx context.Context, locID id.LocationID, localName, actor string) (*locations.Location, error) {
	ctx, span := s.tracer.Start(ctx, "UpdateLocalName")
	defer span.End()

	at := s.now()
	var result *locations.Location
	var evts []events.Event

	err := s.txr.InTx(ctx, func(ctx context.Context) error {
		tree, node, err := s.loadTreeFor(ctx, locID)
		if err != nil {
			return err
		}
		if node.LocalName == localName {
			result = node
			return nil
		}
		before := snapshotSubtree(tree, node.ID)
		node.LocalName = localName
		node.UpdatedAt = at
		node.UpdatedBy = actor
		if err := s.persist(ctx, before, []*locations.Location{node}, id.NewTransactionID(), actor, at); err != nil {
			return err
		}
		result = node
		evts = append(evts, eventFor(events.TypeAmended, node, at))
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.publish(ctx, evts)
	return result, nil
}

// UpdateUsedFor replaces the used-for tags on a residential location and
// every residential descendant. Tags describe the whole subtree.
func (s *Service) UpdateUsedFor(ctx context.Context, locID id.LocationID, usedFor []locations.UsedForType, actor string) (*locations.Location, error) {
	ctx, span := s.tracer.Start(ctx, "UpdateUsedFor")
	defer span.End()

	at := s.now()
	var result *locations.Location
	var evts []events.Event

	err := s.txr.InTx(ctx, func(ctx context.Context) error {
		tree, node, err := s.loadTreeFor(ctx, locID)
		if err != nil {
			return err
		}
		if node.Kind() == locations.KindNonResidential {
			return dErrors.New(dErrors.CodeBadRequest, "used-for tags apply to residential locations only")
		}
		before := snapshotSubtree(tree, node.ID)
		var changed []*locations.Location
		for _, n := range tree.Subtree(node.ID) {
			if n.Kind() == locations.KindNonResidential {
				continue
			}
			n.UsedFor = append([]locations.UsedForType(nil), usedFor...)
			n.UpdatedAt = at
			n.UpdatedBy = actor
			changed = append(changed, n)
		}
		if err := s.persist(ctx, before, changed, id.NewTransactionID(), actor, at); err != nil {
			return err
		}
		result = node
		for _, n := range changed {
			evts = append(evts, eventFor(events.TypeAmended, n, at))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.publish(ctx, evts)
	return result, nil
}

// UpdateSpecialistCellTypes replaces a cell's specialist types. Removing the
// last specialist type from an active normal-accommodation cell with zero
// working capacity is rejected; the cell would fall below its minimum.
func (s *Service) UpdateSpecialistCellTypes(ctx context.Context, locID id.LocationID, types []locations.SpecialistCellType, actor string) (*locations.Location, error) {
	ctx, span := s.tracer.Start(ctx, "UpdateSpecialistCellTypes")
	defer span.End()

	at := s.now()
	var result *locations.Location
	var evts []events.Event

	err := s.txr.InTx(ctx, func(ctx context.Context) error {
		tree, node, err := s.loadTreeFor(ctx, locID)
		if err != nil {
			return err
		}
		if !node.IsCell() {
			return dErrors.New(dErrors.CodeBadRequest, "specialist cell types apply to cells only")
		}
		before := snapshotSubtree(tree, node.ID)
		node.SpecialistCellTypes = append([]locations.SpecialistCellType(nil), types...)
		if err := node.CheckCapacity(node.Capacity.MaxCapacity, node.Capacity.WorkingCapacity); err != nil {
			return err
		}
		node.UpdatedAt = at
		node.UpdatedBy = actor
		if err := s.persist(ctx, before, []*locations.Location{node}, id.NewTransactionID(), actor, at); err != nil {
			return err
		}
		result = node
		evts = append(evts, eventFor(events.TypeAmended, node, at))
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.publish(ctx, evts)
	return result, nil
}

// ConvertCellToNonResidential repurposes an empty cell as a non-residential
// room. The cell's capacity and certification drop to zero and the change
// ripples up the tree.
func (s *Service) ConvertCellToNonResidential(ctx context.Context, locID id.LocationID, converted locations.ConvertedCellType, actor string) (*locations.Location, error) {
	ctx, span := s.tracer.Start(ctx, "ConvertCellToNonResidential")
	defer span.End()

	at := s.now()
	var result *locations.Location
	var evts []events.Event
	var cascade int

	err := s.txr.InTx(ctx, func(ctx context.Context) error {
		tree, node, err := s.loadTreeFor(ctx, locID)
		if err != nil {
			return err
		}
		if !node.IsCell() {
			return dErrors.New(dErrors.CodeBadRequest, "only cells can be converted")
		}
		if err := s.checkOccupancyFits(ctx, node, 0); err != nil {
			return err
		}

		before := snapshotSubtree(tree, node.ID)
		node.ConvertedCellType = &converted
		node.Capacity = locations.Capacity{}
		node.Certification = locations.Certification{}
		node.UpdatedAt = at
		node.UpdatedBy = actor

		amended := tree.Recompute(node.ID)
		changed := append([]*locations.Location{node}, amended...)
		cascade = len(changed)
		if err := s.persist(ctx, before, changed, id.NewTransactionID(), actor, at); err != nil {
			return err
		}
		result = node
		for _, n := range changed {
			evts = append(evts, eventFor(events.TypeAmended, n, at))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.observeCascade(cascade)
	s.publish(ctx, evts)
	return result, nil
}

// ConvertToCellRequest restores a converted cell to residential use.
type ConvertToCellRequest struct {
	AccommodationType            locations.AccommodationType
	SpecialistCellTypes          []locations.SpecialistCellType
	MaxCapacity                  int
	WorkingCapacity              int
	CertifiedNormalAccommodation *int
}

// ConvertToCell reverses a non-residential conversion.
func (s *Service) ConvertToCell(ctx context.Context, locID id.LocationID, req ConvertToCellRequest, actor string) (*locations.Location, error) {
	ctx, span := s.tracer.Start(ctx, "ConvertToCell")
	defer span.End()

	at := s.now()
	var result *locations.Location
	var evts []events.Event
	var cascade int

	err := s.txr.InTx(ctx, func(ctx context.Context) error {
		tree, node, err := s.loadTreeFor(ctx, locID)
		if err != nil {
			return err
		}
		if node.ConvertedCellType == nil {
			return dErrors.New(dErrors.CodeBadRequest, "location is not a converted cell")
		}

		before := snapshotSubtree(tree, node.ID)
		node.ConvertedCellType = nil
		node.AccommodationType = req.AccommodationType
		node.SpecialistCellTypes = append([]locations.SpecialistCellType(nil), req.SpecialistCellTypes...)
		if err := node.CheckCapacity(req.MaxCapacity, req.WorkingCapacity); err != nil {
			return err
		}
		node.Capacity = locations.Capacity{MaxCapacity: req.MaxCapacity, WorkingCapacity: req.WorkingCapacity}
		if req.CertifiedNormalAccommodation != nil {
			node.Certification.CertifiedNormalAccommodation = *req.CertifiedNormalAccommodation
		}
		node.UpdatedAt = at
		node.UpdatedBy = actor

		amended := tree.Recompute(node.ID)
		changed := append([]*locations.Location{node}, amended...)
		cascade = len(changed)
		if err := s.persist(ctx, before, changed, id.NewTransactionID(), actor, at); err != nil {
			return err
		}
		result = node
		for _, n := range changed {
			evts = append(evts, eventFor(events.TypeAmended, n, at))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.observeCascade(cascade)
	s.publish(ctx, evts)
	return result, nil
}

// needsCertificationApproval reports whether an edit to this cell has to go
// through the pending-change workflow.
func (s *Service) needsCertificationApproval(ctx context.Context, node *locations.Location) (bool, error) {
	if !node.Certification.Certified {
		return false, nil
	}
	required, err := s.prisons.CertificationRequired(ctx, node.PrisonID)
	if err != nil {
		return false, dErrors.Wrap(err, dErrors.CodeInternal, "failed to resolve prison certification settings")
	}
	return required, nil
}

// checkOccupancyFits rejects a capacity target below the cell's current
// occupancy.
func (s *Service) checkOccupancyFits(ctx context.Context, node *locations.Location, targetMax int) error {
	counts, err := s.occupancy.SearchByPathHierarchies(ctx, node.PrisonID, []string{node.PathHierarchy})
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to check occupancy")
	}
	if occupants := counts[node.PathHierarchy]; occupants > targetMax {
		return dErrors.Newf(dErrors.CodeMaxBelowOccupancy,
			"%d prisoner(s) currently occupy %s; capacity cannot drop below occupancy", occupants, node.PathHierarchy)
	}
	return nil
}
