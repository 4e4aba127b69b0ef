package service

import (
	"context"

	"golang.org/x/sync/errgroup"

	"locations-inside-prison/internal/events"
	"locations-inside-prison/internal/locations"
	id "locations-inside-prison/pkg/domain"
	dErrors "locations-inside-prison/pkg/domain-errors"
)

// Deactivate takes a location out of use. The cascade reaches every
// descendant; occupied cells anywhere in the subtree veto the whole
// operation before anything mutates. In prisons requiring certification
// sign-off the deactivation of certified accommodation is staged for
// approval instead of applied.
func (s *Service) Deactivate(ctx context.Context, locID id.LocationID, details locations.DeactivationDetails, actor string) (*locations.Location, error) {
	ctx, span := s.tracer.Start(ctx, "Deactivate")
	defer span.End()

	if err := details.Validate(); err != nil {
		return nil, err
	}

	at := s.now()
	var result *locations.Location
	var evts []events.Event
	var cascade int
	deactivated := false

	err := s.txr.InTx(ctx, func(ctx context.Context) error {
		tree, node, err := s.loadTreeFor(ctx, locID)
		if err != nil {
			return err
		}
		if err := s.checkSubtreeUnoccupied(ctx, tree, node.ID); err != nil {
			return err
		}

		staged, err := s.deactivationNeedsApproval(ctx, tree, node)
		if err != nil {
			return err
		}
		if staged {
			if node.HasPendingApproval() {
				return dErrors.New(dErrors.CodeApprovalAlreadyPending, "an approval request is already pending for this location")
			}
			if node.PendingChange == nil {
				node.PendingChange = &locations.PendingChange{}
			}
			pending := details
			node.PendingChange.Deactivation = &pending
			node.UpdatedAt = at
			node.UpdatedBy = actor
			result = node
			return s.persist(ctx, nil, []*locations.Location{node}, id.NewTransactionID(), actor, at)
		}

		before := snapshotSubtree(tree, node.ID)
		outcome, err := tree.Deactivate(node.ID, details, actor, at)
		if err != nil {
			return err
		}
		cascade = len(outcome.StatusChanged)
		if err := s.persist(ctx, before, outcome.All(), id.NewTransactionID(), actor, at); err != nil {
			return err
		}

		result = node
		deactivated = true
		for _, n := range outcome.StatusChanged {
			evts = append(evts, eventFor(events.TypeDeactivated, n, at))
		}
		for _, n := range outcome.AggregatesAmended {
			evts = append(evts, eventFor(events.TypeAmended, n, at))
		}
		evts = append(evts, eventFor(events.TypeSignedOpCapAmended, node, at))
		return nil
	})
	if err != nil {
		return nil, err
	}

	if deactivated {
		if s.metrics != nil {
			s.metrics.LocationsDeactivated.Inc()
		}
		s.observeCascade(cascade)
	}
	s.publish(ctx, evts)
	return result, nil
}

// Reactivate puts an inactive location back into use, restoring the working
// capacity it held when deactivated unless an override is given. With
// cascade, descendants deactivated by the same chain come back too.
func (s *Service) Reactivate(ctx context.Context, locID id.LocationID, override *locations.Capacity, cascade bool, actor string) (*locations.Location, error) {
	ctx, span := s.tracer.Start(ctx, "Reactivate")
	defer span.End()

	at := s.now()
	var result *locations.Location
	var evts []events.Event
	var size int

	err := s.txr.InTx(ctx, func(ctx context.Context) error {
		tree, node, err := s.loadTreeFor(ctx, locID)
		if err != nil {
			return err
		}

		before := snapshotSubtree(tree, node.ID)
		outcome, err := tree.Reactivate(node.ID, override, cascade, actor, at)
		if err != nil {
			return err
		}
		size = len(outcome.StatusChanged)
		if err := s.persist(ctx, before, outcome.All(), id.NewTransactionID(), actor, at); err != nil {
			return err
		}

		result = node
		for _, n := range outcome.StatusChanged {
			evts = append(evts, eventFor(events.TypeReactivated, n, at))
		}
		for _, n := range outcome.AggregatesAmended {
			evts = append(evts, eventFor(events.TypeAmended, n, at))
		}
		evts = append(evts, eventFor(events.TypeSignedOpCapAmended, node, at))
		return nil
	})
	if err != nil {
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.LocationsReactivated.Inc()
	}
	s.observeCascade(size)
	s.publish(ctx, evts)
	return result, nil
}

// BulkDeactivationItem is one location in a bulk deactivation.
type BulkDeactivationItem struct {
	LocationID id.LocationID
	Details    locations.DeactivationDetails
}

// BulkDeactivate deactivates several locations of one prison atomically.
// Every item is validated up front; any occupied subtree or invalid item
// aborts the whole batch and nothing changes.
func (s *Service) BulkDeactivate(ctx context.Context, prisonID string, items []BulkDeactivationItem, actor string) ([]*locations.Location, error) {
	ctx, span := s.tracer.Start(ctx, "BulkDeactivate")
	defer span.End()

	if len(items) == 0 {
		return nil, dErrors.New(dErrors.CodeBadRequest, "no locations given")
	}
	for _, item := range items {
		if err := item.Details.Validate(); err != nil {
			return nil, err
		}
	}

	// Occupancy and the certification flag come from other systems; fetch
	// them concurrently before opening the transaction.
	var (
		counts              map[string]int
		certificationNeeded bool
	)
	pretree, err := s.loadTree(ctx, prisonID)
	if err != nil {
		return nil, err
	}
	paths := bulkLeafPaths(pretree, items)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		counts, err = s.occupancy.SearchByPathHierarchies(gctx, prisonID, paths)
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to check occupancy")
		}
		return nil
	})
	g.Go(func() error {
		var err error
		certificationNeeded, err = s.prisons.CertificationRequired(gctx, prisonID)
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to resolve prison certification settings")
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	at := s.now()
	var results []*locations.Location
	var evts []events.Event
	var cascade int

	err = s.txr.InTx(ctx, func(ctx context.Context) error {
		tree, err := s.loadTree(ctx, prisonID)
		if err != nil {
			return err
		}
		for _, item := range items {
			node := tree.Node(item.LocationID)
			if node == nil {
				return dErrors.Newf(dErrors.CodeNotFound, "location %s not found in prison %s", item.LocationID, prisonID)
			}
			for _, cell := range tree.LeafCells(node.ID) {
				if counts[cell.PathHierarchy] > 0 {
					return dErrors.Newf(dErrors.CodeLocationOccupied,
						"cell %s is occupied; move its occupants before deactivating", cell.PathHierarchy)
				}
			}
		}

		txID := id.NewTransactionID()
		for _, item := range items {
			node := tree.Node(item.LocationID)
			if certificationNeeded && subtreeHasCertifiedCell(tree, node) {
				if node.HasPendingApproval() {
					return dErrors.Newf(dErrors.CodeApprovalAlreadyPending,
						"an approval request is already pending for %s", node.PathHierarchy)
				}
				if node.PendingChange == nil {
					node.PendingChange = &locations.PendingChange{}
				}
				pending := item.Details
				node.PendingChange.Deactivation = &pending
				node.UpdatedAt = at
				node.UpdatedBy = actor
				if err := s.persist(ctx, nil, []*locations.Location{node}, txID, actor, at); err != nil {
					return err
				}
				results = append(results, node)
				continue
			}

			before := snapshotSubtree(tree, node.ID)
			outcome, err := tree.Deactivate(node.ID, item.Details, actor, at)
			if err != nil {
				return err
			}
			cascade += len(outcome.StatusChanged)
			if err := s.persist(ctx, before, outcome.All(), txID, actor, at); err != nil {
				return err
			}
			results = append(results, node)
			for _, n := range outcome.StatusChanged {
				evts = append(evts, eventFor(events.TypeDeactivated, n, at))
			}
			for _, n := range outcome.AggregatesAmended {
				evts = append(evts, eventFor(events.TypeAmended, n, at))
			}
			evts = append(evts, eventFor(events.TypeSignedOpCapAmended, node, at))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if s.metrics != nil && cascade > 0 {
		s.metrics.LocationsDeactivated.Add(float64(len(items)))
	}
	s.observeCascade(cascade)
	s.publish(ctx, evts)
	return results, nil
}

// BulkReactivationItem is one location in a bulk reactivation.
type BulkReactivationItem struct {
	LocationID id.LocationID
	Capacity   *locations.Capacity
	Cascade    bool
}

// BulkReactivate reactivates several locations of one prison atomically.
func (s *Service) BulkReactivate(ctx context.Context, prisonID string, items []BulkReactivationItem, actor string) ([]*locations.Location, error) {
	ctx, span := s.tracer.Start(ctx, "BulkReactivate")
	defer span.End()

	if len(items) == 0 {
		return nil, dErrors.New(dErrors.CodeBadRequest, "no locations given")
	}

	at := s.now()
	var results []*locations.Location
	var evts []events.Event
	var size int

	err := s.txr.InTx(ctx, func(ctx context.Context) error {
		tree, err := s.loadTree(ctx, prisonID)
		if err != nil {
			return err
		}
		txID := id.NewTransactionID()
		for _, item := range items {
			node := tree.Node(item.LocationID)
			if node == nil {
				return dErrors.Newf(dErrors.CodeNotFound, "location %s not found in prison %s", item.LocationID, prisonID)
			}
			// Earlier items in the batch may have already brought this node
			// back via a parent cascade.
			if node.IsActive() {
				results = append(results, node)
				continue
			}

			before := snapshotSubtree(tree, node.ID)
			outcome, err := tree.Reactivate(node.ID, item.Capacity, item.Cascade, actor, at)
			if err != nil {
				return err
			}
			size += len(outcome.StatusChanged)
			if err := s.persist(ctx, before, outcome.All(), txID, actor, at); err != nil {
				return err
			}
			results = append(results, node)
			for _, n := range outcome.StatusChanged {
				evts = append(evts, eventFor(events.TypeReactivated, n, at))
			}
			for _, n := range outcome.AggregatesAmended {
				evts = append(evts, eventFor(events.TypeAmended, n, at))
			}
			evts = append(evts, eventFor(events.TypeSignedOpCapAmended, node, at))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.LocationsReactivated.Add(float64(size))
	}
	s.observeCascade(size)
	s.publish(ctx, evts)
	return results, nil
}

// checkSubtreeUnoccupied queries the prisoner search service for every leaf
// cell below locID and rejects the operation when anyone is housed there.
func (s *Service) checkSubtreeUnoccupied(ctx context.Context, tree *locations.Tree, locID id.LocationID) error {
	cells := tree.LeafCells(locID)
	if len(cells) == 0 {
		return nil
	}
	paths := make([]string, 0, len(cells))
	for _, cell := range cells {
		paths = append(paths, cell.PathHierarchy)
	}
	counts, err := s.occupancy.SearchByPathHierarchies(ctx, tree.Node(locID).PrisonID, paths)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to check occupancy")
	}
	for _, path := range paths {
		if counts[path] > 0 {
			return dErrors.Newf(dErrors.CodeLocationOccupied,
				"cell %s is occupied; move its occupants before deactivating", path)
		}
	}
	return nil
}

// deactivationNeedsApproval reports whether deactivating this location must
// go through certification sign-off: the prison requires it and the subtree
// holds at least one certified cell.
func (s *Service) deactivationNeedsApproval(ctx context.Context, tree *locations.Tree, node *locations.Location) (bool, error) {
	if !subtreeHasCertifiedCell(tree, node) {
		return false, nil
	}
	required, err := s.prisons.CertificationRequired(ctx, node.PrisonID)
	if err != nil {
		return false, dErrors.Wrap(err, dErrors.CodeInternal, "failed to resolve prison certification settings")
	}
	return required, nil
}

func subtreeHasCertifiedCell(tree *locations.Tree, node *locations.Location) bool {
	for _, cell := range tree.LeafCells(node.ID) {
		if cell.Certification.Certified {
			return true
		}
	}
	return false
}

func bulkLeafPaths(tree *locations.Tree, items []BulkDeactivationItem) []string {
	seen := make(map[string]bool)
	var paths []string
	for _, item := range items {
		for _, cell := range tree.LeafCells(item.LocationID) {
			if !seen[cell.PathHierarchy] {
				seen[cell.PathHierarchy] = true
				paths = append(paths, cell.PathHierarchy)
			}
		}
	}
	return paths
}
