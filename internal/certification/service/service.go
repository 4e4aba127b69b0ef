// Package service runs the certification approval workflow: raising approval
// requests over staged changes and drafts, and applying or discarding them on
// decision. Every approval issues a fresh cell certificate in the same
// transaction.
package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"locations-inside-prison/internal/certificates"
	"locations-inside-prison/internal/certification"
	"locations-inside-prison/internal/events"
	"locations-inside-prison/internal/locations"
	"locations-inside-prison/internal/occupancy"
	"locations-inside-prison/internal/platform/metrics"
	id "locations-inside-prison/pkg/domain"
	dErrors "locations-inside-prison/pkg/domain-errors"
	"locations-inside-prison/pkg/platform/sentinel"
)

// TxRunner wraps a mutation in one transactional boundary.
type TxRunner interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// Service decides approval requests.
type Service struct {
	locations locations.Store
	requests  certification.Store
	certs     certificates.Store
	builder   *certificates.Builder
	txr       TxRunner
	occupancy occupancy.Client
	publisher events.Publisher
	metrics   *metrics.Metrics
	logger    *slog.Logger
	tracer    trace.Tracer
	now       func() time.Time
}

// Option configures the Service.
type Option func(*Service)

// WithMetrics sets the metrics collector.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(
	locationStore locations.Store,
	requestStore certification.Store,
	certStore certificates.Store,
	builder *certificates.Builder,
	txr TxRunner,
	occupancyClient occupancy.Client,
	publisher events.Publisher,
	logger *slog.Logger,
	opts ...Option,
) *Service {
	s := &Service{
		locations: locationStore,
		requests:  requestStore,
		certs:     certStore,
		builder:   builder,
		txr:       txr,
		occupancy: occupancyClient,
		publisher: publisher,
		logger:    logger,
		tracer:    otel.Tracer("certification-service"),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// GetRequest returns one approval request.
func (s *Service) GetRequest(ctx context.Context, reqID id.ApprovalRequestID) (*certification.ApprovalRequest, error) {
	req, err := s.requests.FindByID(ctx, reqID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "approval request not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load approval request")
	}
	return req, nil
}

// ListByPrison returns a prison's approval requests, optionally filtered by
// status.
func (s *Service) ListByPrison(ctx context.Context, prisonID string, status certification.ApprovalStatus) ([]*certification.ApprovalRequest, error) {
	reqs, err := s.requests.FindAllByPrison(ctx, prisonID, status)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list approval requests")
	}
	return reqs, nil
}

// RequestApproval raises an approval request for a location that is either a
// draft or carries staged changes. At most one request may be pending on any
// ancestor-or-descendant chain at a time; overlapping requests would decide
// over each other's aggregates.
func (s *Service) RequestApproval(ctx context.Context, locID id.LocationID, actor string) (*certification.ApprovalRequest, error) {
	ctx, span := s.tracer.Start(ctx, "RequestApproval")
	defer span.End()

	at := s.now()
	var req *certification.ApprovalRequest

	err := s.txr.InTx(ctx, func(ctx context.Context) error {
		tree, node, err := s.loadTreeFor(ctx, locID)
		if err != nil {
			return err
		}
		if node.Status != locations.StatusDraft && node.PendingChange.IsZero() {
			return dErrors.New(dErrors.CodeNothingToApprove, "location has no staged changes and is not a draft")
		}
		if node.HasPendingApproval() {
			return dErrors.New(dErrors.CodeApprovalAlreadyPending, "an approval request is already pending for this location")
		}
		for _, other := range tree.Ancestors(node.ID) {
			if other.HasPendingApproval() {
				return dErrors.Newf(dErrors.CodeApprovalAlreadyPending,
					"an approval request is already pending on ancestor %s", other.PathHierarchy)
			}
		}
		for _, other := range tree.Descendants(node.ID) {
			if other.HasPendingApproval() {
				return dErrors.Newf(dErrors.CodeApprovalAlreadyPending,
					"an approval request is already pending on descendant %s", other.PathHierarchy)
			}
		}

		req = buildRequest(tree, node, actor, at)
		if err := s.requests.Save(ctx, req); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to save approval request")
		}
		reqID := req.ID
		node.PendingApprovalRequestID = &reqID
		node.UpdatedAt = at
		node.UpdatedBy = actor
		if err := s.locations.Save(ctx, node); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to link approval request")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.ApprovalsRequested.Inc()
	}
	return req, nil
}

// Approve applies the request's change, issues a new cell certificate and
// marks the request decided, all in one transaction.
func (s *Service) Approve(ctx context.Context, reqID id.ApprovalRequestID, comment, actor string) (*certification.ApprovalRequest, error) {
	ctx, span := s.tracer.Start(ctx, "Approve")
	defer span.End()

	at := s.now()
	var req *certification.ApprovalRequest
	var evts []events.Event

	err := s.txr.InTx(ctx, func(ctx context.Context) error {
		var err error
		req, err = s.pendingRequest(ctx, reqID)
		if err != nil {
			return err
		}
		tree, node, err := s.loadTreeFor(ctx, req.LocationID)
		if err != nil {
			return err
		}

		before := snapshot(tree, node.ID)
		node.ClearPending()

		var statusChanged, amended []*locations.Location
		switch req.ApprovalType {
		case certification.ApprovalDraft:
			statusChanged, err = activateDraft(tree, node, actor, at)
			if err != nil {
				return err
			}
			amended = recomputeFromLeaves(tree, node, statusChanged)
		case certification.ApprovalDeactivation:
			if req.Requested == nil || req.Requested.Deactivation == nil {
				return dErrors.New(dErrors.CodeInternal, "deactivation request carries no details")
			}
			// Occupancy was clear when the deactivation was staged, but
			// prisoners may have arrived since. Re-check at sign-off.
			if err := s.checkSubtreeUnoccupied(ctx, tree, node.ID); err != nil {
				return err
			}
			outcome, err := tree.Deactivate(node.ID, *req.Requested.Deactivation, actor, at)
			if err != nil {
				return err
			}
			statusChanged = outcome.StatusChanged
			amended = outcome.AggregatesAmended
		default:
			node.PendingChange = req.Requested
			node.ApplyPending()
			node.PendingChange = nil
			node.UpdatedAt = at
			node.UpdatedBy = actor
			statusChanged = []*locations.Location{node}
			amended = tree.Recompute(node.ID)
		}

		changed := append(statusChanged, amended...)
		if err := s.persist(ctx, before, changed, actor, at); err != nil {
			return err
		}

		cert, err := s.builder.BuildAndActivate(ctx, req.PrisonID, actor, at)
		if err != nil {
			return err
		}
		certID := cert.ID
		req.Status = certification.StatusApproved
		req.DecidedBy = actor
		req.DecidedAt = &at
		req.Comment = comment
		req.CertificateID = &certID
		if err := s.requests.Save(ctx, req); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to save approval decision")
		}

		eventType := events.TypeAmended
		if req.ApprovalType == certification.ApprovalDeactivation {
			eventType = events.TypeDeactivated
		}
		for _, n := range statusChanged {
			evts = append(evts, eventFor(eventType, n, at))
		}
		for _, n := range amended {
			evts = append(evts, eventFor(events.TypeAmended, n, at))
		}
		evts = append(evts, eventFor(events.TypeSignedOpCapAmended, node, at))
		return nil
	})
	if err != nil {
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.ApprovalsApproved.Inc()
		s.metrics.CertificatesIssued.Inc()
	}
	s.publish(ctx, evts)
	return req, nil
}

// Reject discards the staged change and marks the request decided. Draft
// locations stay drafts; their scaffold is untouched.
func (s *Service) Reject(ctx context.Context, reqID id.ApprovalRequestID, comment, actor string) (*certification.ApprovalRequest, error) {
	ctx, span := s.tracer.Start(ctx, "Reject")
	defer span.End()

	at := s.now()
	var req *certification.ApprovalRequest

	err := s.txr.InTx(ctx, func(ctx context.Context) error {
		var err error
		req, err = s.pendingRequest(ctx, reqID)
		if err != nil {
			return err
		}
		node, err := s.locations.FindByID(ctx, req.LocationID)
		if err != nil && !errors.Is(err, sentinel.ErrNotFound) {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to load location")
		}
		if node != nil {
			node.ClearPending()
			node.UpdatedAt = at
			node.UpdatedBy = actor
			if err := s.locations.Save(ctx, node); err != nil {
				return dErrors.Wrap(err, dErrors.CodeInternal, "failed to discard staged change")
			}
		}

		req.Status = certification.StatusRejected
		req.DecidedBy = actor
		req.DecidedAt = &at
		req.Comment = comment
		if err := s.requests.Save(ctx, req); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to save approval decision")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.ApprovalsRejected.Inc()
	}
	return req, nil
}

func (s *Service) pendingRequest(ctx context.Context, reqID id.ApprovalRequestID) (*certification.ApprovalRequest, error) {
	req, err := s.GetRequest(ctx, reqID)
	if err != nil {
		return nil, err
	}
	if !req.IsPending() {
		return nil, dErrors.Newf(dErrors.CodeApprovalRequestResolved,
			"approval request was already %s", req.Status)
	}
	return req, nil
}

func (s *Service) loadTreeFor(ctx context.Context, locID id.LocationID) (*locations.Tree, *locations.Location, error) {
	loc, err := s.locations.FindByID(ctx, locID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, nil, dErrors.New(dErrors.CodeNotFound, "location not found")
		}
		return nil, nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load location")
	}
	locs, err := s.locations.FindAllByPrison(ctx, loc.PrisonID)
	if err != nil {
		return nil, nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load prison locations")
	}
	tree, err := locations.NewTree(loc.PrisonID, locs)
	if err != nil {
		return nil, nil, err
	}
	node := tree.Node(locID)
	if node == nil {
		return nil, nil, dErrors.New(dErrors.CodeNotFound, "location not found")
	}
	return tree, node, nil
}

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
			return dErrors.Newf(dErrors.CodeLocationOccupied, "cell %s is occupied; move its occupants before deactivating", path)
		}
	}
	return nil
}

func (s *Service) persist(ctx context.Context, before map[id.LocationID]*locations.Location, changed []*locations.Location, actor string, at time.Time) error {
	if len(changed) == 0 {
		return nil
	}
	txID := id.NewTransactionID()
	var history []locations.ChangeRecord
	for _, loc := range changed {
		if prev, ok := before[loc.ID]; ok {
			history = append(history, locations.DiffForHistory(prev, loc, txID, actor, at)...)
		}
	}
	if err := s.locations.Save(ctx, changed...); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to save locations")
	}
	if len(history) > 0 {
		if err := s.locations.AppendHistory(ctx, history...); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to record change history")
		}
	}
	return nil
}

func (s *Service) publish(ctx context.Context, evts []events.Event) {
	if len(evts) == 0 {
		return
	}
	s.publisher.Publish(ctx, evts...)
}

// buildRequest derives the approval type and reviewer deltas from the node's
// state at request time, and freezes the affected subtree onto the request.
func buildRequest(tree *locations.Tree, node *locations.Location, actor string, at time.Time) *certification.ApprovalRequest {
	req := &certification.ApprovalRequest{
		ID:                id.NewApprovalRequestID(),
		PrisonID:          node.PrisonID,
		LocationID:        node.ID,
		LocationKey:       node.Key(),
		PathHierarchy:     node.PathHierarchy,
		Status:            certification.StatusPending,
		AffectedLocations: certificates.SnapshotSubtree(tree, node.ID),
		RequestedBy:       actor,
		RequestedAt:       at,
	}

	if node.Status == locations.StatusDraft {
		req.ApprovalType = certification.ApprovalDraft
		return req
	}

	pending := node.PendingChange
	clone := node.Clone().PendingChange
	req.Requested = clone
	switch {
	case pending.Deactivation != nil:
		req.ApprovalType = certification.ApprovalDeactivation
	case pending.MaxCapacity != nil || pending.WorkingCapacity != nil || pending.CertifiedNormalAccommodation != nil:
		req.ApprovalType = certification.ApprovalCapacity
		if pending.MaxCapacity != nil {
			req.MaxCapacityChange = *pending.MaxCapacity - node.Capacity.MaxCapacity
		}
		if pending.WorkingCapacity != nil {
			req.WorkingCapacityChange = *pending.WorkingCapacity - node.Capacity.WorkingCapacity
		}
		if pending.CertifiedNormalAccommodation != nil {
			req.CNAChange = *pending.CertifiedNormalAccommodation - node.Certification.CertifiedNormalAccommodation
		}
	case pending.CellMark != nil:
		req.ApprovalType = certification.ApprovalCellMark
	default:
		req.ApprovalType = certification.ApprovalSanitation
	}
	return req
}

// activateDraft brings a draft subtree into service. Cells become certified
// and every node must clear its capacity checks as an active location.
func activateDraft(tree *locations.Tree, node *locations.Location, actor string, at time.Time) ([]*locations.Location, error) {
	var changed []*locations.Location
	for _, n := range tree.Subtree(node.ID) {
		if n.Status != locations.StatusDraft {
			continue
		}
		if n.IsCell() {
			probe := n.Clone()
			probe.Status = locations.StatusActive
			if err := probe.CheckCapacity(n.Capacity.MaxCapacity, n.Capacity.WorkingCapacity); err != nil {
				return nil, err
			}
			n.Certification.Certified = true
		}
		n.Status = locations.StatusActive
		n.UpdatedAt = at
		n.UpdatedBy = actor
		changed = append(changed, n)
	}
	return changed, nil
}

// recomputeFromLeaves rebuilds the aggregates of an activated subtree bottom
// up, starting at each leaf cell so inner scaffold nodes get recalculated
// before their parents. Nodes whose status just flipped are filtered out; their
// aggregate movement travels with the status change.
func recomputeFromLeaves(tree *locations.Tree, node *locations.Location, statusChanged []*locations.Location) []*locations.Location {
	flipped := make(map[id.LocationID]bool, len(statusChanged))
	for _, n := range statusChanged {
		flipped[n.ID] = true
	}
	seen := make(map[id.LocationID]bool)
	var amended []*locations.Location
	for _, cell := range tree.LeafCells(node.ID) {
		for _, n := range tree.Recompute(cell.ID) {
			if !flipped[n.ID] && !seen[n.ID] {
				seen[n.ID] = true
				amended = append(amended, n)
			}
		}
	}
	return amended
}

func snapshot(tree *locations.Tree, locID id.LocationID) map[id.LocationID]*locations.Location {
	out := make(map[id.LocationID]*locations.Location)
	for _, node := range tree.Subtree(locID) {
		out[node.ID] = node.Clone()
	}
	for _, ancestor := range tree.Ancestors(locID) {
		out[ancestor.ID] = ancestor.Clone()
	}
	return out
}

func eventFor(t events.Type, loc *locations.Location, at time.Time) events.Event {
	return events.Event{
		Type:       t,
		Key:        loc.Key(),
		PrisonID:   loc.PrisonID,
		OccurredAt: at,
	}
}
