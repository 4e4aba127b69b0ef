// Package service orchestrates location mutations: it loads a prison's tree,
// applies the domain logic, persists every touched node and its history rows
// in one transaction, and publishes domain events after commit.
package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"locations-inside-prison/internal/events"
	"locations-inside-prison/internal/locations"
	"locations-inside-prison/internal/occupancy"
	"locations-inside-prison/internal/platform/metrics"
	"locations-inside-prison/internal/prisonconfig"
	id "locations-inside-prison/pkg/domain"
	dErrors "locations-inside-prison/pkg/domain-errors"
	"locations-inside-prison/pkg/platform/sentinel"
)

// TxRunner wraps a mutation in one transactional boundary.
type TxRunner interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// Service coordinates location operations.
type Service struct {
	store     locations.Store
	txr       TxRunner
	occupancy occupancy.Client
	prisons   prisonconfig.Resolver
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
	store locations.Store,
	txr TxRunner,
	occupancyClient occupancy.Client,
	prisons prisonconfig.Resolver,
	publisher events.Publisher,
	logger *slog.Logger,
	opts ...Option,
) *Service {
	s := &Service{
		store:     store,
		txr:       txr,
		occupancy: occupancyClient,
		prisons:   prisons,
		publisher: publisher,
		logger:    logger,
		tracer:    otel.Tracer("locations-service"),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// GetLocation returns one location by ID.
func (s *Service) GetLocation(ctx context.Context, locID id.LocationID) (*locations.Location, error) {
	loc, err := s.store.FindByID(ctx, locID)
	if err != nil {
		return nil, translateStoreErr(err, "location not found")
	}
	return loc, nil
}

// GetLocationByKey returns one location by prisonId + pathHierarchy.
func (s *Service) GetLocationByKey(ctx context.Context, prisonID, pathHierarchy string) (*locations.Location, error) {
	loc, err := s.store.FindByKey(ctx, prisonID, pathHierarchy)
	if err != nil {
		return nil, translateStoreErr(err, "location not found")
	}
	return loc, nil
}

// ResidentialSummary is a subtree view with its aggregate totals.
type ResidentialSummary struct {
	Location     *locations.Location
	SubLocations []*ResidentialSummary
}

// GetResidentialSummary returns the full subtree below the given location,
// or the prison's top-level locations when pathHierarchy is empty.
func (s *Service) GetResidentialSummary(ctx context.Context, prisonID, pathHierarchy string) ([]*ResidentialSummary, error) {
	tree, err := s.loadTree(ctx, prisonID)
	if err != nil {
		return nil, err
	}
	var tops []*locations.Location
	if pathHierarchy == "" {
		tops = tree.Roots()
	} else {
		node := tree.NodeByPath(pathHierarchy)
		if node == nil {
			return nil, dErrors.Newf(dErrors.CodeNotFound, "no location %s in prison %s", pathHierarchy, prisonID)
		}
		tops = []*locations.Location{node}
	}
	out := make([]*ResidentialSummary, 0, len(tops))
	for _, top := range tops {
		out = append(out, buildSummary(tree, top))
	}
	return out, nil
}

func buildSummary(tree *locations.Tree, node *locations.Location) *ResidentialSummary {
	summary := &ResidentialSummary{Location: node}
	for _, child := range tree.Children(node.ID) {
		summary.SubLocations = append(summary.SubLocations, buildSummary(tree, child))
	}
	return summary
}

// History returns the append-only change rows for one location.
func (s *Service) History(ctx context.Context, locID id.LocationID) ([]locations.ChangeRecord, error) {
	if _, err := s.GetLocation(ctx, locID); err != nil {
		return nil, err
	}
	return s.store.HistoryForLocation(ctx, locID)
}

// loadTree materializes the prison's full hierarchy.
func (s *Service) loadTree(ctx context.Context, prisonID string) (*locations.Tree, error) {
	locs, err := s.store.FindAllByPrison(ctx, prisonID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load prison locations")
	}
	if len(locs) == 0 {
		return nil, dErrors.Newf(dErrors.CodeNotFound, "no locations for prison %s", prisonID)
	}
	return locations.NewTree(prisonID, locs)
}

// loadTreeFor materializes the tree containing the given location.
func (s *Service) loadTreeFor(ctx context.Context, locID id.LocationID) (*locations.Tree, *locations.Location, error) {
	loc, err := s.GetLocation(ctx, locID)
	if err != nil {
		return nil, nil, err
	}
	tree, err := s.loadTree(ctx, loc.PrisonID)
	if err != nil {
		return nil, nil, err
	}
	node := tree.Node(locID)
	if node == nil {
		return nil, nil, dErrors.New(dErrors.CodeNotFound, "location not found")
	}
	return tree, node, nil
}

// persist saves the changed nodes plus their history diffs inside the
// current transaction.
func (s *Service) persist(ctx context.Context, before map[id.LocationID]*locations.Location, changed []*locations.Location, txID id.TransactionID, actor string, at time.Time) error {
	if len(changed) == 0 {
		return nil
	}
	var history []locations.ChangeRecord
	for _, loc := range changed {
		if prev, ok := before[loc.ID]; ok {
			history = append(history, locations.DiffForHistory(prev, loc, txID, actor, at)...)
		}
	}
	if err := s.store.Save(ctx, changed...); err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			return dErrors.Wrap(err, dErrors.CodeDuplicatePathHierarchy, "location key already in use")
		}
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to save locations")
	}
	if len(history) > 0 {
		if err := s.store.AppendHistory(ctx, history...); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to record change history")
		}
	}
	return nil
}

// snapshotSubtree captures before-images keyed by ID for history diffing.
func snapshotSubtree(tree *locations.Tree, locID id.LocationID) map[id.LocationID]*locations.Location {
	out := make(map[id.LocationID]*locations.Location)
	for _, node := range tree.Subtree(locID) {
		out[node.ID] = node.Clone()
	}
	for _, ancestor := range tree.Ancestors(locID) {
		out[ancestor.ID] = ancestor.Clone()
	}
	return out
}

// eventFor builds one event for one changed node.
func eventFor(t events.Type, loc *locations.Location, at time.Time) events.Event {
	return events.Event{
		Type:       t,
		Key:        loc.Key(),
		PrisonID:   loc.PrisonID,
		OccurredAt: at,
	}
}

func (s *Service) publish(ctx context.Context, evts []events.Event) {
	if len(evts) == 0 {
		return
	}
	s.publisher.Publish(ctx, evts...)
}

func (s *Service) observeCascade(size int) {
	if s.metrics != nil {
		s.metrics.CascadeSize.Observe(float64(size))
	}
}

func translateStoreErr(err error, message string) error {
	if errors.Is(err, sentinel.ErrNotFound) {
		return dErrors.New(dErrors.CodeNotFound, message)
	}
	if errors.Is(err, sentinel.ErrUnavailable) {
		return dErrors.Wrap(err, dErrors.CodeInternal, "backing store unavailable")
	}
	return dErrors.Wrap(err, dErrors.CodeInternal, "store failure")
}
