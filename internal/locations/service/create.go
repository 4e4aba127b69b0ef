package service

import (
	"context"
	"strings"

	"locations-inside-prison/internal/events"
	"locations-inside-prison/internal/locations"
	id "locations-inside-prison/pkg/domain"
	dErrors "locations-inside-prison/pkg/domain-errors"
)

// CreateCellRequest creates a single cell under an existing residential
// location.
type CreateCellRequest struct {
	PrisonID                     string
	ParentID                     id.LocationID
	Code                         string
	LocalName                    string
	AccommodationType            locations.AccommodationType
	MaxCapacity                  int
	WorkingCapacity              int
	CertifiedNormalAccommodation int
	Certified                    bool
	SpecialistCellTypes          []locations.SpecialistCellType
	UsedFor                      []locations.UsedForType
	CellMark                     string
	InCellSanitation             *bool
}

// CreateCell adds one cell to the live tree. The cell starts in the parent's
// lifecycle state: cells created under a draft wing are drafts themselves.
func (s *Service) CreateCell(ctx context.Context, req CreateCellRequest, actor string) (*locations.Location, error) {
	ctx, span := s.tracer.Start(ctx, "CreateCell")
	defer span.End()

	if err := validateCode(req.Code); err != nil {
		return nil, err
	}

	at := s.now()
	var created *locations.Location
	var evts []events.Event

	err := s.txr.InTx(ctx, func(ctx context.Context) error {
		tree, parent, err := s.loadTreeFor(ctx, req.ParentID)
		if err != nil {
			return err
		}
		if parent.Kind() != locations.KindResidential {
			return dErrors.New(dErrors.CodeBadRequest, "cells can only be created under wings, landings or spurs")
		}
		if parent.PrisonID != req.PrisonID {
			return dErrors.New(dErrors.CodeBadRequest, "parent belongs to a different prison")
		}

		before := snapshotSubtree(tree, parent.ID)

		status := locations.StatusActive
		if parent.Status == locations.StatusDraft {
			status = locations.StatusDraft
		}
		parentID := parent.ID
		cell := &locations.Location{
			ID:                  id.NewLocationID(),
			PrisonID:            req.PrisonID,
			Code:                strings.ToUpper(req.Code),
			ParentID:            &parentID,
			LocationType:        locations.TypeCell,
			LocalName:           req.LocalName,
			Status:              status,
			AccommodationType:   req.AccommodationType,
			SpecialistCellTypes: req.SpecialistCellTypes,
			UsedFor:             req.UsedFor,
			CellMark:            req.CellMark,
			InCellSanitation:    req.InCellSanitation,
			Capacity: locations.Capacity{
				MaxCapacity:     req.MaxCapacity,
				WorkingCapacity: req.WorkingCapacity,
			},
			Certification: locations.Certification{
				Certified:                    req.Certified,
				CertifiedNormalAccommodation: req.CertifiedNormalAccommodation,
			},
			CreatedAt: at,
			UpdatedAt: at,
			UpdatedBy: actor,
		}
		if err := cell.CheckCapacity(req.MaxCapacity, req.WorkingCapacity); err != nil {
			return err
		}
		if err := tree.Attach(cell); err != nil {
			return err
		}
		amended := tree.Recompute(cell.ID)

		txID := id.NewTransactionID()
		if err := s.persist(ctx, before, append([]*locations.Location{cell}, amended...), txID, actor, at); err != nil {
			return err
		}

		created = cell
		evts = append(evts, eventFor(events.TypeCreated, cell, at))
		for _, node := range amended {
			evts = append(evts, eventFor(events.TypeAmended, node, at))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.LocationsCreated.Inc()
	}
	s.publish(ctx, evts)
	return created, nil
}

// CreateCellSpec is one cell inside a wing scaffold.
type CreateCellSpec struct {
	Code                         string
	AccommodationType            locations.AccommodationType
	MaxCapacity                  int
	WorkingCapacity              int
	CertifiedNormalAccommodation int
	SpecialistCellTypes          []locations.SpecialistCellType
	InCellSanitation             *bool
}

// CreateLandingSpec is one landing inside a wing scaffold.
type CreateLandingSpec struct {
	Code  string
	Cells []CreateCellSpec
}

// CreateWingRequest scaffolds a whole wing as a DRAFT subtree. Drafts carry
// no effective capacity until they are approved and activated.
type CreateWingRequest struct {
	PrisonID  string
	Code      string
	LocalName string
	UsedFor   []locations.UsedForType
	Landings  []CreateLandingSpec
}

// CreateWing creates the draft scaffold and returns the wing.
func (s *Service) CreateWing(ctx context.Context, req CreateWingRequest, actor string) (*locations.Location, error) {
	ctx, span := s.tracer.Start(ctx, "CreateWing")
	defer span.End()

	if err := validateCode(req.Code); err != nil {
		return nil, err
	}
	for _, landing := range req.Landings {
		if err := validateCode(landing.Code); err != nil {
			return nil, err
		}
		for _, cell := range landing.Cells {
			if err := validateCode(cell.Code); err != nil {
				return nil, err
			}
		}
	}

	at := s.now()
	var wing *locations.Location
	var evts []events.Event

	err := s.txr.InTx(ctx, func(ctx context.Context) error {
		existing, err := s.store.FindAllByPrison(ctx, req.PrisonID)
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to load prison locations")
		}
		tree, err := locations.NewTree(req.PrisonID, existing)
		if err != nil {
			return err
		}

		wing = &locations.Location{
			ID:           id.NewLocationID(),
			PrisonID:     req.PrisonID,
			Code:         strings.ToUpper(req.Code),
			LocationType: locations.TypeWing,
			LocalName:    req.LocalName,
			Status:       locations.StatusDraft,
			UsedFor:      req.UsedFor,
			CreatedAt:    at,
			UpdatedAt:    at,
			UpdatedBy:    actor,
		}
		if err := tree.Attach(wing); err != nil {
			return err
		}
		scaffold := []*locations.Location{wing}

		for _, landingSpec := range req.Landings {
			wingID := wing.ID
			landing := &locations.Location{
				ID:           id.NewLocationID(),
				PrisonID:     req.PrisonID,
				Code:         strings.ToUpper(landingSpec.Code),
				ParentID:     &wingID,
				LocationType: locations.TypeLanding,
				Status:       locations.StatusDraft,
				UsedFor:      req.UsedFor,
				CreatedAt:    at,
				UpdatedAt:    at,
				UpdatedBy:    actor,
			}
			if err := tree.Attach(landing); err != nil {
				return err
			}
			scaffold = append(scaffold, landing)

			for _, cellSpec := range landingSpec.Cells {
				landingID := landing.ID
				cell := &locations.Location{
					ID:                  id.NewLocationID(),
					PrisonID:            req.PrisonID,
					Code:                strings.ToUpper(cellSpec.Code),
					ParentID:            &landingID,
					LocationType:        locations.TypeCell,
					Status:              locations.StatusDraft,
					AccommodationType:   cellSpec.AccommodationType,
					SpecialistCellTypes: cellSpec.SpecialistCellTypes,
					UsedFor:             req.UsedFor,
					InCellSanitation:    cellSpec.InCellSanitation,
					Capacity: locations.Capacity{
						MaxCapacity:     cellSpec.MaxCapacity,
						WorkingCapacity: cellSpec.WorkingCapacity,
					},
					Certification: locations.Certification{
						CertifiedNormalAccommodation: cellSpec.CertifiedNormalAccommodation,
					},
					CreatedAt: at,
					UpdatedAt: at,
					UpdatedBy: actor,
				}
				if err := cell.CheckCapacity(cellSpec.MaxCapacity, cellSpec.WorkingCapacity); err != nil {
					return err
				}
				if err := tree.Attach(cell); err != nil {
					return err
				}
				scaffold = append(scaffold, cell)
			}
		}

		txID := id.NewTransactionID()
		if err := s.persist(ctx, nil, scaffold, txID, actor, at); err != nil {
			return err
		}
		for _, node := range scaffold {
			evts = append(evts, eventFor(events.TypeCreated, node, at))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.LocationsCreated.Inc()
	}
	s.publish(ctx, evts)
	return wing, nil
}

// CreateNonResidentialRequest creates a non-residential room.
type CreateNonResidentialRequest struct {
	PrisonID     string
	ParentID     *id.LocationID
	Code         string
	LocalName    string
	LocationType locations.LocationType
}

// CreateNonResidential adds a store, office or other non-residential room.
func (s *Service) CreateNonResidential(ctx context.Context, req CreateNonResidentialRequest, actor string) (*locations.Location, error) {
	ctx, span := s.tracer.Start(ctx, "CreateNonResidential")
	defer span.End()

	if err := validateCode(req.Code); err != nil {
		return nil, err
	}
	if locations.KindOf(req.LocationType) != locations.KindNonResidential {
		return nil, dErrors.Newf(dErrors.CodeBadRequest, "%s is not a non-residential location type", req.LocationType)
	}

	at := s.now()
	var created *locations.Location
	var evts []events.Event

	err := s.txr.InTx(ctx, func(ctx context.Context) error {
		existing, err := s.store.FindAllByPrison(ctx, req.PrisonID)
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to load prison locations")
		}
		tree, err := locations.NewTree(req.PrisonID, existing)
		if err != nil {
			return err
		}
		if req.ParentID != nil && tree.Node(*req.ParentID) == nil {
			return dErrors.New(dErrors.CodeNotFound, "parent location not found")
		}

		created = &locations.Location{
			ID:           id.NewLocationID(),
			PrisonID:     req.PrisonID,
			Code:         strings.ToUpper(req.Code),
			ParentID:     req.ParentID,
			LocationType: req.LocationType,
			LocalName:    req.LocalName,
			Status:       locations.StatusActive,
			CreatedAt:    at,
			UpdatedAt:    at,
			UpdatedBy:    actor,
		}
		if err := tree.Attach(created); err != nil {
			return err
		}

		txID := id.NewTransactionID()
		if err := s.persist(ctx, nil, []*locations.Location{created}, txID, actor, at); err != nil {
			return err
		}
		evts = append(evts, eventFor(events.TypeCreated, created, at))
		return nil
	})
	if err != nil {
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.LocationsCreated.Inc()
	}
	s.publish(ctx, evts)
	return created, nil
}

// DeleteDraft removes a DRAFT subtree permanently. Locations that ever went
// active are never physically deleted; their status transitions instead.
func (s *Service) DeleteDraft(ctx context.Context, locID id.LocationID) error {
	ctx, span := s.tracer.Start(ctx, "DeleteDraft")
	defer span.End()

	return s.txr.InTx(ctx, func(ctx context.Context) error {
		tree, node, err := s.loadTreeFor(ctx, locID)
		if err != nil {
			return err
		}
		if node.Status != locations.StatusDraft {
			return dErrors.New(dErrors.CodeLocationNotDraft, "only draft locations can be deleted")
		}
		subtree := tree.Subtree(locID)
		ids := make([]id.LocationID, 0, len(subtree))
		for _, n := range subtree {
			if n.Status != locations.StatusDraft {
				return dErrors.New(dErrors.CodeLocationNotDraft, "draft subtree contains a non-draft location")
			}
			ids = append(ids, n.ID)
		}
		if err := s.store.Delete(ctx, ids...); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to delete draft locations")
		}
		return nil
	})
}

func validateCode(code string) error {
	if strings.TrimSpace(code) == "" {
		return dErrors.New(dErrors.CodeBadRequest, "location code must not be empty")
	}
	if strings.Contains(code, "-") {
		return dErrors.New(dErrors.CodeBadRequest, "location code must not contain '-'")
	}
	return nil
}
