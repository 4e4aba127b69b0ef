package service

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"locations-inside-prison/internal/events"
	"locations-inside-prison/internal/locations"
	"locations-inside-prison/internal/occupancy"
	"locations-inside-prison/internal/prisonconfig"
	id "locations-inside-prison/pkg/domain"
	dErrors "locations-inside-prison/pkg/domain-errors"
	"locations-inside-prison/pkg/platform/tx"
)

// =============================================================================
// Locations Service Suite
// =============================================================================
// Justification for unit tests: the service owns the transactional
// orchestration around the tree (staging vs applying, occupancy vetoes, event
// emission). The in-memory store plus stubbed collaborators exercise those
// paths end to end without a database.

type ServiceSuite struct {
	suite.Suite
	ctx      context.Context
	store    *locations.InMemoryStore
	recorder *events.Recorder
	now      time.Time
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func (s *ServiceSuite) SetupTest() {
	s.ctx = context.Background()
	s.store = locations.NewInMemoryStore()
	s.recorder = events.NewRecorder()
	s.now = time.Date(2026, time.March, 10, 12, 0, 0, 0, time.UTC)
}

func (s *ServiceSuite) newService(occ occupancy.Client, prisons prisonconfig.Resolver) *Service {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewService(s.store, tx.Nop{}, occ, prisons, s.recorder, logger,
		WithClock(func() time.Time { return s.now }))
}

type seeded struct {
	wing    *locations.Location
	landing *locations.Location
	cells   []*locations.Location
}

// seedPrison stores wing A > landing A-1 > cells A-1-001 and A-1-002 in MDI,
// all active and certified, aggregates consistent.
func (s *ServiceSuite) seedPrison() seeded {
	wing := &locations.Location{
		ID: id.NewLocationID(), PrisonID: "MDI", Code: "A", PathHierarchy: "A",
		LocationType: locations.TypeWing, Status: locations.StatusActive,
		Capacity:      locations.Capacity{MaxCapacity: 4, WorkingCapacity: 4},
		Certification: locations.Certification{Certified: true, CertifiedNormalAccommodation: 4},
	}
	wingID := wing.ID
	landing := &locations.Location{
		ID: id.NewLocationID(), PrisonID: "MDI", Code: "1", PathHierarchy: "A-1",
		ParentID: &wingID, LocationType: locations.TypeLanding, Status: locations.StatusActive,
		Capacity:      locations.Capacity{MaxCapacity: 4, WorkingCapacity: 4},
		Certification: locations.Certification{Certified: true, CertifiedNormalAccommodation: 4},
	}
	landingID := landing.ID
	var cells []*locations.Location
	for _, code := range []string{"001", "002"} {
		cells = append(cells, &locations.Location{
			ID: id.NewLocationID(), PrisonID: "MDI", Code: code, PathHierarchy: "A-1-" + code,
			ParentID: &landingID, LocationType: locations.TypeCell, Status: locations.StatusActive,
			AccommodationType: locations.AccommodationNormal,
			Capacity:          locations.Capacity{MaxCapacity: 2, WorkingCapacity: 2},
			Certification:     locations.Certification{Certified: true, CertifiedNormalAccommodation: 2},
		})
	}
	s.Require().NoError(s.store.Save(s.ctx, append([]*locations.Location{wing, landing}, cells...)...))
	return seeded{wing: wing, landing: landing, cells: cells}
}

func (s *ServiceSuite) mustGet(locID id.LocationID) *locations.Location {
	loc, err := s.store.FindByID(s.ctx, locID)
	s.Require().NoError(err)
	return loc
}

// =============================================================================
// Creation
// =============================================================================

func (s *ServiceSuite) TestCreateCell() {
	seed := s.seedPrison()
	svc := s.newService(occupancy.Stub{}, prisonconfig.StaticSource{})

	cell, err := svc.CreateCell(s.ctx, CreateCellRequest{
		PrisonID:          "MDI",
		ParentID:          seed.landing.ID,
		Code:              "003",
		AccommodationType: locations.AccommodationNormal,
		MaxCapacity:       1,
		WorkingCapacity:   1,
	}, "USER1")
	s.Require().NoError(err)

	s.Equal("A-1-003", cell.PathHierarchy)
	s.Equal(locations.StatusActive, cell.Status)
	s.Equal(locations.Capacity{MaxCapacity: 5, WorkingCapacity: 5}, s.mustGet(seed.wing.ID).Capacity)

	created := s.recorder.ByType(events.TypeCreated)
	s.Require().Len(created, 1)
	s.Equal("MDI-A-1-003", created[0].Key)
	s.Len(s.recorder.ByType(events.TypeAmended), 2)
}

func (s *ServiceSuite) TestCreateCellRejections() {
	seed := s.seedPrison()
	svc := s.newService(occupancy.Stub{}, prisonconfig.StaticSource{})

	s.Run("code with separator", func() {
		_, err := svc.CreateCell(s.ctx, CreateCellRequest{
			PrisonID: "MDI", ParentID: seed.landing.ID, Code: "0-03",
			MaxCapacity: 1, WorkingCapacity: 1,
		}, "USER1")
		s.True(dErrors.HasCode(err, dErrors.CodeBadRequest))
	})

	s.Run("cell parent", func() {
		_, err := svc.CreateCell(s.ctx, CreateCellRequest{
			PrisonID: "MDI", ParentID: seed.cells[0].ID, Code: "003",
			MaxCapacity: 1, WorkingCapacity: 1,
		}, "USER1")
		s.True(dErrors.HasCode(err, dErrors.CodeBadRequest))
	})

	s.Run("duplicate code", func() {
		_, err := svc.CreateCell(s.ctx, CreateCellRequest{
			PrisonID: "MDI", ParentID: seed.landing.ID, Code: "001",
			AccommodationType: locations.AccommodationNormal,
			MaxCapacity:       1, WorkingCapacity: 1,
		}, "USER1")
		s.True(dErrors.HasCode(err, dErrors.CodeDuplicatePathHierarchy))
	})

	s.Run("invalid capacity", func() {
		_, err := svc.CreateCell(s.ctx, CreateCellRequest{
			PrisonID: "MDI", ParentID: seed.landing.ID, Code: "003",
			AccommodationType: locations.AccommodationNormal,
			MaxCapacity:       1, WorkingCapacity: 2,
		}, "USER1")
		s.True(dErrors.HasCode(err, dErrors.CodeMaxBelowWorking))
	})
}

func (s *ServiceSuite) TestCreateCellUnderDraftParentIsDraft() {
	s.seedPrison()
	svc := s.newService(occupancy.Stub{}, prisonconfig.StaticSource{})

	wing, err := svc.CreateWing(s.ctx, CreateWingRequest{
		PrisonID: "MDI", Code: "B",
		Landings: []CreateLandingSpec{{Code: "1"}},
	}, "USER1")
	s.Require().NoError(err)

	landing, err := svc.GetLocationByKey(s.ctx, "MDI", "B-1")
	s.Require().NoError(err)

	cell, err := svc.CreateCell(s.ctx, CreateCellRequest{
		PrisonID: "MDI", ParentID: landing.ID, Code: "001",
		AccommodationType: locations.AccommodationNormal,
	}, "USER1")
	s.Require().NoError(err)
	s.Equal(locations.StatusDraft, cell.Status)
	s.Equal(locations.StatusDraft, s.mustGet(wing.ID).Status)
}

func (s *ServiceSuite) TestCreateWing() {
	s.seedPrison()
	svc := s.newService(occupancy.Stub{}, prisonconfig.StaticSource{})

	wing, err := svc.CreateWing(s.ctx, CreateWingRequest{
		PrisonID: "MDI",
		Code:     "b",
		Landings: []CreateLandingSpec{{
			Code: "1",
			Cells: []CreateCellSpec{
				{Code: "001", AccommodationType: locations.AccommodationNormal, MaxCapacity: 2, WorkingCapacity: 2},
				{Code: "002", AccommodationType: locations.AccommodationNormal, MaxCapacity: 2, WorkingCapacity: 2},
			},
		}},
	}, "USER1")
	s.Require().NoError(err)

	s.Equal("B", wing.Code)
	s.Equal(locations.StatusDraft, wing.Status)
	// Drafts carry no effective capacity until approved.
	s.Equal(locations.Capacity{}, wing.Capacity)

	cell, err := svc.GetLocationByKey(s.ctx, "MDI", "B-1-001")
	s.Require().NoError(err)
	s.Equal(locations.StatusDraft, cell.Status)
	s.False(cell.Certification.Certified)

	s.Len(s.recorder.ByType(events.TypeCreated), 4)
}

func (s *ServiceSuite) TestCreateNonResidential() {
	seed := s.seedPrison()
	svc := s.newService(occupancy.Stub{}, prisonconfig.StaticSource{})

	s.Run("residential type rejected", func() {
		_, err := svc.CreateNonResidential(s.ctx, CreateNonResidentialRequest{
			PrisonID: "MDI", Code: "OFF1", LocationType: locations.TypeCell,
		}, "USER1")
		s.True(dErrors.HasCode(err, dErrors.CodeBadRequest))
	})

	s.Run("office under the wing", func() {
		wingID := seed.wing.ID
		room, err := svc.CreateNonResidential(s.ctx, CreateNonResidentialRequest{
			PrisonID: "MDI", ParentID: &wingID, Code: "OFF1", LocationType: locations.TypeOffice,
		}, "USER1")
		s.Require().NoError(err)
		s.Equal("A-OFF1", room.PathHierarchy)
		s.Equal(locations.StatusActive, room.Status)
		// Non-residential rooms never move the aggregates.
		s.Equal(locations.Capacity{MaxCapacity: 4, WorkingCapacity: 4}, s.mustGet(seed.wing.ID).Capacity)
	})
}

func (s *ServiceSuite) TestDeleteDraft() {
	seed := s.seedPrison()
	svc := s.newService(occupancy.Stub{}, prisonconfig.StaticSource{})

	s.Run("active location rejected", func() {
		err := svc.DeleteDraft(s.ctx, seed.wing.ID)
		s.True(dErrors.HasCode(err, dErrors.CodeLocationNotDraft))
	})

	s.Run("draft subtree removed", func() {
		wing, err := svc.CreateWing(s.ctx, CreateWingRequest{
			PrisonID: "MDI", Code: "B",
			Landings: []CreateLandingSpec{{Code: "1", Cells: []CreateCellSpec{
				{Code: "001", AccommodationType: locations.AccommodationNormal},
			}}},
		}, "USER1")
		s.Require().NoError(err)

		s.Require().NoError(svc.DeleteDraft(s.ctx, wing.ID))

		_, err = svc.GetLocation(s.ctx, wing.ID)
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
		_, err = svc.GetLocationByKey(s.ctx, "MDI", "B-1-001")
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})
}

// =============================================================================
// Capacity
// =============================================================================

func (s *ServiceSuite) TestSetCapacityImmediate() {
	seed := s.seedPrison()
	svc := s.newService(occupancy.Stub{}, prisonconfig.StaticSource{})

	cell, err := svc.SetCapacity(s.ctx, seed.cells[0].ID, SetCapacityRequest{
		MaxCapacity: 3, WorkingCapacity: 3,
	}, "USER1")
	s.Require().NoError(err)

	s.Equal(locations.Capacity{MaxCapacity: 3, WorkingCapacity: 3}, cell.Capacity)
	s.Nil(cell.PendingChange)
	s.Equal(locations.Capacity{MaxCapacity: 5, WorkingCapacity: 5}, s.mustGet(seed.wing.ID).Capacity)

	s.Len(s.recorder.ByType(events.TypeAmended), 3)
	s.Len(s.recorder.ByType(events.TypeSignedOpCapAmended), 1)

	history, err := svc.History(s.ctx, seed.cells[0].ID)
	s.Require().NoError(err)
	attrs := make(map[string]bool)
	for _, rec := range history {
		attrs[rec.Attribute] = true
	}
	s.True(attrs[locations.AttributeMaxCapacity])
	s.True(attrs[locations.AttributeWorkingCapacity])
}

func (s *ServiceSuite) TestSetCapacityOccupancyVeto() {
	seed := s.seedPrison()
	svc := s.newService(occupancy.Stub{"A-1-001": 2}, prisonconfig.StaticSource{})

	_, err := svc.SetCapacity(s.ctx, seed.cells[0].ID, SetCapacityRequest{
		MaxCapacity: 1, WorkingCapacity: 1,
	}, "USER1")
	s.True(dErrors.HasCode(err, dErrors.CodeMaxBelowOccupancy))

	// Nothing moved.
	s.Equal(locations.Capacity{MaxCapacity: 2, WorkingCapacity: 2}, s.mustGet(seed.cells[0].ID).Capacity)
	s.Empty(s.recorder.Events)
}

func (s *ServiceSuite) TestSetCapacityStagedInCertificationPrison() {
	seed := s.seedPrison()
	svc := s.newService(occupancy.Stub{}, prisonconfig.StaticSource{"MDI": true})

	cell, err := svc.SetCapacity(s.ctx, seed.cells[0].ID, SetCapacityRequest{
		MaxCapacity: 3, WorkingCapacity: 3,
	}, "USER1")
	s.Require().NoError(err)

	// The live figures stay put; the change waits for sign-off.
	s.Equal(locations.Capacity{MaxCapacity: 2, WorkingCapacity: 2}, cell.Capacity)
	s.Require().NotNil(cell.PendingChange)
	s.Equal(3, *cell.PendingChange.MaxCapacity)
	s.Equal(3, *cell.PendingChange.WorkingCapacity)
	s.Equal(locations.Capacity{MaxCapacity: 4, WorkingCapacity: 4}, s.mustGet(seed.wing.ID).Capacity)
	s.Empty(s.recorder.Events)
}

func (s *ServiceSuite) TestSetCapacityRejectedWhileApprovalPending() {
	seed := s.seedPrison()
	svc := s.newService(occupancy.Stub{}, prisonconfig.StaticSource{"MDI": true})

	reqID := id.NewApprovalRequestID()
	pending := s.mustGet(seed.cells[0].ID)
	pending.PendingApprovalRequestID = &reqID
	s.Require().NoError(s.store.Save(s.ctx, pending))

	_, err := svc.SetCapacity(s.ctx, seed.cells[0].ID, SetCapacityRequest{
		MaxCapacity: 3, WorkingCapacity: 3,
	}, "USER1")
	s.True(dErrors.HasCode(err, dErrors.CodeApprovalAlreadyPending))
}

func (s *ServiceSuite) TestSetCapacityUncertifiedCellAppliesImmediately() {
	seed := s.seedPrison()
	uncertified := s.mustGet(seed.cells[0].ID)
	uncertified.Certification = locations.Certification{}
	s.Require().NoError(s.store.Save(s.ctx, uncertified))
	svc := s.newService(occupancy.Stub{}, prisonconfig.StaticSource{"MDI": true})

	cell, err := svc.SetCapacity(s.ctx, seed.cells[0].ID, SetCapacityRequest{
		MaxCapacity: 3, WorkingCapacity: 3,
	}, "USER1")
	s.Require().NoError(err)
	s.Equal(locations.Capacity{MaxCapacity: 3, WorkingCapacity: 3}, cell.Capacity)
	s.Nil(cell.PendingChange)
}

func (s *ServiceSuite) TestSetCellMark() {
	seed := s.seedPrison()

	s.Run("applies immediately outside certification prisons", func() {
		svc := s.newService(occupancy.Stub{}, prisonconfig.StaticSource{})
		cell, err := svc.SetCellMark(s.ctx, seed.cells[0].ID, "A1", "USER1")
		s.Require().NoError(err)
		s.Equal("A1", cell.CellMark)
		s.Len(s.recorder.ByType(events.TypeAmended), 1)
	})

	s.Run("staged for certified cells", func() {
		s.recorder.Reset()
		svc := s.newService(occupancy.Stub{}, prisonconfig.StaticSource{"MDI": true})
		cell, err := svc.SetCellMark(s.ctx, seed.cells[1].ID, "B2", "USER1")
		s.Require().NoError(err)
		s.Empty(cell.CellMark)
		s.Require().NotNil(cell.PendingChange)
		s.Equal("B2", *cell.PendingChange.CellMark)
		s.Empty(s.recorder.Events)
	})
}

func (s *ServiceSuite) TestUpdateUsedForPropagates() {
	seed := s.seedPrison()
	svc := s.newService(occupancy.Stub{}, prisonconfig.StaticSource{})

	usedFor := []locations.UsedForType{locations.UsedForFirstNight}
	_, err := svc.UpdateUsedFor(s.ctx, seed.wing.ID, usedFor, "USER1")
	s.Require().NoError(err)

	for _, locID := range []id.LocationID{seed.wing.ID, seed.landing.ID, seed.cells[0].ID, seed.cells[1].ID} {
		s.Equal(usedFor, s.mustGet(locID).UsedFor)
	}
}

func (s *ServiceSuite) TestConvertCellToNonResidential() {
	seed := s.seedPrison()

	s.Run("occupied cell rejected", func() {
		svc := s.newService(occupancy.Stub{"A-1-001": 1}, prisonconfig.StaticSource{})
		_, err := svc.ConvertCellToNonResidential(s.ctx, seed.cells[0].ID, locations.ConvertedOffice, "USER1")
		s.True(dErrors.HasCode(err, dErrors.CodeMaxBelowOccupancy))
	})

	s.Run("empty cell converted", func() {
		svc := s.newService(occupancy.Stub{}, prisonconfig.StaticSource{})
		cell, err := svc.ConvertCellToNonResidential(s.ctx, seed.cells[0].ID, locations.ConvertedOffice, "USER1")
		s.Require().NoError(err)
		s.Equal(locations.KindNonResidential, cell.Kind())
		s.Equal(locations.Capacity{}, cell.Capacity)
		s.Equal(locations.Capacity{MaxCapacity: 2, WorkingCapacity: 2}, s.mustGet(seed.wing.ID).Capacity)
	})

	s.Run("converted back to a cell", func() {
		svc := s.newService(occupancy.Stub{}, prisonconfig.StaticSource{})
		cell, err := svc.ConvertToCell(s.ctx, seed.cells[0].ID, ConvertToCellRequest{
			AccommodationType: locations.AccommodationNormal,
			MaxCapacity:       2, WorkingCapacity: 2,
		}, "USER1")
		s.Require().NoError(err)
		s.True(cell.IsCell())
		s.Equal(locations.Capacity{MaxCapacity: 4, WorkingCapacity: 4}, s.mustGet(seed.wing.ID).Capacity)
	})
}

// =============================================================================
// Deactivation and Reactivation
// =============================================================================

func (s *ServiceSuite) TestDeactivate() {
	seed := s.seedPrison()
	svc := s.newService(occupancy.Stub{}, prisonconfig.StaticSource{})

	wing, err := svc.Deactivate(s.ctx, seed.wing.ID, locations.DeactivationDetails{
		Reason: locations.ReasonRefurbishment,
	}, "USER1")
	s.Require().NoError(err)

	s.Equal(locations.StatusInactive, wing.Status)
	s.Equal(locations.StatusInactive, s.mustGet(seed.cells[0].ID).Status)
	s.True(s.mustGet(seed.cells[0].ID).DeactivatedByParent)
	s.Equal(locations.Capacity{MaxCapacity: 4, WorkingCapacity: 0}, s.mustGet(seed.wing.ID).Capacity)

	s.Len(s.recorder.ByType(events.TypeDeactivated), 4)
	s.Len(s.recorder.ByType(events.TypeSignedOpCapAmended), 1)
}

func (s *ServiceSuite) TestDeactivateOccupiedSubtreeVetoed() {
	seed := s.seedPrison()
	svc := s.newService(occupancy.Stub{"A-1-002": 1}, prisonconfig.StaticSource{})

	_, err := svc.Deactivate(s.ctx, seed.wing.ID, locations.DeactivationDetails{
		Reason: locations.ReasonDamaged,
	}, "USER1")
	s.True(dErrors.HasCode(err, dErrors.CodeLocationOccupied))

	s.Equal(locations.StatusActive, s.mustGet(seed.wing.ID).Status)
	s.Empty(s.recorder.Events)
}

func (s *ServiceSuite) TestDeactivateStagedInCertificationPrison() {
	seed := s.seedPrison()
	svc := s.newService(occupancy.Stub{}, prisonconfig.StaticSource{"MDI": true})

	wing, err := svc.Deactivate(s.ctx, seed.wing.ID, locations.DeactivationDetails{
		Reason: locations.ReasonMothballed,
	}, "USER1")
	s.Require().NoError(err)

	// Still live; the deactivation waits for sign-off.
	s.Equal(locations.StatusActive, wing.Status)
	s.Require().NotNil(wing.PendingChange)
	s.Require().NotNil(wing.PendingChange.Deactivation)
	s.Equal(locations.ReasonMothballed, wing.PendingChange.Deactivation.Reason)
	s.Equal(locations.StatusActive, s.mustGet(seed.cells[0].ID).Status)
	s.Empty(s.recorder.Events)
}

func (s *ServiceSuite) TestReactivate() {
	seed := s.seedPrison()
	svc := s.newService(occupancy.Stub{}, prisonconfig.StaticSource{})

	_, err := svc.Deactivate(s.ctx, seed.cells[0].ID, locations.DeactivationDetails{
		Reason: locations.ReasonDamaged,
	}, "USER1")
	s.Require().NoError(err)
	s.recorder.Reset()

	cell, err := svc.Reactivate(s.ctx, seed.cells[0].ID, nil, false, "USER2")
	s.Require().NoError(err)

	s.Equal(locations.StatusActive, cell.Status)
	s.Equal(locations.Capacity{MaxCapacity: 2, WorkingCapacity: 2}, cell.Capacity)
	s.Equal(locations.Capacity{MaxCapacity: 4, WorkingCapacity: 4}, s.mustGet(seed.wing.ID).Capacity)
	s.Len(s.recorder.ByType(events.TypeReactivated), 1)
}

func (s *ServiceSuite) TestBulkDeactivate() {
	seed := s.seedPrison()

	s.Run("one occupied cell aborts the whole batch", func() {
		svc := s.newService(occupancy.Stub{"A-1-002": 1}, prisonconfig.StaticSource{})
		_, err := svc.BulkDeactivate(s.ctx, "MDI", []BulkDeactivationItem{
			{LocationID: seed.cells[0].ID, Details: locations.DeactivationDetails{Reason: locations.ReasonDamp}},
			{LocationID: seed.cells[1].ID, Details: locations.DeactivationDetails{Reason: locations.ReasonDamp}},
		}, "USER1")
		s.True(dErrors.HasCode(err, dErrors.CodeLocationOccupied))
		s.Equal(locations.StatusActive, s.mustGet(seed.cells[0].ID).Status)
	})

	s.Run("invalid details rejected before any work", func() {
		svc := s.newService(occupancy.Stub{}, prisonconfig.StaticSource{})
		_, err := svc.BulkDeactivate(s.ctx, "MDI", []BulkDeactivationItem{
			{LocationID: seed.cells[0].ID, Details: locations.DeactivationDetails{Reason: locations.ReasonOther}},
		}, "USER1")
		s.True(dErrors.HasCode(err, dErrors.CodeOtherReasonWithoutDetail))
	})

	s.Run("batch deactivates every item", func() {
		svc := s.newService(occupancy.Stub{}, prisonconfig.StaticSource{})
		results, err := svc.BulkDeactivate(s.ctx, "MDI", []BulkDeactivationItem{
			{LocationID: seed.cells[0].ID, Details: locations.DeactivationDetails{Reason: locations.ReasonDamp}},
			{LocationID: seed.cells[1].ID, Details: locations.DeactivationDetails{Reason: locations.ReasonPest}},
		}, "USER1")
		s.Require().NoError(err)
		s.Len(results, 2)
		s.Equal(locations.StatusInactive, s.mustGet(seed.cells[0].ID).Status)
		s.Equal(locations.StatusInactive, s.mustGet(seed.cells[1].ID).Status)
		s.Equal(locations.Capacity{MaxCapacity: 4, WorkingCapacity: 0}, s.mustGet(seed.wing.ID).Capacity)
	})
}

func (s *ServiceSuite) TestBulkReactivateSkipsAlreadyCascaded() {
	seed := s.seedPrison()
	svc := s.newService(occupancy.Stub{}, prisonconfig.StaticSource{})

	_, err := svc.Deactivate(s.ctx, seed.wing.ID, locations.DeactivationDetails{
		Reason: locations.ReasonMothballed,
	}, "USER1")
	s.Require().NoError(err)
	s.recorder.Reset()

	// The wing cascade brings the cell back before its own item runs.
	results, err := svc.BulkReactivate(s.ctx, "MDI", []BulkReactivationItem{
		{LocationID: seed.wing.ID, Cascade: true},
		{LocationID: seed.cells[0].ID},
	}, "USER2")
	s.Require().NoError(err)

	s.Len(results, 2)
	s.Equal(locations.StatusActive, s.mustGet(seed.cells[0].ID).Status)
	s.Equal(locations.Capacity{MaxCapacity: 4, WorkingCapacity: 4}, s.mustGet(seed.wing.ID).Capacity)
	s.Len(s.recorder.ByType(events.TypeReactivated), 4)
}

// =============================================================================
// Reads
// =============================================================================

func (s *ServiceSuite) TestGetResidentialSummary() {
	seed := s.seedPrison()
	svc := s.newService(occupancy.Stub{}, prisonconfig.StaticSource{})

	s.Run("whole prison", func() {
		summaries, err := svc.GetResidentialSummary(s.ctx, "MDI", "")
		s.Require().NoError(err)
		s.Require().Len(summaries, 1)
		s.Equal(seed.wing.ID, summaries[0].Location.ID)
		s.Require().Len(summaries[0].SubLocations, 1)
		s.Len(summaries[0].SubLocations[0].SubLocations, 2)
	})

	s.Run("subtree by path", func() {
		summaries, err := svc.GetResidentialSummary(s.ctx, "MDI", "A-1")
		s.Require().NoError(err)
		s.Require().Len(summaries, 1)
		s.Equal(seed.landing.ID, summaries[0].Location.ID)
	})

	s.Run("unknown path", func() {
		_, err := svc.GetResidentialSummary(s.ctx, "MDI", "Z")
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})

	s.Run("unknown prison", func() {
		_, err := svc.GetResidentialSummary(s.ctx, "XXX", "")
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})
}
