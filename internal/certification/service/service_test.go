package service

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"locations-inside-prison/internal/certificates"
	"locations-inside-prison/internal/certification"
	"locations-inside-prison/internal/events"
	"locations-inside-prison/internal/locations"
	"locations-inside-prison/internal/occupancy"
	id "locations-inside-prison/pkg/domain"
	dErrors "locations-inside-prison/pkg/domain-errors"
	"locations-inside-prison/pkg/platform/tx"
)

// =============================================================================
// Certification Service Suite
// =============================================================================
// Justification for unit tests: the approval workflow spans three stores and
// the location tree. These tests drive the full request/decide cycle against
// the in-memory stores and assert the one invariant that matters most: every
// approval issues exactly one current certificate.

type CertificationSuite struct {
	suite.Suite
	ctx      context.Context
	locs     *locations.InMemoryStore
	reqs     *certification.InMemoryStore
	certs    *certificates.InMemoryStore
	occ      occupancy.Stub
	recorder *events.Recorder
	svc      *Service
	now      time.Time
}

func TestCertificationSuite(t *testing.T) {
	suite.Run(t, new(CertificationSuite))
}

func (s *CertificationSuite) SetupTest() {
	s.ctx = context.Background()
	s.locs = locations.NewInMemoryStore()
	s.reqs = certification.NewInMemoryStore()
	s.certs = certificates.NewInMemoryStore()
	s.occ = occupancy.Stub{}
	s.recorder = events.NewRecorder()
	s.now = time.Date(2026, time.March, 10, 12, 0, 0, 0, time.UTC)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	builder := certificates.NewBuilder(s.locs, s.certs)
	s.svc = NewService(s.locs, s.reqs, s.certs, builder, tx.Nop{}, s.occ, s.recorder, logger,
		WithClock(func() time.Time { return s.now }))
}

type seeded struct {
	wing    *locations.Location
	landing *locations.Location
	cells   []*locations.Location
}

func (s *CertificationSuite) seedPrison() seeded {
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
	s.Require().NoError(s.locs.Save(s.ctx, append([]*locations.Location{wing, landing}, cells...)...))
	return seeded{wing: wing, landing: landing, cells: cells}
}

func (s *CertificationSuite) mustGet(locID id.LocationID) *locations.Location {
	loc, err := s.locs.FindByID(s.ctx, locID)
	s.Require().NoError(err)
	return loc
}

// stageCapacity stages a max/working change on the cell the way the locations
// service would in a certification prison.
func (s *CertificationSuite) stageCapacity(cell *locations.Location, maxCap, workingCap int) {
	node := s.mustGet(cell.ID)
	node.PendingChange = &locations.PendingChange{
		MaxCapacity:     &maxCap,
		WorkingCapacity: &workingCap,
	}
	s.Require().NoError(s.locs.Save(s.ctx, node))
}

func (s *CertificationSuite) stageDeactivation(loc *locations.Location, details locations.DeactivationDetails) {
	node := s.mustGet(loc.ID)
	node.PendingChange = &locations.PendingChange{Deactivation: &details}
	s.Require().NoError(s.locs.Save(s.ctx, node))
}

// =============================================================================
// Raising Requests
// =============================================================================

func (s *CertificationSuite) TestRequestApprovalNothingStaged() {
	seed := s.seedPrison()
	_, err := s.svc.RequestApproval(s.ctx, seed.cells[0].ID, "REQUESTER")
	s.True(dErrors.HasCode(err, dErrors.CodeNothingToApprove))
}

func (s *CertificationSuite) TestRequestApprovalForStagedCapacity() {
	seed := s.seedPrison()
	s.stageCapacity(seed.cells[0], 3, 3)

	req, err := s.svc.RequestApproval(s.ctx, seed.cells[0].ID, "REQUESTER")
	s.Require().NoError(err)

	s.Equal(certification.ApprovalCapacity, req.ApprovalType)
	s.Equal(certification.StatusPending, req.Status)
	s.Equal("MDI-A-1-001", req.LocationKey)
	s.Equal(1, req.MaxCapacityChange)
	s.Equal(1, req.WorkingCapacityChange)
	s.Equal(0, req.CNAChange)
	s.Require().NotNil(req.Requested)
	s.Equal(3, *req.Requested.MaxCapacity)

	// The snapshot carries the live values at request time, not the staged ones.
	s.Require().Len(req.AffectedLocations, 1)
	s.Equal("A-1-001", req.AffectedLocations[0].PathHierarchy)
	s.Equal(locations.Capacity{MaxCapacity: 2, WorkingCapacity: 2}, req.AffectedLocations[0].Capacity)

	linked := s.mustGet(seed.cells[0].ID)
	s.Require().NotNil(linked.PendingApprovalRequestID)
	s.Equal(req.ID, *linked.PendingApprovalRequestID)
}

func (s *CertificationSuite) TestRequestApprovalOverlapRejected() {
	seed := s.seedPrison()
	s.stageCapacity(seed.cells[0], 3, 3)
	_, err := s.svc.RequestApproval(s.ctx, seed.cells[0].ID, "REQUESTER")
	s.Require().NoError(err)

	s.Run("same location", func() {
		_, err := s.svc.RequestApproval(s.ctx, seed.cells[0].ID, "REQUESTER")
		s.True(dErrors.HasCode(err, dErrors.CodeApprovalAlreadyPending))
	})

	s.Run("ancestor of a pending request", func() {
		s.stageDeactivation(seed.wing, locations.DeactivationDetails{Reason: locations.ReasonMothballed})
		_, err := s.svc.RequestApproval(s.ctx, seed.wing.ID, "REQUESTER")
		s.True(dErrors.HasCode(err, dErrors.CodeApprovalAlreadyPending))
	})

	s.Run("descendant of a pending request", func() {
		s.stageDeactivation(seed.landing, locations.DeactivationDetails{Reason: locations.ReasonMothballed})
		_, err := s.svc.RequestApproval(s.ctx, seed.landing.ID, "REQUESTER")
		s.True(dErrors.HasCode(err, dErrors.CodeApprovalAlreadyPending))
	})

	s.Run("sibling is unaffected", func() {
		s.stageCapacity(seed.cells[1], 1, 1)
		_, err := s.svc.RequestApproval(s.ctx, seed.cells[1].ID, "REQUESTER")
		s.NoError(err)
	})
}

func (s *CertificationSuite) TestRequestApprovalForDraft() {
	s.seedPrison()
	wingID, landingID := id.NewLocationID(), id.NewLocationID()
	wing := &locations.Location{
		ID: wingID, PrisonID: "MDI", Code: "B", PathHierarchy: "B",
		LocationType: locations.TypeWing, Status: locations.StatusDraft,
	}
	landing := &locations.Location{
		ID: landingID, PrisonID: "MDI", Code: "1", PathHierarchy: "B-1",
		ParentID: &wingID, LocationType: locations.TypeLanding, Status: locations.StatusDraft,
	}
	cell := &locations.Location{
		ID: id.NewLocationID(), PrisonID: "MDI", Code: "001", PathHierarchy: "B-1-001",
		ParentID: &landingID, LocationType: locations.TypeCell, Status: locations.StatusDraft,
		AccommodationType: locations.AccommodationNormal,
		Capacity:          locations.Capacity{MaxCapacity: 3, WorkingCapacity: 3},
	}
	s.Require().NoError(s.locs.Save(s.ctx, wing, landing, cell))

	req, err := s.svc.RequestApproval(s.ctx, wingID, "REQUESTER")
	s.Require().NoError(err)
	s.Equal(certification.ApprovalDraft, req.ApprovalType)
	s.Nil(req.Requested)

	// The whole draft scaffold is denormalized onto the request, nested.
	s.Require().Len(req.AffectedLocations, 1)
	s.Equal("B", req.AffectedLocations[0].Code)
	s.Require().Len(req.AffectedLocations[0].SubLocations, 1)
	s.Equal("B-1", req.AffectedLocations[0].SubLocations[0].PathHierarchy)
	s.Require().Len(req.AffectedLocations[0].SubLocations[0].SubLocations, 1)
	frozen := req.AffectedLocations[0].SubLocations[0].SubLocations[0]
	s.Equal("B-1-001", frozen.PathHierarchy)
	s.Equal(locations.Capacity{MaxCapacity: 3, WorkingCapacity: 3}, frozen.Capacity)
}

// =============================================================================
// Deciding Requests
// =============================================================================

func (s *CertificationSuite) TestApproveCapacityChange() {
	seed := s.seedPrison()
	s.stageCapacity(seed.cells[0], 3, 3)
	req, err := s.svc.RequestApproval(s.ctx, seed.cells[0].ID, "REQUESTER")
	s.Require().NoError(err)

	decided, err := s.svc.Approve(s.ctx, req.ID, "looks right", "GOVERNOR")
	s.Require().NoError(err)

	s.Equal(certification.StatusApproved, decided.Status)
	s.Equal("GOVERNOR", decided.DecidedBy)
	s.Equal("looks right", decided.Comment)
	s.Require().NotNil(decided.CertificateID)

	cell := s.mustGet(seed.cells[0].ID)
	s.Equal(locations.Capacity{MaxCapacity: 3, WorkingCapacity: 3}, cell.Capacity)
	s.Nil(cell.PendingChange)
	s.Nil(cell.PendingApprovalRequestID)
	s.Equal(locations.Capacity{MaxCapacity: 5, WorkingCapacity: 5}, s.mustGet(seed.wing.ID).Capacity)

	cert, err := s.svc.CurrentCertificate(s.ctx, "MDI")
	s.Require().NoError(err)
	s.Equal(*decided.CertificateID, cert.ID)
	s.Equal(5, cert.TotalMaxCapacity)
	s.Equal(5, cert.TotalWorkingCapacity)

	s.NotEmpty(s.recorder.ByType(events.TypeAmended))
	s.Len(s.recorder.ByType(events.TypeSignedOpCapAmended), 1)
}

func (s *CertificationSuite) TestApproveDraftActivatesSubtree() {
	s.seedPrison()
	wingID, landingID := id.NewLocationID(), id.NewLocationID()
	wing := &locations.Location{
		ID: wingID, PrisonID: "MDI", Code: "B", PathHierarchy: "B",
		LocationType: locations.TypeWing, Status: locations.StatusDraft,
	}
	landing := &locations.Location{
		ID: landingID, PrisonID: "MDI", Code: "1", PathHierarchy: "B-1",
		ParentID: &wingID, LocationType: locations.TypeLanding, Status: locations.StatusDraft,
	}
	cell := &locations.Location{
		ID: id.NewLocationID(), PrisonID: "MDI", Code: "001", PathHierarchy: "B-1-001",
		ParentID: &landingID, LocationType: locations.TypeCell, Status: locations.StatusDraft,
		AccommodationType: locations.AccommodationNormal,
		Capacity:          locations.Capacity{MaxCapacity: 3, WorkingCapacity: 3},
		Certification:     locations.Certification{CertifiedNormalAccommodation: 3},
	}
	s.Require().NoError(s.locs.Save(s.ctx, wing, landing, cell))

	req, err := s.svc.RequestApproval(s.ctx, wingID, "REQUESTER")
	s.Require().NoError(err)
	_, err = s.svc.Approve(s.ctx, req.ID, "", "GOVERNOR")
	s.Require().NoError(err)

	s.Equal(locations.StatusActive, s.mustGet(wingID).Status)
	s.Equal(locations.StatusActive, s.mustGet(landingID).Status)
	activated := s.mustGet(cell.ID)
	s.Equal(locations.StatusActive, activated.Status)
	s.True(activated.Certification.Certified)
	// The wing aggregate now reflects its activated cell.
	s.Equal(locations.Capacity{MaxCapacity: 3, WorkingCapacity: 3}, s.mustGet(wingID).Capacity)

	cert, err := s.svc.CurrentCertificate(s.ctx, "MDI")
	s.Require().NoError(err)
	// Old wing (4) plus the activated one (3).
	s.Equal(7, cert.TotalMaxCapacity)
}

func (s *CertificationSuite) TestApproveDeactivation() {
	seed := s.seedPrison()
	s.stageDeactivation(seed.wing, locations.DeactivationDetails{Reason: locations.ReasonRefurbishment})
	req, err := s.svc.RequestApproval(s.ctx, seed.wing.ID, "REQUESTER")
	s.Require().NoError(err)
	s.Equal(certification.ApprovalDeactivation, req.ApprovalType)

	_, err = s.svc.Approve(s.ctx, req.ID, "", "GOVERNOR")
	s.Require().NoError(err)

	s.Equal(locations.StatusInactive, s.mustGet(seed.wing.ID).Status)
	s.Equal(locations.StatusInactive, s.mustGet(seed.cells[0].ID).Status)
	s.Len(s.recorder.ByType(events.TypeDeactivated), 4)

	cert, err := s.svc.CurrentCertificate(s.ctx, "MDI")
	s.Require().NoError(err)
	s.Equal(4, cert.TotalMaxCapacity)
	s.Equal(0, cert.TotalWorkingCapacity)
}

func (s *CertificationSuite) TestApproveDeactivationRechecksOccupancy() {
	seed := s.seedPrison()
	s.stageDeactivation(seed.wing, locations.DeactivationDetails{Reason: locations.ReasonDamaged})
	req, err := s.svc.RequestApproval(s.ctx, seed.wing.ID, "REQUESTER")
	s.Require().NoError(err)

	// A prisoner moves in between staging and sign-off.
	s.occ["A-1-001"] = 1

	_, err = s.svc.Approve(s.ctx, req.ID, "", "GOVERNOR")
	s.True(dErrors.HasCode(err, dErrors.CodeLocationOccupied))

	cell := s.mustGet(seed.cells[0].ID)
	s.Equal(locations.StatusActive, cell.Status)
	s.Equal(2, cell.Capacity.WorkingCapacity)
	s.Equal(locations.StatusActive, s.mustGet(seed.wing.ID).Status)

	undecided, err := s.svc.GetRequest(s.ctx, req.ID)
	s.Require().NoError(err)
	s.Equal(certification.StatusPending, undecided.Status)

	_, err = s.svc.CurrentCertificate(s.ctx, "MDI")
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	s.Empty(s.recorder.ByType(events.TypeDeactivated))
}

func (s *CertificationSuite) TestRejectDiscardsStagedChange() {
	seed := s.seedPrison()
	s.stageCapacity(seed.cells[0], 3, 3)
	req, err := s.svc.RequestApproval(s.ctx, seed.cells[0].ID, "REQUESTER")
	s.Require().NoError(err)

	decided, err := s.svc.Reject(s.ctx, req.ID, "not funded", "GOVERNOR")
	s.Require().NoError(err)
	s.Equal(certification.StatusRejected, decided.Status)

	cell := s.mustGet(seed.cells[0].ID)
	s.Equal(locations.Capacity{MaxCapacity: 2, WorkingCapacity: 2}, cell.Capacity)
	s.Nil(cell.PendingChange)
	s.Nil(cell.PendingApprovalRequestID)

	// No certificate is issued on rejection.
	_, err = s.svc.CurrentCertificate(s.ctx, "MDI")
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
}

func (s *CertificationSuite) TestDecidedRequestCannotBeDecidedAgain() {
	seed := s.seedPrison()
	s.stageCapacity(seed.cells[0], 3, 3)
	req, err := s.svc.RequestApproval(s.ctx, seed.cells[0].ID, "REQUESTER")
	s.Require().NoError(err)
	_, err = s.svc.Approve(s.ctx, req.ID, "", "GOVERNOR")
	s.Require().NoError(err)

	_, err = s.svc.Approve(s.ctx, req.ID, "", "GOVERNOR")
	s.True(dErrors.HasCode(err, dErrors.CodeApprovalRequestResolved))
	_, err = s.svc.Reject(s.ctx, req.ID, "", "GOVERNOR")
	s.True(dErrors.HasCode(err, dErrors.CodeApprovalRequestResolved))
}

func (s *CertificationSuite) TestGetRequestNotFound() {
	_, err := s.svc.GetRequest(s.ctx, id.NewApprovalRequestID())
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
}

// =============================================================================
// Certificates
// =============================================================================

func (s *CertificationSuite) TestRepeatedApprovalsKeepOneCurrentCertificate() {
	seed := s.seedPrison()

	for i, target := range []int{3, 4, 5} {
		s.stageCapacity(seed.cells[0], target, target)
		req, err := s.svc.RequestApproval(s.ctx, seed.cells[0].ID, "REQUESTER")
		s.Require().NoError(err)
		s.now = s.now.Add(time.Duration(i+1) * time.Hour)
		_, err = s.svc.Approve(s.ctx, req.ID, "", "GOVERNOR")
		s.Require().NoError(err)
	}

	history, err := s.svc.CertificateHistory(s.ctx, "MDI")
	s.Require().NoError(err)
	s.Require().Len(history, 3)

	current := 0
	for _, cert := range history {
		if cert.Current {
			current++
		}
	}
	s.Equal(1, current)

	cert, err := s.svc.CurrentCertificate(s.ctx, "MDI")
	s.Require().NoError(err)
	s.True(cert.Current)
	s.Equal(7, cert.TotalMaxCapacity)
}

func (s *CertificationSuite) TestCertificateSnapshotExcludesDraftsAndNonRes() {
	seed := s.seedPrison()

	// A draft wing and an office should never appear on a certificate.
	draft := &locations.Location{
		ID: id.NewLocationID(), PrisonID: "MDI", Code: "C", PathHierarchy: "C",
		LocationType: locations.TypeWing, Status: locations.StatusDraft,
	}
	office := &locations.Location{
		ID: id.NewLocationID(), PrisonID: "MDI", Code: "OFF1", PathHierarchy: "OFF1",
		LocationType: locations.TypeOffice, Status: locations.StatusActive,
	}
	s.Require().NoError(s.locs.Save(s.ctx, draft, office))

	s.stageCapacity(seed.cells[0], 3, 3)
	req, err := s.svc.RequestApproval(s.ctx, seed.cells[0].ID, "REQUESTER")
	s.Require().NoError(err)
	_, err = s.svc.Approve(s.ctx, req.ID, "", "GOVERNOR")
	s.Require().NoError(err)

	cert, err := s.svc.CurrentCertificate(s.ctx, "MDI")
	s.Require().NoError(err)
	s.Require().Len(cert.Locations, 1)
	s.Equal("A", cert.Locations[0].Code)
	s.Require().Len(cert.Locations[0].SubLocations, 1)
	s.Len(cert.Locations[0].SubLocations[0].SubLocations, 2)
}
