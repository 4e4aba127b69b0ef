//go:build integration

package certification_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"locations-inside-prison/internal/certificates"
	"locations-inside-prison/internal/certification"
	"locations-inside-prison/internal/locations"
	id "locations-inside-prison/pkg/domain"
	"locations-inside-prison/pkg/platform/sentinel"
	"locations-inside-prison/pkg/testutil/containers"
)

type PostgresStoreSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	store    *certification.PostgresStore
}

func TestPostgresStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresStoreSuite))
}

func (s *PostgresStoreSuite) SetupSuite() {
	mgr := containers.GetManager()
	s.postgres = mgr.GetPostgres(s.T())
	s.store = certification.NewPostgresStore(s.postgres.DB)
}

func (s *PostgresStoreSuite) SetupTest() {
	ctx := context.Background()
	err := s.postgres.TruncateTables(ctx, "approval_requests")
	s.Require().NoError(err)
}

func newTestRequest(prisonID string, requestedAt time.Time) *certification.ApprovalRequest {
	maxCap := 3
	workingCap := 3
	return &certification.ApprovalRequest{
		ID:                    id.NewApprovalRequestID(),
		PrisonID:              prisonID,
		LocationID:            id.NewLocationID(),
		LocationKey:           prisonID + "-A-1-001",
		PathHierarchy:         "A-1-001",
		ApprovalType:          certification.ApprovalCapacity,
		Status:                certification.StatusPending,
		MaxCapacityChange:     1,
		WorkingCapacityChange: 1,
		Requested: &locations.PendingChange{
			MaxCapacity:     &maxCap,
			WorkingCapacity: &workingCap,
		},
		AffectedLocations: []certificates.SnapshotNode{{
			Code:          "001",
			PathHierarchy: "A-1-001",
			LocationType:  locations.TypeCell,
			Capacity:      locations.Capacity{MaxCapacity: 2, WorkingCapacity: 2},
		}},
		RequestedBy: "REQUESTER",
		RequestedAt: requestedAt,
	}
}

func (s *PostgresStoreSuite) TestRoundTrip() {
	ctx := context.Background()
	requestedAt := time.Now().UTC().Truncate(time.Microsecond)

	req := newTestRequest("MDI", requestedAt)
	s.Require().NoError(s.store.Save(ctx, req))

	found, err := s.store.FindByID(ctx, req.ID)
	s.Require().NoError(err)
	s.Equal(req.PrisonID, found.PrisonID)
	s.Equal(req.LocationID, found.LocationID)
	s.Equal(req.LocationKey, found.LocationKey)
	s.Equal(certification.ApprovalCapacity, found.ApprovalType)
	s.Equal(certification.StatusPending, found.Status)
	s.Equal(1, found.MaxCapacityChange)
	s.True(requestedAt.Equal(found.RequestedAt))
	s.Require().NotNil(found.Requested)
	s.Require().NotNil(found.Requested.MaxCapacity)
	s.Equal(3, *found.Requested.MaxCapacity)
	s.Require().Len(found.AffectedLocations, 1)
	s.Equal("A-1-001", found.AffectedLocations[0].PathHierarchy)
	s.Equal(locations.Capacity{MaxCapacity: 2, WorkingCapacity: 2}, found.AffectedLocations[0].Capacity)
	s.Empty(found.DecidedBy)
	s.Nil(found.DecidedAt)
	s.Nil(found.CertificateID)
}

func (s *PostgresStoreSuite) TestDecisionUpdatesRow() {
	ctx := context.Background()

	req := newTestRequest("MDI", time.Now().UTC().Truncate(time.Microsecond))
	s.Require().NoError(s.store.Save(ctx, req))

	decidedAt := time.Now().UTC().Truncate(time.Microsecond)
	certID := id.NewCertificateID()
	req.Status = certification.StatusApproved
	req.DecidedBy = "APPROVER"
	req.DecidedAt = &decidedAt
	req.Comment = "agreed"
	req.CertificateID = &certID
	s.Require().NoError(s.store.Save(ctx, req))

	found, err := s.store.FindByID(ctx, req.ID)
	s.Require().NoError(err)
	s.Equal(certification.StatusApproved, found.Status)
	s.Equal("APPROVER", found.DecidedBy)
	s.Require().NotNil(found.DecidedAt)
	s.True(decidedAt.Equal(*found.DecidedAt))
	s.Equal("agreed", found.Comment)
	s.Require().NotNil(found.CertificateID)
	s.Equal(certID, *found.CertificateID)
}

func (s *PostgresStoreSuite) TestFindAllByPrison() {
	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Microsecond)

	older := newTestRequest("MDI", base.Add(-time.Hour))
	newer := newTestRequest("MDI", base)
	decided := newTestRequest("MDI", base.Add(-2*time.Hour))
	decided.Status = certification.StatusRejected
	other := newTestRequest("LEI", base)

	for _, req := range []*certification.ApprovalRequest{older, newer, decided, other} {
		s.Require().NoError(s.store.Save(ctx, req))
	}

	s.Run("unfiltered returns all in request order", func() {
		reqs, err := s.store.FindAllByPrison(ctx, "MDI", "")
		s.Require().NoError(err)
		s.Require().Len(reqs, 3)
		s.Equal(decided.ID, reqs[0].ID)
		s.Equal(older.ID, reqs[1].ID)
		s.Equal(newer.ID, reqs[2].ID)
	})

	s.Run("status filter", func() {
		reqs, err := s.store.FindAllByPrison(ctx, "MDI", certification.StatusPending)
		s.Require().NoError(err)
		s.Len(reqs, 2)

		reqs, err = s.store.FindAllByPrison(ctx, "MDI", certification.StatusRejected)
		s.Require().NoError(err)
		s.Require().Len(reqs, 1)
		s.Equal(decided.ID, reqs[0].ID)
	})
}

func (s *PostgresStoreSuite) TestNotFound() {
	ctx := context.Background()
	_, err := s.store.FindByID(ctx, id.NewApprovalRequestID())
	s.ErrorIs(err, sentinel.ErrNotFound)
}
