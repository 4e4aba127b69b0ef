//go:build integration

package certificates_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"locations-inside-prison/internal/certificates"
	"locations-inside-prison/internal/locations"
	id "locations-inside-prison/pkg/domain"
	"locations-inside-prison/pkg/platform/sentinel"
	"locations-inside-prison/pkg/testutil/containers"
)

type PostgresStoreSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	store    *certificates.PostgresStore
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
	s.store = certificates.NewPostgresStore(s.postgres.DB)
}

func (s *PostgresStoreSuite) SetupTest() {
	ctx := context.Background()
	err := s.postgres.TruncateTables(ctx, "cell_certificates")
	s.Require().NoError(err)
}

func newTestCertificate(prisonID string, approvedAt time.Time, current bool) *certificates.CellCertificate {
	return &certificates.CellCertificate{
		ID:                           id.NewCertificateID(),
		PrisonID:                     prisonID,
		ApprovedBy:                   "APPROVER",
		ApprovedAt:                   approvedAt,
		Current:                      current,
		TotalMaxCapacity:             4,
		TotalWorkingCapacity:         4,
		CertifiedNormalAccommodation: 4,
		Locations: []certificates.SnapshotNode{
			{
				Code:          "A",
				PathHierarchy: "A",
				LocationType:  locations.TypeWing,
				Capacity:      locations.Capacity{MaxCapacity: 4, WorkingCapacity: 4},
				Certification: locations.Certification{Certified: true, CertifiedNormalAccommodation: 4},
				SubLocations: []certificates.SnapshotNode{
					{
						Code:          "001",
						PathHierarchy: "A-001",
						LocationType:  locations.TypeCell,
						Capacity:      locations.Capacity{MaxCapacity: 4, WorkingCapacity: 4},
						Certification: locations.Certification{Certified: true, CertifiedNormalAccommodation: 4},
					},
				},
			},
		},
	}
}

func (s *PostgresStoreSuite) TestRoundTrip() {
	ctx := context.Background()
	approvedAt := time.Now().UTC().Truncate(time.Microsecond)

	cert := newTestCertificate("MDI", approvedAt, true)
	s.Require().NoError(s.store.Save(ctx, cert))

	found, err := s.store.FindByID(ctx, cert.ID)
	s.Require().NoError(err)
	s.Equal("MDI", found.PrisonID)
	s.Equal("APPROVER", found.ApprovedBy)
	s.True(approvedAt.Equal(found.ApprovedAt))
	s.True(found.Current)
	s.Equal(4, found.TotalMaxCapacity)

	// The nested snapshot survives the JSON column intact.
	s.Require().Len(found.Locations, 1)
	s.Equal("A", found.Locations[0].Code)
	s.Require().Len(found.Locations[0].SubLocations, 1)
	s.Equal("A-001", found.Locations[0].SubLocations[0].PathHierarchy)
	s.True(found.Locations[0].SubLocations[0].Certification.Certified)
}

func (s *PostgresStoreSuite) TestCurrent() {
	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Microsecond)

	old := newTestCertificate("MDI", base.Add(-time.Hour), false)
	current := newTestCertificate("MDI", base, true)
	s.Require().NoError(s.store.Save(ctx, old))
	s.Require().NoError(s.store.Save(ctx, current))

	found, err := s.store.Current(ctx, "MDI")
	s.Require().NoError(err)
	s.Equal(current.ID, found.ID)

	_, err = s.store.Current(ctx, "LEI")
	s.ErrorIs(err, sentinel.ErrNotFound)
}

// TestOneCurrentPerPrison verifies the partial unique index: a second current
// certificate for the same prison is rejected until the first is demoted.
func (s *PostgresStoreSuite) TestOneCurrentPerPrison() {
	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Microsecond)

	first := newTestCertificate("MDI", base.Add(-time.Hour), true)
	s.Require().NoError(s.store.Save(ctx, first))

	second := newTestCertificate("MDI", base, true)
	s.Error(s.store.Save(ctx, second))

	s.Require().NoError(s.store.MarkNotCurrent(ctx, "MDI"))
	s.Require().NoError(s.store.Save(ctx, second))

	found, err := s.store.Current(ctx, "MDI")
	s.Require().NoError(err)
	s.Equal(second.ID, found.ID)
}

func (s *PostgresStoreSuite) TestFindAllByPrisonOldestFirst() {
	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Microsecond)

	newest := newTestCertificate("MDI", base, true)
	oldest := newTestCertificate("MDI", base.Add(-2*time.Hour), false)
	middle := newTestCertificate("MDI", base.Add(-time.Hour), false)
	other := newTestCertificate("LEI", base, true)

	for _, cert := range []*certificates.CellCertificate{newest, oldest, middle, other} {
		s.Require().NoError(s.store.Save(ctx, cert))
	}

	certs, err := s.store.FindAllByPrison(ctx, "MDI")
	s.Require().NoError(err)
	s.Require().Len(certs, 3)
	s.Equal(oldest.ID, certs[0].ID)
	s.Equal(middle.ID, certs[1].ID)
	s.Equal(newest.ID, certs[2].ID)
}

func (s *PostgresStoreSuite) TestNotFound() {
	ctx := context.Background()
	_, err := s.store.FindByID(ctx, id.NewCertificateID())
	s.ErrorIs(err, sentinel.ErrNotFound)
}
