package service

import (
	"context"
	"errors"

	"locations-inside-prison/internal/certificates"
	id "locations-inside-prison/pkg/domain"
	dErrors "locations-inside-prison/pkg/domain-errors"
	"locations-inside-prison/pkg/platform/sentinel"
)

// GetCertificate returns one issued certificate.
func (s *Service) GetCertificate(ctx context.Context, certID id.CertificateID) (*certificates.CellCertificate, error) {
	cert, err := s.certs.FindByID(ctx, certID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "certificate not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load certificate")
	}
	return cert, nil
}

// CurrentCertificate returns the prison's in-force certificate.
func (s *Service) CurrentCertificate(ctx context.Context, prisonID string) (*certificates.CellCertificate, error) {
	cert, err := s.certs.Current(ctx, prisonID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.Newf(dErrors.CodeNotFound, "no current certificate for prison %s", prisonID)
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load certificate")
	}
	return cert, nil
}

// CertificateHistory returns every certificate ever issued for a prison,
// oldest first.
func (s *Service) CertificateHistory(ctx context.Context, prisonID string) ([]*certificates.CellCertificate, error) {
	certs, err := s.certs.FindAllByPrison(ctx, prisonID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list certificates")
	}
	return certs, nil
}
