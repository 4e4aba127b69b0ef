package certificates

import (
	"context"
	"sort"
	"sync"

	id "locations-inside-prison/pkg/domain"
	"locations-inside-prison/pkg/platform/sentinel"
)

// Store persists issued certificates. Certificates are append-only; the only
// mutation ever applied to an existing row is demoting it from current.
type Store interface {
	Save(ctx context.Context, cert *CellCertificate) error
	FindByID(ctx context.Context, certID id.CertificateID) (*CellCertificate, error)
	Current(ctx context.Context, prisonID string) (*CellCertificate, error)
	FindAllByPrison(ctx context.Context, prisonID string) ([]*CellCertificate, error)
	MarkNotCurrent(ctx context.Context, prisonID string) error
}

// InMemoryStore keeps certificates in process memory for tests and local
// development.
type InMemoryStore struct {
	mu   sync.RWMutex
	byID map[id.CertificateID]*CellCertificate
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{byID: make(map[id.CertificateID]*CellCertificate)}
}

func (s *InMemoryStore) Save(_ context.Context, cert *CellCertificate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	dup := *cert
	s.byID[cert.ID] = &dup
	return nil
}

func (s *InMemoryStore) FindByID(_ context.Context, certID id.CertificateID) (*CellCertificate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cert, ok := s.byID[certID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	dup := *cert
	return &dup, nil
}

func (s *InMemoryStore) Current(_ context.Context, prisonID string) (*CellCertificate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, cert := range s.byID {
		if cert.PrisonID == prisonID && cert.Current {
			dup := *cert
			return &dup, nil
		}
	}
	return nil, sentinel.ErrNotFound
}

func (s *InMemoryStore) FindAllByPrison(_ context.Context, prisonID string) ([]*CellCertificate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*CellCertificate
	for _, cert := range s.byID {
		if cert.PrisonID == prisonID {
			dup := *cert
			out = append(out, &dup)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ApprovedAt.Before(out[j].ApprovedAt) })
	return out, nil
}

func (s *InMemoryStore) MarkNotCurrent(_ context.Context, prisonID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, cert := range s.byID {
		if cert.PrisonID == prisonID {
			cert.Current = false
		}
	}
	return nil
}
