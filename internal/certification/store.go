package certification

import (
	"context"
	"sort"
	"sync"

	id "locations-inside-prison/pkg/domain"
	"locations-inside-prison/pkg/platform/sentinel"
)

// Store persists approval requests.
type Store interface {
	Save(ctx context.Context, req *ApprovalRequest) error
	FindByID(ctx context.Context, reqID id.ApprovalRequestID) (*ApprovalRequest, error)
	FindAllByPrison(ctx context.Context, prisonID string, status ApprovalStatus) ([]*ApprovalRequest, error)
}

// InMemoryStore keeps approval requests in process memory.
type InMemoryStore struct {
	mu   sync.RWMutex
	byID map[id.ApprovalRequestID]*ApprovalRequest
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{byID: make(map[id.ApprovalRequestID]*ApprovalRequest)}
}

func (s *InMemoryStore) Save(_ context.Context, req *ApprovalRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID[req.ID] = copyRequest(req)
	return nil
}

func (s *InMemoryStore) FindByID(_ context.Context, reqID id.ApprovalRequestID) (*ApprovalRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	req, ok := s.byID[reqID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return copyRequest(req), nil
}

func (s *InMemoryStore) FindAllByPrison(_ context.Context, prisonID string, status ApprovalStatus) ([]*ApprovalRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*ApprovalRequest
	for _, req := range s.byID {
		if req.PrisonID != prisonID {
			continue
		}
		if status != "" && req.Status != status {
			continue
		}
		out = append(out, copyRequest(req))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RequestedAt.Before(out[j].RequestedAt) })
	return out, nil
}

func copyRequest(req *ApprovalRequest) *ApprovalRequest {
	dup := *req
	if req.DecidedAt != nil {
		t := *req.DecidedAt
		dup.DecidedAt = &t
	}
	if req.CertificateID != nil {
		v := *req.CertificateID
		dup.CertificateID = &v
	}
	if req.Requested != nil {
		p := *req.Requested
		if req.Requested.Deactivation != nil {
			d := *req.Requested.Deactivation
			p.Deactivation = &d
		}
		dup.Requested = &p
	}
	return &dup
}
