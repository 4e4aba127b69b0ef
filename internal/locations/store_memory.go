package locations

import (
	"context"
	"sort"
	"sync"

	id "locations-inside-prison/pkg/domain"
	"locations-inside-prison/pkg/platform/sentinel"
)

// InMemoryStore keeps locations in process memory. Used by tests and local
// development; it deep-copies on the way in and out so callers never share
// mutable state with the store.
type InMemoryStore struct {
	mu      sync.RWMutex
	byID    map[id.LocationID]*Location
	history map[id.LocationID][]ChangeRecord
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		byID:    make(map[id.LocationID]*Location),
		history: make(map[id.LocationID][]ChangeRecord),
	}
}

func (s *InMemoryStore) FindByID(_ context.Context, locID id.LocationID) (*Location, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	loc, ok := s.byID[locID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return copyLocation(loc), nil
}

func (s *InMemoryStore) FindByKey(_ context.Context, prisonID, pathHierarchy string) (*Location, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, loc := range s.byID {
		if loc.PrisonID == prisonID && loc.PathHierarchy == pathHierarchy {
			return copyLocation(loc), nil
		}
	}
	return nil, sentinel.ErrNotFound
}

func (s *InMemoryStore) FindAllByPrison(_ context.Context, prisonID string) ([]*Location, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Location
	for _, loc := range s.byID {
		if loc.PrisonID == prisonID {
			out = append(out, copyLocation(loc))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PathHierarchy < out[j].PathHierarchy })
	return out, nil
}

func (s *InMemoryStore) Save(_ context.Context, locs ...*Location) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, loc := range locs {
		s.byID[loc.ID] = copyLocation(loc)
	}
	return nil
}

func (s *InMemoryStore) Delete(_ context.Context, locIDs ...id.LocationID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, locID := range locIDs {
		delete(s.byID, locID)
		delete(s.history, locID)
	}
	return nil
}

func (s *InMemoryStore) AppendHistory(_ context.Context, records ...ChangeRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range records {
		s.history[rec.LocationID] = append(s.history[rec.LocationID], rec)
	}
	return nil
}

func (s *InMemoryStore) HistoryForLocation(_ context.Context, locID id.LocationID) ([]ChangeRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]ChangeRecord{}, s.history[locID]...), nil
}

func copyLocation(loc *Location) *Location { return loc.Clone() }
