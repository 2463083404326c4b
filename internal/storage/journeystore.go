package storage

import (
	"context"
	"sort"
	"sync"

	"github.com/example/pmv-rental/internal/models"
)

// JourneyStore keeps finished journeys, the rider's trip history.
type JourneyStore interface {
	SaveJourney(ctx context.Context, j models.JourneyRecord) error
	ListJourneys(ctx context.Context, userID string) ([]models.JourneyRecord, error)
}

type MemoryStore struct {
	mu       sync.RWMutex
	journeys map[string]models.JourneyRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{journeys: make(map[string]models.JourneyRecord)}
}

func (m *MemoryStore) SaveJourney(_ context.Context, j models.JourneyRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.journeys[j.ServiceID] = j.Snapshot()
	return nil
}

// ListJourneys returns the user's journeys, oldest first.
func (m *MemoryStore) ListJourneys(_ context.Context, userID string) ([]models.JourneyRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.JourneyRecord
	for _, j := range m.journeys {
		if j.UserID == userID {
			out = append(out, j.Snapshot())
		}
	}
	sort.Slice(out, func(i, k int) bool { return out[i].StartTime.Before(out[k].StartTime) })
	return out, nil
}

func (m *MemoryStore) Get(serviceID string) (models.JourneyRecord, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	j, ok := m.journeys[serviceID]
	return j, ok
}
