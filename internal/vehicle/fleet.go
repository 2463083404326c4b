package vehicle

import (
	"fmt"
	"sort"
	"sync"

	"github.com/example/pmv-rental/internal/models"
)

// Fleet is the directory of vehicles known to this process.
type Fleet struct {
	mu       sync.RWMutex
	vehicles map[int]*PMVehicle
}

func NewFleet() *Fleet {
	return &Fleet{vehicles: make(map[int]*PMVehicle)}
}

// Add registers a new vehicle; adding an id twice is a validation error.
func (f *Fleet) Add(id models.VehicleID) (*PMVehicle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.vehicles[id.ID()]; ok {
		return nil, fmt.Errorf("%w: %s already registered", models.ErrValidation, id)
	}
	v := New(id)
	f.vehicles[id.ID()] = v
	return v, nil
}

func (f *Fleet) Get(id int) (*PMVehicle, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	v, ok := f.vehicles[id]
	if !ok {
		return nil, fmt.Errorf("%w: PMV-%d", models.ErrVehicleNotFound, id)
	}
	return v, nil
}

// Lookup resolves a bare vehicle number to its full identifier.
func (f *Fleet) Lookup(id int) (models.VehicleID, error) {
	v, err := f.Get(id)
	if err != nil {
		return models.VehicleID{}, err
	}
	return v.ID(), nil
}

func (f *Fleet) List() []*PMVehicle {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]*PMVehicle, 0, len(f.vehicles))
	for _, v := range f.vehicles {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].id.ID() < out[j].id.ID() })
	return out
}
