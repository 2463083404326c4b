package vehicle

import (
	"fmt"
	"sync"

	"github.com/example/pmv-rental/internal/models"
)

type State int

const (
	Available State = iota
	UnderWay
	NotAvailable
)

func (s State) String() string {
	switch s {
	case Available:
		return "available"
	case UnderWay:
		return "under_way"
	case NotAvailable:
		return "not_available"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// PMVehicle is one physical vehicle. Each instance owns its own state.
type PMVehicle struct {
	id models.VehicleID

	mu       sync.Mutex
	state    State
	location models.GeographicPoint
}

// New returns a vehicle parked and available at its home station.
func New(id models.VehicleID) *PMVehicle {
	return &PMVehicle{id: id, state: Available, location: id.HomeStation().Location()}
}

func (v *PMVehicle) ID() models.VehicleID { return v.id }

func (v *PMVehicle) State() State {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.state
}

func (v *PMVehicle) Location() models.GeographicPoint {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.location
}

func (v *PMVehicle) SetLocation(p models.GeographicPoint) {
	v.mu.Lock()
	v.location = p
	v.mu.Unlock()
}

// BeginTrip moves Available -> UnderWay.
func (v *PMVehicle) BeginTrip() error { return v.transition(Available, UnderWay) }

// EndTrip moves UnderWay -> NotAvailable; the vehicle stays parked until
// the registry confirms the unpairing and Release is called.
func (v *PMVehicle) EndTrip() error { return v.transition(UnderWay, NotAvailable) }

// Release moves NotAvailable -> Available.
func (v *PMVehicle) Release() error { return v.transition(NotAvailable, Available) }

// SetMaintenance takes an available vehicle out of service.
func (v *PMVehicle) SetMaintenance() error { return v.transition(Available, NotAvailable) }

func (v *PMVehicle) transition(from, to State) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.state != from {
		return fmt.Errorf("%w: %s cannot go %s -> %s", models.ErrInvalidTransition, v.id, v.state, to)
	}
	v.state = to
	return nil
}
