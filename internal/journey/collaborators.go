package journey

import (
	"context"
	"time"

	"github.com/example/pmv-rental/internal/models"
	"github.com/example/pmv-rental/internal/vehicle"
)

// Registry is the subset of the pairing registry the controller drives.
type Registry interface {
	CheckAvailable(id models.VehicleID) error
	RegisterPairing(ctx context.Context, userID string, v models.VehicleID, st models.StationID, p models.GeographicPoint, at time.Time, j *models.JourneyRecord) error
	StopPairing(ctx context.Context, userID string, v models.VehicleID, st models.StationID, p models.GeographicPoint, at time.Time, avgSpeed, distance float64, durationMin int, amount int64, j *models.JourneyRecord) error
	CancelPairing(ctx context.Context, userID string, v models.VehicleID, j *models.JourneyRecord) error
}

type Fleet interface {
	Get(id int) (*vehicle.PMVehicle, error)
}

// Decoder turns a scanned code into a vehicle identifier. Implementations
// return models.ErrImageDecode for empty or unreadable input.
type Decoder interface {
	Decode(image []byte) (models.VehicleID, error)
}

// ShortRangeLink is the rider-to-vehicle radio link.
type ShortRangeLink interface {
	Connect(ctx context.Context) error
	IsConnected() bool
	Disconnect()
}

type Clock interface {
	Now() time.Time
}

type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// HistoryStore keeps completed journeys.
type HistoryStore interface {
	SaveJourney(ctx context.Context, j models.JourneyRecord) error
}

type EventPublisher interface {
	Publish(ctx context.Context, ev models.JourneyEvent) error
}

// Settler charges the rider for a finished journey.
type Settler interface {
	Settle(ctx context.Context, user *models.UserAccount, j models.JourneyRecord) error
}
