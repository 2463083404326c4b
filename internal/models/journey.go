package models

import (
	"time"

	"github.com/google/uuid"
)

// JourneyRecord holds the timing, distance and fare of one rental.
// The registry owns it while the trip is active; after OnFinish it is final.
type JourneyRecord struct {
	ServiceID       string           `json:"service_id"`
	UserID          string           `json:"user_id"`
	VehicleID       int              `json:"vehicle_id"`
	OriginStation   StationID        `json:"-"`
	OriginPoint     GeographicPoint  `json:"-"`
	StartTime       time.Time        `json:"start_time"`
	EndStation      *StationID       `json:"-"`
	EndPoint        *GeographicPoint `json:"-"`
	EndTime         *time.Time       `json:"end_time,omitempty"`
	DurationMinutes int              `json:"duration_minutes"`
	Distance        float64          `json:"distance_km"`
	AvgSpeed        float64          `json:"avg_speed_kmh"`
	Amount          int64            `json:"amount_cents"`
	InProgress      bool             `json:"in_progress"`

	finalized bool
}

func NewJourneyRecord(userID string, vehicle VehicleID, origin StationID) *JourneyRecord {
	return &JourneyRecord{
		ServiceID:     uuid.NewString(),
		UserID:        userID,
		VehicleID:     vehicle.ID(),
		OriginStation: origin,
		OriginPoint:   origin.Location(),
	}
}

func (j *JourneyRecord) OnStart(at time.Time, origin GeographicPoint) {
	j.StartTime = at
	j.OriginPoint = origin
	j.InProgress = true
}

func (j *JourneyRecord) OnFinish(end StationID, point GeographicPoint, at time.Time, avgSpeed, distance float64, durationMin int, amount int64) {
	j.EndStation = &end
	j.EndPoint = &point
	j.EndTime = &at
	j.AvgSpeed = avgSpeed
	j.Distance = distance
	j.DurationMinutes = durationMin
	j.Amount = amount
	j.InProgress = false
	j.finalized = true
}

// OnCancel closes a journey that never left its origin. It stays unbilled
// and is not finalized.
func (j *JourneyRecord) OnCancel() {
	j.InProgress = false
}

func (j *JourneyRecord) Finalized() bool { return j.finalized }

// Snapshot returns a copy that shares no pointers with j.
func (j *JourneyRecord) Snapshot() JourneyRecord {
	cp := *j
	if j.EndStation != nil {
		s := *j.EndStation
		cp.EndStation = &s
	}
	if j.EndPoint != nil {
		p := *j.EndPoint
		cp.EndPoint = &p
	}
	if j.EndTime != nil {
		t := *j.EndTime
		cp.EndTime = &t
	}
	return cp
}
