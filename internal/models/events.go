package models

import "time"

type EventType string

const (
	EventPaired    EventType = "journey.paired"
	EventStarted   EventType = "journey.started"
	EventStopped   EventType = "journey.stopped"
	EventUnpaired  EventType = "journey.unpaired"
	EventCancelled EventType = "journey.cancelled"
)

type Coord struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

func CoordOf(p GeographicPoint) Coord { return Coord{Lat: p.lat, Lon: p.lon} }

// JourneyEvent is the wire shape published to Kafka and pushed to riders.
type JourneyEvent struct {
	Type      EventType `json:"type"`
	ServiceID string    `json:"service_id"`
	UserID    string    `json:"user_id"`
	VehicleID int       `json:"vehicle_id"`
	StationID int       `json:"station_id"`
	Loc       Coord     `json:"loc"`
	Available bool      `json:"available"`
	Amount    int64     `json:"amount_cents,omitempty"`
	At        time.Time `json:"at"`
}

// VehicleLocation is the indexable view of where a vehicle is parked.
type VehicleLocation struct {
	VehicleID int       `json:"vehicle_id"`
	StationID int       `json:"station_id"`
	Loc       Coord     `json:"loc"`
	Available bool      `json:"available"`
	Updated   time.Time `json:"updated"`
}
