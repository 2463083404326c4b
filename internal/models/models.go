package models

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
)

// GeographicPoint is an immutable latitude/longitude pair in degrees.
// Points compare with == and can be used as map keys.
type GeographicPoint struct {
	lat float64
	lon float64
}

func NewGeographicPoint(lat, lon float64) (GeographicPoint, error) {
	if math.IsNaN(lat) || lat < -90 || lat > 90 {
		return GeographicPoint{}, fmt.Errorf("%w: latitude %v out of range [-90,90]", ErrValidation, lat)
	}
	if math.IsNaN(lon) || lon < -180 || lon > 180 {
		return GeographicPoint{}, fmt.Errorf("%w: longitude %v out of range [-180,180]", ErrValidation, lon)
	}
	return GeographicPoint{lat: lat, lon: lon}, nil
}

// MustGeographicPoint panics on invalid input; meant for fixtures and tests.
func MustGeographicPoint(lat, lon float64) GeographicPoint {
	p, err := NewGeographicPoint(lat, lon)
	if err != nil {
		panic(err)
	}
	return p
}

func (p GeographicPoint) Lat() float64 { return p.lat }
func (p GeographicPoint) Lon() float64 { return p.lon }

func (p GeographicPoint) String() string {
	return fmt.Sprintf("%.6f,%.6f", p.lat, p.lon)
}

var stationCodeRe = regexp.MustCompile(`^ST-([0-9]{1,6})$`)

// StationID identifies a dock and the point it is anchored at.
// The zero value means "no station".
type StationID struct {
	id       int
	location GeographicPoint
}

func NewStationID(id int, location GeographicPoint) (StationID, error) {
	if id <= 0 {
		return StationID{}, fmt.Errorf("%w: station id must be positive, got %d", ErrValidation, id)
	}
	return StationID{id: id, location: location}, nil
}

// ParseStationCode accepts the printed form "ST-<digits>".
func ParseStationCode(code string, location GeographicPoint) (StationID, error) {
	m := stationCodeRe.FindStringSubmatch(code)
	if m == nil {
		return StationID{}, fmt.Errorf("%w: malformed station code %q", ErrValidation, code)
	}
	id, err := strconv.Atoi(m[1])
	if err != nil {
		return StationID{}, fmt.Errorf("%w: station code %q: %v", ErrValidation, code, err)
	}
	return NewStationID(id, location)
}

func (s StationID) ID() int                   { return s.id }
func (s StationID) Location() GeographicPoint { return s.location }
func (s StationID) IsZero() bool              { return s.id == 0 }
func (s StationID) Code() string              { return fmt.Sprintf("ST-%04d", s.id) }

func (s StationID) String() string {
	return fmt.Sprintf("%s@%s", s.Code(), s.location)
}

// VehicleID identifies a vehicle and the station it belongs to.
type VehicleID struct {
	id   int
	home StationID
}

func NewVehicleID(id int, home StationID) (VehicleID, error) {
	if id <= 0 {
		return VehicleID{}, fmt.Errorf("%w: vehicle id must be positive, got %d", ErrValidation, id)
	}
	if home.IsZero() {
		return VehicleID{}, fmt.Errorf("%w: vehicle %d has no home station", ErrValidation, id)
	}
	return VehicleID{id: id, home: home}, nil
}

func (v VehicleID) ID() int                { return v.id }
func (v VehicleID) HomeStation() StationID { return v.home }
func (v VehicleID) IsZero() bool           { return v.id == 0 }

func (v VehicleID) String() string { return fmt.Sprintf("PMV-%d", v.id) }
