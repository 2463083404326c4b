// Package registry is the authoritative record of which vehicle is paired
// with which rider.
//
// Every operation validates against the current maps first and mutates them
// only once all checks pass, under a single mutex, so a failed call leaves no
// trace and concurrent sessions never observe a half-applied pairing.
package registry

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/example/pmv-rental/internal/geo"
	"github.com/example/pmv-rental/internal/models"
	"github.com/example/pmv-rental/internal/observability"
)

// Status is a point-in-time view of one vehicle.
type Status struct {
	VehicleID   int                    `json:"vehicle_id"`
	Station     models.StationID       `json:"-"`
	Location    models.GeographicPoint `json:"-"`
	Available   bool                   `json:"available"`
	UserID      string                 `json:"user_id,omitempty"`
	Maintenance bool                   `json:"maintenance"`
}

type Registry struct {
	mu               sync.Mutex
	vehicleAvailable map[int]bool
	vehicleLocation  map[int]models.GeographicPoint
	vehicleStation   map[int]models.StationID
	activeJourney    map[string]*models.JourneyRecord
	pairedBy         map[int]string
	maintenance      map[int]bool

	index  geo.Index
	logger *slog.Logger
}

// New creates an empty registry. index may be nil.
func New(index geo.Index, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		vehicleAvailable: make(map[int]bool),
		vehicleLocation:  make(map[int]models.GeographicPoint),
		vehicleStation:   make(map[int]models.StationID),
		activeJourney:    make(map[string]*models.JourneyRecord),
		pairedBy:         make(map[int]string),
		maintenance:      make(map[int]bool),
		index:            index,
		logger:           logger.With("component", "registry"),
	}
}

// AddVehicle registers a vehicle as available at its home station.
func (r *Registry) AddVehicle(ctx context.Context, id models.VehicleID) error {
	if id.IsZero() {
		return fmt.Errorf("%w: empty vehicle id", models.ErrValidation)
	}
	home := id.HomeStation()
	r.mu.Lock()
	if _, ok := r.vehicleAvailable[id.ID()]; ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s already registered", models.ErrValidation, id)
	}
	r.vehicleAvailable[id.ID()] = true
	r.vehicleLocation[id.ID()] = home.Location()
	r.vehicleStation[id.ID()] = home
	stamp := time.Now()
	r.mu.Unlock()

	r.publishLocation(ctx, id.ID(), home, home.Location(), true, stamp)
	return nil
}

// CheckAvailable reports ErrVehicleNotFound for unknown vehicles and
// ErrPMVNotAvailable for paired or out-of-service ones.
func (r *Registry) CheckAvailable(id models.VehicleID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	err := r.checkAvailableLocked(id)
	if err != nil {
		observability.OperationErrors.WithLabelValues("check_available", models.ErrorKind(err)).Inc()
	}
	return err
}

func (r *Registry) checkAvailableLocked(id models.VehicleID) error {
	avail, ok := r.vehicleAvailable[id.ID()]
	if !ok {
		return fmt.Errorf("%w: %s", models.ErrVehicleNotFound, id)
	}
	if r.maintenance[id.ID()] {
		return fmt.Errorf("%w: %s is out of service", models.ErrPMVNotAvailable, id)
	}
	if !avail {
		return fmt.Errorf("%w: %s is paired with another user", models.ErrPMVNotAvailable, id)
	}
	return nil
}

// RegisterPairing binds vehicle to userID for the journey j and stamps its
// start. The vehicle must be parked at station and point must be that
// station's location.
func (r *Registry) RegisterPairing(ctx context.Context, userID string, vehicle models.VehicleID, station models.StationID, point models.GeographicPoint, at time.Time, j *models.JourneyRecord) error {
	r.mu.Lock()
	err := r.validatePairingLocked(userID, vehicle, station, point, j)
	if err != nil {
		r.mu.Unlock()
		observability.OperationErrors.WithLabelValues("register_pairing", models.ErrorKind(err)).Inc()
		r.logger.Warn("pairing rejected", "user_id", userID, "vehicle_id", vehicle.ID(), "error", err)
		return err
	}
	id := vehicle.ID()
	r.vehicleAvailable[id] = false
	r.vehicleLocation[id] = point
	r.vehicleStation[id] = station
	r.activeJourney[userID] = j
	r.pairedBy[id] = userID
	j.OnStart(at, point)
	active := len(r.activeJourney)
	stamp := time.Now()
	r.mu.Unlock()

	observability.PairingsTotal.Inc()
	observability.ActiveJourneys.Set(float64(active))
	r.logger.Info("pairing registered", "user_id", userID, "vehicle_id", id, "station", station.Code(), "service_id", j.ServiceID)
	r.publishLocation(ctx, id, station, point, false, stamp)
	return nil
}

func (r *Registry) validatePairingLocked(userID string, vehicle models.VehicleID, station models.StationID, point models.GeographicPoint, j *models.JourneyRecord) error {
	if err := r.checkAvailableLocked(vehicle); err != nil {
		return err
	}
	switch {
	case userID == "" || j == nil || station.IsZero():
		return fmt.Errorf("%w: missing user, station or journey", models.ErrInvalidPairingArgs)
	case j.UserID != userID || j.VehicleID != vehicle.ID():
		return fmt.Errorf("%w: journey %s belongs to %s/PMV-%d", models.ErrInvalidPairingArgs, j.ServiceID, j.UserID, j.VehicleID)
	case j.InProgress || j.Finalized():
		return fmt.Errorf("%w: journey %s already started", models.ErrInvalidPairingArgs, j.ServiceID)
	}
	if cur, ok := r.activeJourney[userID]; ok {
		return fmt.Errorf("%w: user %s already has active journey %s", models.ErrInvalidPairingArgs, userID, cur.ServiceID)
	}
	if registered := r.vehicleStation[vehicle.ID()]; registered != station {
		return fmt.Errorf("%w: %s is parked at %s, not %s", models.ErrInvalidPairingArgs, vehicle, registered.Code(), station.Code())
	}
	if station.Location() != point {
		return fmt.Errorf("%w: point %s is not the location of %s", models.ErrInvalidPairingArgs, point, station.Code())
	}
	return nil
}

// StopPairing finalizes j with the trip metrics, returns the vehicle to the
// pool at station and removes the user's active journey. A call that does
// not match the current pairing (stale, duplicate or foreign) fails with
// ErrPairingNotFound.
func (r *Registry) StopPairing(ctx context.Context, userID string, vehicle models.VehicleID, station models.StationID, point models.GeographicPoint, at time.Time, avgSpeed, distance float64, durationMin int, amount int64, j *models.JourneyRecord) error {
	r.mu.Lock()
	err := r.validateStopLocked(userID, vehicle, station, point, avgSpeed, distance, durationMin, amount, j)
	if err != nil {
		r.mu.Unlock()
		observability.OperationErrors.WithLabelValues("stop_pairing", models.ErrorKind(err)).Inc()
		r.logger.Warn("stop pairing rejected", "user_id", userID, "vehicle_id", vehicle.ID(), "error", err)
		return err
	}
	id := vehicle.ID()
	j.OnFinish(station, point, at, avgSpeed, distance, durationMin, amount)
	r.vehicleAvailable[id] = true
	r.vehicleLocation[id] = point
	r.vehicleStation[id] = station
	delete(r.activeJourney, userID)
	delete(r.pairedBy, id)
	active := len(r.activeJourney)
	stamp := time.Now()
	r.mu.Unlock()

	observability.UnpairingsTotal.Inc()
	observability.ActiveJourneys.Set(float64(active))
	r.logger.Info("pairing stopped", "user_id", userID, "vehicle_id", id, "station", station.Code(), "service_id", j.ServiceID, "amount_cents", amount)
	r.publishLocation(ctx, id, station, point, true, stamp)
	return nil
}

func (r *Registry) validateStopLocked(userID string, vehicle models.VehicleID, station models.StationID, point models.GeographicPoint, avgSpeed, distance float64, durationMin int, amount int64, j *models.JourneyRecord) error {
	id := vehicle.ID()
	avail, ok := r.vehicleAvailable[id]
	if !ok {
		return fmt.Errorf("%w: %s", models.ErrVehicleNotFound, vehicle)
	}
	active, ok := r.activeJourney[userID]
	if !ok || avail || r.pairedBy[id] != userID || active != j || active.VehicleID != id {
		return fmt.Errorf("%w: no active pairing of %s with user %s", models.ErrPairingNotFound, vehicle, userID)
	}
	if station.IsZero() || station.Location() != point {
		return fmt.Errorf("%w: point %s is not the location of %s", models.ErrInvalidPairingArgs, point, station.Code())
	}
	if avgSpeed < 0 || distance < 0 || durationMin < 0 || amount < 0 {
		return fmt.Errorf("%w: negative trip metrics", models.ErrInvalidPairingArgs)
	}
	return nil
}

// RegisterLocation moves an unpaired vehicle to station, e.g. after a
// rebalancing run.
func (r *Registry) RegisterLocation(ctx context.Context, vehicle models.VehicleID, station models.StationID) error {
	id := vehicle.ID()
	r.mu.Lock()
	avail, ok := r.vehicleAvailable[id]
	var err error
	switch {
	case !ok:
		err = fmt.Errorf("%w: %s", models.ErrVehicleNotFound, vehicle)
	case station.IsZero():
		err = fmt.Errorf("%w: missing station", models.ErrInvalidPairingArgs)
	case !avail && !r.maintenance[id]:
		err = fmt.Errorf("%w: %s is on an active journey", models.ErrInvalidPairingArgs, vehicle)
	}
	if err != nil {
		r.mu.Unlock()
		observability.OperationErrors.WithLabelValues("register_location", models.ErrorKind(err)).Inc()
		return err
	}
	r.vehicleStation[id] = station
	r.vehicleLocation[id] = station.Location()
	stamp := time.Now()
	r.mu.Unlock()

	r.publishLocation(ctx, id, station, station.Location(), avail, stamp)
	return nil
}

// CancelPairing releases a pairing whose trip never started. The journey is
// dropped unbilled and the vehicle stays where it was paired.
func (r *Registry) CancelPairing(ctx context.Context, userID string, vehicle models.VehicleID, j *models.JourneyRecord) error {
	id := vehicle.ID()
	r.mu.Lock()
	err := r.validateCancelLocked(userID, vehicle, j)
	if err != nil {
		r.mu.Unlock()
		observability.OperationErrors.WithLabelValues("cancel_pairing", models.ErrorKind(err)).Inc()
		r.logger.Warn("cancel pairing rejected", "user_id", userID, "vehicle_id", id, "error", err)
		return err
	}
	j.OnCancel()
	r.vehicleAvailable[id] = true
	delete(r.activeJourney, userID)
	delete(r.pairedBy, id)
	active := len(r.activeJourney)
	station, point := r.vehicleStation[id], r.vehicleLocation[id]
	stamp := time.Now()
	r.mu.Unlock()

	observability.ActiveJourneys.Set(float64(active))
	r.logger.Info("pairing cancelled", "user_id", userID, "vehicle_id", id, "service_id", j.ServiceID)
	r.publishLocation(ctx, id, station, point, true, stamp)
	return nil
}

func (r *Registry) validateCancelLocked(userID string, vehicle models.VehicleID, j *models.JourneyRecord) error {
	id := vehicle.ID()
	if _, ok := r.vehicleAvailable[id]; !ok {
		return fmt.Errorf("%w: %s", models.ErrVehicleNotFound, vehicle)
	}
	active, ok := r.activeJourney[userID]
	if !ok || r.pairedBy[id] != userID || active != j {
		return fmt.Errorf("%w: no active pairing of %s with user %s", models.ErrPairingNotFound, vehicle, userID)
	}
	if j.Finalized() {
		return fmt.Errorf("%w: journey %s already finished", models.ErrProcedural, j.ServiceID)
	}
	return nil
}

// SetMaintenance takes an unpaired vehicle out of service or puts it back.
// Repeating the current setting is a no-op.
func (r *Registry) SetMaintenance(ctx context.Context, vehicle models.VehicleID, on bool) error {
	id := vehicle.ID()
	r.mu.Lock()
	var err error
	if _, ok := r.vehicleAvailable[id]; !ok {
		err = fmt.Errorf("%w: %s", models.ErrVehicleNotFound, vehicle)
	} else if user, paired := r.pairedBy[id]; paired {
		err = fmt.Errorf("%w: %s is paired with %s", models.ErrPMVNotAvailable, vehicle, user)
	}
	if err != nil {
		r.mu.Unlock()
		observability.OperationErrors.WithLabelValues("set_maintenance", models.ErrorKind(err)).Inc()
		return err
	}
	if on {
		r.maintenance[id] = true
	} else {
		delete(r.maintenance, id)
	}
	r.vehicleAvailable[id] = !on
	station, point := r.vehicleStation[id], r.vehicleLocation[id]
	stamp := time.Now()
	r.mu.Unlock()

	r.logger.Info("maintenance updated", "vehicle_id", id, "maintenance", on)
	r.publishLocation(ctx, id, station, point, !on, stamp)
	return nil
}

// ActiveJourney returns a copy of the user's journey in progress.
func (r *Registry) ActiveJourney(userID string) (models.JourneyRecord, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.activeJourney[userID]
	if !ok {
		return models.JourneyRecord{}, false
	}
	return j.Snapshot(), true
}

func (r *Registry) Vehicle(id int) (Status, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.vehicleAvailable[id]; !ok {
		return Status{}, fmt.Errorf("%w: PMV-%d", models.ErrVehicleNotFound, id)
	}
	return r.statusLocked(id), nil
}

func (r *Registry) Vehicles() []Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Status, 0, len(r.vehicleAvailable))
	for id := range r.vehicleAvailable {
		out = append(out, r.statusLocked(id))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].VehicleID < out[j].VehicleID })
	return out
}

func (r *Registry) statusLocked(id int) Status {
	return Status{
		VehicleID:   id,
		Station:     r.vehicleStation[id],
		Location:    r.vehicleLocation[id],
		Available:   r.vehicleAvailable[id],
		UserID:      r.pairedBy[id],
		Maintenance: r.maintenance[id],
	}
}

// publishLocation runs outside the lock; stamp is taken under it so the
// index can drop writes that arrive out of order.
func (r *Registry) publishLocation(ctx context.Context, id int, station models.StationID, point models.GeographicPoint, available bool, stamp time.Time) {
	if r.index == nil {
		return
	}
	loc := models.VehicleLocation{
		VehicleID: id,
		StationID: station.ID(),
		Loc:       models.CoordOf(point),
		Available: available,
		Updated:   stamp,
	}
	if err := r.index.Upsert(ctx, loc); err != nil {
		r.logger.Warn("location index update failed", "vehicle_id", id, "error", err)
	}
}
