package journey

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/example/pmv-rental/internal/geo"
	"github.com/example/pmv-rental/internal/models"
	"github.com/example/pmv-rental/internal/observability"
	"github.com/example/pmv-rental/internal/vehicle"
)

type Phase int

const (
	Idle Phase = iota
	StationKnown
	Paired
	Driving
	Stopped
	Unpaired
	Cancelled
)

func (p Phase) String() string {
	switch p {
	case Idle:
		return "idle"
	case StationKnown:
		return "station_known"
	case Paired:
		return "paired"
	case Driving:
		return "driving"
	case Stopped:
		return "stopped"
	case Unpaired:
		return "unpaired"
	case Cancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// Closed reports whether the session has ended, billed or not.
func (p Phase) Closed() bool { return p == Unpaired || p == Cancelled }

// Deps wires a controller to its collaborators. History, Events and
// Settler are optional.
type Deps struct {
	Registry Registry
	Fleet    Fleet
	Decoder  Decoder
	Link     ShortRangeLink
	Clock    Clock
	Tariff   Tariff
	History  HistoryStore
	Events   EventPublisher
	Settler  Settler
	Logger   *slog.Logger
}

// Controller drives one rider through scan, pair, drive, stop and unpair.
// It is owned by a single session; the mutex only exists because the station
// broadcaster delivers station ids from its own goroutine.
type Controller struct {
	user *models.UserAccount
	deps Deps
	log  *slog.Logger

	mu        sync.Mutex
	phase     Phase
	station   models.StationID
	scanInput []byte
	vehicle   *vehicle.PMVehicle
	journey   *models.JourneyRecord
	startedAt time.Time
	stop      stopResult
}

type stopResult struct {
	station     models.StationID
	endedAt     time.Time
	durationMin int
	distanceKm  float64
	avgSpeedKmh float64
	amount      int64
}

func NewController(user *models.UserAccount, deps Deps) (*Controller, error) {
	if user == nil {
		return nil, fmt.Errorf("%w: controller needs a user", models.ErrValidation)
	}
	if deps.Registry == nil || deps.Fleet == nil || deps.Decoder == nil {
		return nil, errors.New("journey: registry, fleet and decoder are required")
	}
	if deps.Clock == nil {
		deps.Clock = SystemClock{}
	}
	if deps.Tariff == (Tariff{}) {
		deps.Tariff = DefaultTariff()
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Controller{
		user: user,
		deps: deps,
		log:  deps.Logger.With("component", "journey", "user_id", user.UserID()),
	}, nil
}

func (c *Controller) User() *models.UserAccount { return c.user }

func (c *Controller) Phase() Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

func (c *Controller) Station() models.StationID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.station
}

// Journey returns a copy of the current journey, if any.
func (c *Controller) Journey() (models.JourneyRecord, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.journey == nil {
		return models.JourneyRecord{}, false
	}
	return c.journey.Snapshot(), true
}

// ReceiveStation records the station the rider is currently at. The first
// one moves an idle session to StationKnown; later ones (also while
// driving) only update the station, which becomes the trip's end station.
func (c *Controller) ReceiveStation(st models.StationID) error {
	if st.IsZero() {
		return c.fail("receive_station", fmt.Errorf("%w: no station id received", models.ErrConnection))
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.station = st
	if c.phase == Idle {
		c.phase = StationKnown
		c.log.Debug("station received", "station", st.Code())
	}
	return nil
}

// StageScan stores the scanned code for the next Scan call.
func (c *Controller) StageScan(image []byte) {
	c.mu.Lock()
	c.scanInput = image
	c.mu.Unlock()
}

// Scan decodes the staged code and pairs the rider with that vehicle.
func (c *Controller) Scan(ctx context.Context) error {
	c.mu.Lock()
	ev, err := c.scanLocked(ctx)
	c.mu.Unlock()
	if err != nil {
		return c.fail("scan", err)
	}
	c.publish(ctx, ev)
	return nil
}

func (c *Controller) scanLocked(ctx context.Context) (models.JourneyEvent, error) {
	if c.scanInput == nil {
		return models.JourneyEvent{}, fmt.Errorf("%w: no code scanned", models.ErrProcedural)
	}
	if c.phase != StationKnown {
		return models.JourneyEvent{}, fmt.Errorf("%w: cannot scan while %s", models.ErrProcedural, c.phase)
	}
	vid, err := c.deps.Decoder.Decode(c.scanInput)
	if err != nil {
		return models.JourneyEvent{}, err
	}
	c.scanInput = nil
	pmv, err := c.deps.Fleet.Get(vid.ID())
	if err != nil {
		return models.JourneyEvent{}, err
	}
	if st := pmv.State(); st != vehicle.Available {
		return models.JourneyEvent{}, fmt.Errorf("%w: %s is %s", models.ErrPMVNotAvailable, vid, st)
	}
	if err := c.deps.Registry.CheckAvailable(vid); err != nil {
		return models.JourneyEvent{}, err
	}
	j := models.NewJourneyRecord(c.user.UserID(), vid, c.station)
	now := c.deps.Clock.Now()
	if err := c.deps.Registry.RegisterPairing(ctx, c.user.UserID(), vid, c.station, c.station.Location(), now, j); err != nil {
		return models.JourneyEvent{}, err
	}
	c.vehicle = pmv
	c.journey = j
	c.phase = Paired
	c.log.Info("vehicle paired", "vehicle_id", vid.ID(), "station", c.station.Code(), "service_id", j.ServiceID)
	return c.event(models.EventPaired, c.station, false, 0, now), nil
}

// StartDriving unlocks the paired vehicle over the short-range link.
func (c *Controller) StartDriving(ctx context.Context) error {
	c.mu.Lock()
	ev, err := c.startLocked(ctx)
	c.mu.Unlock()
	if err != nil {
		return c.fail("start_driving", err)
	}
	c.publish(ctx, ev)
	return nil
}

func (c *Controller) startLocked(ctx context.Context) (models.JourneyEvent, error) {
	if c.phase != Paired {
		return models.JourneyEvent{}, fmt.Errorf("%w: cannot start driving while %s", models.ErrProcedural, c.phase)
	}
	if c.deps.Link == nil {
		return models.JourneyEvent{}, fmt.Errorf("%w: no short-range link", models.ErrConnection)
	}
	if !c.deps.Link.IsConnected() {
		if err := c.deps.Link.Connect(ctx); err != nil {
			return models.JourneyEvent{}, fmt.Errorf("%w: %v", models.ErrConnection, err)
		}
	}
	if err := c.vehicle.BeginTrip(); err != nil {
		return models.JourneyEvent{}, err
	}
	c.startedAt = c.deps.Clock.Now()
	c.phase = Driving
	c.log.Info("driving started", "vehicle_id", c.vehicle.ID().ID())
	return c.event(models.EventStarted, c.station, false, 0, c.startedAt), nil
}

// StopDriving parks the vehicle at the last received station and computes
// the trip metrics.
func (c *Controller) StopDriving(ctx context.Context) error {
	c.mu.Lock()
	ev, err := c.stopLocked()
	c.mu.Unlock()
	if err != nil {
		return c.fail("stop_driving", err)
	}
	c.publish(ctx, ev)
	return nil
}

func (c *Controller) stopLocked() (models.JourneyEvent, error) {
	if c.phase != Driving {
		return models.JourneyEvent{}, fmt.Errorf("%w: cannot stop driving while %s", models.ErrProcedural, c.phase)
	}
	if err := c.vehicle.EndTrip(); err != nil {
		return models.JourneyEvent{}, err
	}
	end := c.deps.Clock.Now()
	endPoint := c.station.Location()
	elapsed := end.Sub(c.startedAt)
	if elapsed < 0 {
		elapsed = 0
	}
	distance := geo.DistanceKm(c.journey.OriginPoint, endPoint)
	var speed float64
	if h := elapsed.Hours(); h > 0 {
		speed = distance / h
	}
	minutes := int(elapsed / time.Minute)
	c.stop = stopResult{
		station:     c.station,
		endedAt:     end,
		durationMin: minutes,
		distanceKm:  distance,
		avgSpeedKmh: speed,
		amount:      c.deps.Tariff.Amount(distance, minutes, speed),
	}
	c.vehicle.SetLocation(endPoint)
	c.phase = Stopped
	c.log.Info("driving stopped", "vehicle_id", c.vehicle.ID().ID(), "duration_min", minutes, "distance_km", distance, "amount_cents", c.stop.amount)
	return c.event(models.EventStopped, c.station, false, c.stop.amount, end), nil
}

// Unpair closes the pairing in the registry and returns the vehicle to the
// pool. The finished journey is then stored, announced and settled; a
// settlement failure is returned but does not undo the unpairing.
func (c *Controller) Unpair(ctx context.Context) error {
	c.mu.Lock()
	final, ev, err := c.unpairLocked(ctx)
	c.mu.Unlock()
	if err != nil {
		return c.fail("unpair", err)
	}

	observability.TripDuration.Observe(float64(final.DurationMinutes))
	observability.FareCents.Observe(float64(final.Amount))
	if c.deps.Link != nil {
		c.deps.Link.Disconnect()
	}
	if c.deps.History != nil {
		if err := c.deps.History.SaveJourney(ctx, final); err != nil {
			c.log.Error("save journey failed", "service_id", final.ServiceID, "error", err)
		}
	}
	c.publish(ctx, ev)
	if c.deps.Settler != nil {
		if err := c.deps.Settler.Settle(ctx, c.user, final); err != nil {
			c.log.Error("settlement failed", "service_id", final.ServiceID, "amount_cents", final.Amount, "error", err)
			return c.fail("settle", fmt.Errorf("settle journey %s: %w", final.ServiceID, err))
		}
	}
	return nil
}

func (c *Controller) unpairLocked(ctx context.Context) (models.JourneyRecord, models.JourneyEvent, error) {
	switch c.phase {
	case Stopped:
	case Paired:
		return models.JourneyRecord{}, models.JourneyEvent{}, fmt.Errorf("%w: vehicle paired but never driven", models.ErrProcedural)
	case Driving:
		return models.JourneyRecord{}, models.JourneyEvent{}, fmt.Errorf("%w: vehicle still driving", models.ErrPairingNotFound)
	default:
		return models.JourneyRecord{}, models.JourneyEvent{}, fmt.Errorf("%w: no active pairing while %s", models.ErrPairingNotFound, c.phase)
	}
	s := c.stop
	vid := c.vehicle.ID()
	if err := c.deps.Registry.StopPairing(ctx, c.user.UserID(), vid, s.station, s.station.Location(), s.endedAt,
		s.avgSpeedKmh, s.distanceKm, s.durationMin, s.amount, c.journey); err != nil {
		return models.JourneyRecord{}, models.JourneyEvent{}, err
	}
	if err := c.vehicle.Release(); err != nil {
		return models.JourneyRecord{}, models.JourneyEvent{}, err
	}
	c.phase = Unpaired
	c.log.Info("vehicle unpaired", "vehicle_id", vid.ID(), "service_id", c.journey.ServiceID)
	return c.journey.Snapshot(), c.event(models.EventUnpaired, s.station, true, s.amount, s.endedAt), nil
}

// Cancel abandons a session before the trip starts. A pairing is released
// without billing or history; once driving the trip has to be stopped and
// unpaired instead. Cancelling a closed session is a no-op.
func (c *Controller) Cancel(ctx context.Context) error {
	c.mu.Lock()
	ev, paired, err := c.cancelLocked(ctx)
	c.mu.Unlock()
	if err != nil {
		return c.fail("cancel", err)
	}
	if paired {
		if c.deps.Link != nil {
			c.deps.Link.Disconnect()
		}
		c.publish(ctx, ev)
	}
	return nil
}

func (c *Controller) cancelLocked(ctx context.Context) (models.JourneyEvent, bool, error) {
	switch c.phase {
	case Unpaired, Cancelled:
		return models.JourneyEvent{}, false, nil
	case Idle, StationKnown:
		c.phase = Cancelled
		c.scanInput = nil
		c.log.Info("session cancelled", "phase", "before_pairing")
		return models.JourneyEvent{}, false, nil
	case Paired:
	default:
		return models.JourneyEvent{}, false, fmt.Errorf("%w: cannot cancel while %s, stop and unpair instead", models.ErrProcedural, c.phase)
	}
	vid := c.vehicle.ID()
	if err := c.deps.Registry.CancelPairing(ctx, c.user.UserID(), vid, c.journey); err != nil {
		return models.JourneyEvent{}, false, err
	}
	c.phase = Cancelled
	c.log.Info("pairing cancelled", "vehicle_id", vid.ID(), "service_id", c.journey.ServiceID)
	return c.event(models.EventCancelled, c.station, true, 0, c.deps.Clock.Now()), true, nil
}

func (c *Controller) event(t models.EventType, st models.StationID, available bool, amount int64, at time.Time) models.JourneyEvent {
	return models.JourneyEvent{
		Type:      t,
		ServiceID: c.journey.ServiceID,
		UserID:    c.user.UserID(),
		VehicleID: c.vehicle.ID().ID(),
		StationID: st.ID(),
		Loc:       models.CoordOf(st.Location()),
		Available: available,
		Amount:    amount,
		At:        at,
	}
}

// publish is best effort: riders and downstream consumers may miss an event
// but the journey itself has already been committed.
func (c *Controller) publish(ctx context.Context, ev models.JourneyEvent) {
	if c.deps.Events == nil {
		return
	}
	if err := c.deps.Events.Publish(ctx, ev); err != nil {
		c.log.Warn("publish journey event failed", "type", ev.Type, "service_id", ev.ServiceID, "error", err)
	}
}

func (c *Controller) fail(op string, err error) error {
	observability.OperationErrors.WithLabelValues(op, models.ErrorKind(err)).Inc()
	c.log.Warn("journey operation failed", "operation", op, "error", err)
	return err
}
