package journey

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/pmv-rental/internal/models"
	"github.com/example/pmv-rental/internal/registry"
	"github.com/example/pmv-rental/internal/vehicle"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

// fakeDecoder maps the scanned payload straight to a known vehicle.
type fakeDecoder struct{ codes map[string]models.VehicleID }

func (f *fakeDecoder) Decode(image []byte) (models.VehicleID, error) {
	if len(image) == 0 {
		return models.VehicleID{}, models.ErrImageDecode
	}
	v, ok := f.codes[string(image)]
	if !ok {
		return models.VehicleID{}, models.ErrImageDecode
	}
	return v, nil
}

type fakeLink struct {
	connected   bool
	failConnect bool
	disconnects int
}

func (f *fakeLink) Connect(context.Context) error {
	if f.failConnect {
		return errors.New("radio off")
	}
	f.connected = true
	return nil
}

func (f *fakeLink) IsConnected() bool { return f.connected }

func (f *fakeLink) Disconnect() {
	f.connected = false
	f.disconnects++
}

type recorder struct {
	mu     sync.Mutex
	events []models.JourneyEvent
}

func (r *recorder) Publish(_ context.Context, ev models.JourneyEvent) error {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
	return nil
}

func (r *recorder) types() []models.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.EventType, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}

type memHistory struct{ saved []models.JourneyRecord }

func (m *memHistory) SaveJourney(_ context.Context, j models.JourneyRecord) error {
	m.saved = append(m.saved, j)
	return nil
}

type fakeSettler struct {
	err     error
	settled []models.JourneyRecord
}

func (f *fakeSettler) Settle(_ context.Context, _ *models.UserAccount, j models.JourneyRecord) error {
	if f.err != nil {
		return f.err
	}
	f.settled = append(f.settled, j)
	return nil
}

type env struct {
	reg     *registry.Registry
	fleet   *vehicle.Fleet
	clock   *fakeClock
	link    *fakeLink
	events  *recorder
	history *memHistory
	settler *fakeSettler
	s1, s2  models.StationID
	v1      models.VehicleID
	decoder *fakeDecoder
}

func newEnv(t *testing.T) *env {
	t.Helper()
	s1, err := models.NewStationID(1, models.MustGeographicPoint(41.0, 2.0))
	require.NoError(t, err)
	s2, err := models.NewStationID(2, models.MustGeographicPoint(41.01, 2.0))
	require.NoError(t, err)
	v1, err := models.NewVehicleID(1, s1)
	require.NoError(t, err)

	fleet := vehicle.NewFleet()
	_, err = fleet.Add(v1)
	require.NoError(t, err)
	reg := registry.New(nil, nil)
	require.NoError(t, reg.AddVehicle(context.Background(), v1))

	return &env{
		reg:     reg,
		fleet:   fleet,
		clock:   &fakeClock{now: time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)},
		link:    &fakeLink{},
		events:  &recorder{},
		history: &memHistory{},
		settler: &fakeSettler{},
		s1:      s1,
		s2:      s2,
		v1:      v1,
		decoder: &fakeDecoder{codes: map[string]models.VehicleID{"PMV:1": v1}},
	}
}

func (e *env) controller(t *testing.T, userID string) *Controller {
	t.Helper()
	u, err := models.NewUserAccount(userID, "rider-"+userID, userID+"@example.com", "secret1", 1000)
	require.NoError(t, err)
	c, err := NewController(u, Deps{
		Registry: e.reg,
		Fleet:    e.fleet,
		Decoder:  e.decoder,
		Link:     e.link,
		Clock:    e.clock,
		History:  e.history,
		Events:   e.events,
		Settler:  e.settler,
	})
	require.NoError(t, err)
	return c
}

func (e *env) paired(t *testing.T, c *Controller) {
	t.Helper()
	require.NoError(t, c.ReceiveStation(e.s1))
	c.StageScan([]byte("PMV:1"))
	require.NoError(t, c.Scan(context.Background()))
}

func TestFullJourney(t *testing.T) {
	e := newEnv(t)
	c := e.controller(t, "u1")
	ctx := context.Background()

	require.NoError(t, c.ReceiveStation(e.s1))
	assert.Equal(t, StationKnown, c.Phase())

	c.StageScan([]byte("PMV:1"))
	require.NoError(t, c.Scan(ctx))
	assert.Equal(t, Paired, c.Phase())
	_, active := e.reg.ActiveJourney("u1")
	assert.True(t, active)

	require.NoError(t, c.StartDriving(ctx))
	pmv, _ := e.fleet.Get(1)
	assert.Equal(t, vehicle.UnderWay, pmv.State())
	assert.True(t, e.link.connected)

	e.clock.Advance(12*time.Minute + 30*time.Second)
	require.NoError(t, c.ReceiveStation(e.s2))
	assert.Equal(t, Driving, c.Phase(), "station updates must not change the phase while driving")

	require.NoError(t, c.StopDriving(ctx))
	assert.Equal(t, vehicle.NotAvailable, pmv.State())
	assert.Equal(t, e.s2.Location(), pmv.Location())

	require.NoError(t, c.Unpair(ctx))
	assert.Equal(t, Unpaired, c.Phase())
	assert.Equal(t, vehicle.Available, pmv.State())
	_, active = e.reg.ActiveJourney("u1")
	assert.False(t, active)

	st, err := e.reg.Vehicle(1)
	require.NoError(t, err)
	assert.True(t, st.Available)
	assert.Equal(t, e.s2, st.Station)

	j, ok := c.Journey()
	require.True(t, ok)
	assert.False(t, j.InProgress)
	assert.Equal(t, 12, j.DurationMinutes)
	assert.InDelta(t, 1.11, j.Distance, 0.01)
	assert.Greater(t, j.AvgSpeed, 0.0)
	assert.Equal(t, DefaultTariff().Amount(j.Distance, j.DurationMinutes, j.AvgSpeed), j.Amount)
	assert.GreaterOrEqual(t, j.Amount, int64(0))

	require.Len(t, e.history.saved, 1)
	assert.Equal(t, j.ServiceID, e.history.saved[0].ServiceID)
	require.Len(t, e.settler.settled, 1)
	assert.Equal(t, []models.EventType{models.EventPaired, models.EventStarted, models.EventStopped, models.EventUnpaired}, e.events.types())
	assert.False(t, e.link.connected)
}

func TestZeroElapsedTrip(t *testing.T) {
	e := newEnv(t)
	c := e.controller(t, "u1")
	e.paired(t, c)
	ctx := context.Background()
	require.NoError(t, c.StartDriving(ctx))
	require.NoError(t, c.StopDriving(ctx))
	require.NoError(t, c.Unpair(ctx))
	j, _ := c.Journey()
	assert.Equal(t, 0, j.DurationMinutes)
	assert.Equal(t, 0.0, j.AvgSpeed)
	assert.Equal(t, DefaultTariff().UnlockFee, j.Amount)
}

func TestReceiveStationRejectsEmpty(t *testing.T) {
	e := newEnv(t)
	c := e.controller(t, "u1")
	require.ErrorIs(t, c.ReceiveStation(models.StationID{}), models.ErrConnection)
	assert.Equal(t, Idle, c.Phase())
}

func TestScanWithoutStagedInput(t *testing.T) {
	e := newEnv(t)
	c := e.controller(t, "u1")
	require.NoError(t, c.ReceiveStation(e.s1))
	require.ErrorIs(t, c.Scan(context.Background()), models.ErrProcedural)
}

func TestScanBeforeStation(t *testing.T) {
	e := newEnv(t)
	c := e.controller(t, "u1")
	c.StageScan([]byte("PMV:1"))
	require.ErrorIs(t, c.Scan(context.Background()), models.ErrProcedural)
}

func TestScanCorruptImage(t *testing.T) {
	e := newEnv(t)
	c := e.controller(t, "u1")
	require.NoError(t, c.ReceiveStation(e.s1))
	c.StageScan([]byte{})
	require.ErrorIs(t, c.Scan(context.Background()), models.ErrImageDecode)
	assert.Equal(t, StationKnown, c.Phase())
}

func TestScanBusyVehicle(t *testing.T) {
	e := newEnv(t)
	first := e.controller(t, "u1")
	e.paired(t, first)

	second := e.controller(t, "u2")
	require.NoError(t, second.ReceiveStation(e.s1))
	second.StageScan([]byte("PMV:1"))
	require.ErrorIs(t, second.Scan(context.Background()), models.ErrPMVNotAvailable)
	assert.Equal(t, StationKnown, second.Phase())
}

func TestScanAtWrongStation(t *testing.T) {
	e := newEnv(t)
	c := e.controller(t, "u1")
	require.NoError(t, c.ReceiveStation(e.s2))
	c.StageScan([]byte("PMV:1"))
	require.ErrorIs(t, c.Scan(context.Background()), models.ErrInvalidPairingArgs)
	require.NoError(t, e.reg.CheckAvailable(e.v1))
}

func TestStartDrivingRequiresPairing(t *testing.T) {
	e := newEnv(t)
	c := e.controller(t, "u1")
	require.NoError(t, c.ReceiveStation(e.s1))
	require.ErrorIs(t, c.StartDriving(context.Background()), models.ErrProcedural)
}

func TestStartDrivingWithoutLink(t *testing.T) {
	e := newEnv(t)
	e.link.failConnect = true
	c := e.controller(t, "u1")
	e.paired(t, c)
	require.ErrorIs(t, c.StartDriving(context.Background()), models.ErrConnection)
	assert.Equal(t, Paired, c.Phase())
	pmv, _ := e.fleet.Get(1)
	assert.Equal(t, vehicle.Available, pmv.State())

	e.link.failConnect = false
	require.NoError(t, c.StartDriving(context.Background()))
}

func TestStartDrivingNilLink(t *testing.T) {
	e := newEnv(t)
	u, _ := models.NewUserAccount("u1", "ana", "ana@example.com", "secret1", 0)
	c, err := NewController(u, Deps{Registry: e.reg, Fleet: e.fleet, Decoder: e.decoder, Clock: e.clock})
	require.NoError(t, err)
	e.paired(t, c)
	require.ErrorIs(t, c.StartDriving(context.Background()), models.ErrConnection)
}

func TestStartDrivingTwice(t *testing.T) {
	e := newEnv(t)
	c := e.controller(t, "u1")
	e.paired(t, c)
	require.NoError(t, c.StartDriving(context.Background()))
	require.ErrorIs(t, c.StartDriving(context.Background()), models.ErrProcedural)
}

func TestStopDrivingRequiresDriving(t *testing.T) {
	e := newEnv(t)
	c := e.controller(t, "u1")
	e.paired(t, c)
	require.ErrorIs(t, c.StopDriving(context.Background()), models.ErrProcedural)
}

func TestUnpairOutOfOrder(t *testing.T) {
	e := newEnv(t)
	c := e.controller(t, "u1")
	ctx := context.Background()

	require.ErrorIs(t, c.Unpair(ctx), models.ErrPairingNotFound)

	e.paired(t, c)
	require.ErrorIs(t, c.Unpair(ctx), models.ErrProcedural)

	require.NoError(t, c.StartDriving(ctx))
	require.ErrorIs(t, c.Unpair(ctx), models.ErrPairingNotFound)

	require.NoError(t, c.StopDriving(ctx))
	require.NoError(t, c.Unpair(ctx))
	require.ErrorIs(t, c.Unpair(ctx), models.ErrPairingNotFound)
	assert.Len(t, e.history.saved, 1)
}

func TestSettlementFailureKeepsUnpairing(t *testing.T) {
	e := newEnv(t)
	e.settler.err = errors.New("card declined")
	c := e.controller(t, "u1")
	e.paired(t, c)
	ctx := context.Background()
	require.NoError(t, c.StartDriving(ctx))
	require.NoError(t, c.StopDriving(ctx))

	err := c.Unpair(ctx)
	require.Error(t, err)
	assert.Equal(t, Unpaired, c.Phase())
	require.NoError(t, e.reg.CheckAvailable(e.v1))
}

func TestNewControllerValidatesDeps(t *testing.T) {
	_, err := NewController(nil, Deps{})
	require.ErrorIs(t, err, models.ErrValidation)

	u, _ := models.NewUserAccount("u1", "ana", "ana@example.com", "secret1", 0)
	_, err = NewController(u, Deps{})
	require.Error(t, err)
}

func TestCancelPairedReleasesVehicleUnbilled(t *testing.T) {
	e := newEnv(t)
	c := e.controller(t, "u1")
	e.paired(t, c)
	ctx := context.Background()

	require.NoError(t, c.Cancel(ctx))
	assert.Equal(t, Cancelled, c.Phase())
	assert.True(t, c.Phase().Closed())
	require.NoError(t, e.reg.CheckAvailable(e.v1))
	_, active := e.reg.ActiveJourney("u1")
	assert.False(t, active)
	assert.Empty(t, e.history.saved)
	assert.Empty(t, e.settler.settled)
	assert.Equal(t, 1, e.link.disconnects)
	types := e.events.types()
	assert.Equal(t, models.EventCancelled, types[len(types)-1])

	j, ok := c.Journey()
	require.True(t, ok)
	assert.False(t, j.InProgress)
	assert.Zero(t, j.Amount)

	// idempotent once closed
	require.NoError(t, c.Cancel(ctx))

	again := e.controller(t, "u1")
	e.paired(t, again)
	assert.Equal(t, Paired, again.Phase())
}

func TestCancelBeforePairing(t *testing.T) {
	e := newEnv(t)
	c := e.controller(t, "u1")
	require.NoError(t, c.ReceiveStation(e.s1))
	require.NoError(t, c.Cancel(context.Background()))
	assert.Equal(t, Cancelled, c.Phase())

	c.StageScan([]byte("PMV:1"))
	require.ErrorIs(t, c.Scan(context.Background()), models.ErrProcedural)
	require.NoError(t, e.reg.CheckAvailable(e.v1))
}

func TestCancelRefusedOnceDriving(t *testing.T) {
	e := newEnv(t)
	c := e.controller(t, "u1")
	e.paired(t, c)
	ctx := context.Background()
	require.NoError(t, c.StartDriving(ctx))

	require.ErrorIs(t, c.Cancel(ctx), models.ErrProcedural)
	assert.Equal(t, Driving, c.Phase())

	require.NoError(t, c.StopDriving(ctx))
	require.ErrorIs(t, c.Cancel(ctx), models.ErrProcedural)
	require.NoError(t, c.Unpair(ctx))
}

func TestScanRejectsVehicleInMaintenance(t *testing.T) {
	e := newEnv(t)
	pmv, err := e.fleet.Get(1)
	require.NoError(t, err)
	require.NoError(t, pmv.SetMaintenance())

	c := e.controller(t, "u1")
	require.NoError(t, c.ReceiveStation(e.s1))
	c.StageScan([]byte("PMV:1"))
	require.ErrorIs(t, c.Scan(context.Background()), models.ErrPMVNotAvailable)
	assert.Equal(t, StationKnown, c.Phase())
	_, active := e.reg.ActiveJourney("u1")
	assert.False(t, active)
}
