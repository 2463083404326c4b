package vehicle

import (
	"errors"
	"sync"
	"testing"

	"github.com/example/pmv-rental/internal/models"
)

func newTestVehicle(t *testing.T, id int) *PMVehicle {
	t.Helper()
	st, err := models.NewStationID(1, models.MustGeographicPoint(41.0, 2.0))
	if err != nil {
		t.Fatal(err)
	}
	vid, err := models.NewVehicleID(id, st)
	if err != nil {
		t.Fatal(err)
	}
	return New(vid)
}

func TestFullCycle(t *testing.T) {
	v := newTestVehicle(t, 1)
	if v.State() != Available {
		t.Fatalf("expected available, got %s", v.State())
	}
	for _, step := range []func() error{v.BeginTrip, v.EndTrip, v.Release} {
		if err := step(); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if v.State() != Available {
		t.Fatalf("expected available after cycle, got %s", v.State())
	}
}

func TestIllegalTransitions(t *testing.T) {
	v := newTestVehicle(t, 1)
	if err := v.EndTrip(); !errors.Is(err, models.ErrProcedural) {
		t.Fatalf("endTrip without beginTrip: expected procedural error, got %v", err)
	}
	if err := v.Release(); !errors.Is(err, models.ErrInvalidTransition) {
		t.Fatalf("release from available: expected invalid transition, got %v", err)
	}
	if err := v.BeginTrip(); err != nil {
		t.Fatal(err)
	}
	if err := v.BeginTrip(); !errors.Is(err, models.ErrProcedural) {
		t.Fatalf("double beginTrip: expected procedural error, got %v", err)
	}
	if err := v.Release(); !errors.Is(err, models.ErrProcedural) {
		t.Fatalf("release while under way: expected procedural error, got %v", err)
	}
	if v.State() != UnderWay {
		t.Fatalf("failed transitions changed state to %s", v.State())
	}
}

func TestMaintenancePath(t *testing.T) {
	v := newTestVehicle(t, 1)
	if err := v.SetMaintenance(); err != nil {
		t.Fatal(err)
	}
	if err := v.BeginTrip(); !errors.Is(err, models.ErrInvalidTransition) {
		t.Fatalf("beginTrip in maintenance: expected invalid transition, got %v", err)
	}
	if err := v.Release(); err != nil {
		t.Fatal(err)
	}
}

func TestStateIsPerVehicle(t *testing.T) {
	a := newTestVehicle(t, 1)
	b := newTestVehicle(t, 2)
	if err := a.BeginTrip(); err != nil {
		t.Fatal(err)
	}
	if b.State() != Available {
		t.Fatalf("state leaked across vehicles: %s", b.State())
	}
	if err := b.BeginTrip(); err != nil {
		t.Fatalf("second vehicle should start independently: %v", err)
	}
}

func TestConcurrentBeginTripSingleWinner(t *testing.T) {
	v := newTestVehicle(t, 1)
	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if v.BeginTrip() == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if wins != 1 {
		t.Fatalf("expected exactly one successful beginTrip, got %d", wins)
	}
}

func TestFleet(t *testing.T) {
	f := NewFleet()
	v := newTestVehicle(t, 5)
	if _, err := f.Add(v.ID()); err != nil {
		t.Fatal(err)
	}
	if _, err := f.Add(v.ID()); !errors.Is(err, models.ErrValidation) {
		t.Fatalf("expected duplicate add to fail, got %v", err)
	}
	if _, err := f.Get(6); !errors.Is(err, models.ErrVehicleNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	id, err := f.Lookup(5)
	if err != nil || id != v.ID() {
		t.Fatalf("lookup mismatch: %v %v", id, err)
	}
	if len(f.List()) != 1 {
		t.Fatalf("expected one vehicle")
	}
}
