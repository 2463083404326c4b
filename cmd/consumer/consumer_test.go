package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/pmv-rental/internal/models"
)

// fakeUpdater implements RedisUpdater for tests
type fakeUpdater struct {
	failGeo  int // number of times to fail GeoAdd before succeeding
	failH    int // number of times to fail HSet before succeeding
	geoCalls int
	hCalls   int
	lastKey  string
	lastMeta map[string]interface{}
}

func (f *fakeUpdater) GeoAdd(ctx context.Context, key string, loc *redis.GeoLocation) error {
	f.geoCalls++
	if f.geoCalls <= f.failGeo {
		return errors.New("geo fail")
	}
	return nil
}

func (f *fakeUpdater) HSet(ctx context.Context, key string, values map[string]interface{}) error {
	f.hCalls++
	if f.hCalls <= f.failH {
		return errors.New("hset fail")
	}
	f.lastKey = key
	f.lastMeta = values
	return nil
}

func unpaired() *models.JourneyEvent {
	return &models.JourneyEvent{
		Type:      models.EventUnpaired,
		VehicleID: 7,
		StationID: 2,
		Loc:       models.Coord{Lat: 41.01, Lon: 2},
		Available: true,
		At:        time.Date(2024, 5, 1, 9, 10, 0, 0, time.UTC),
	}
}

func TestUpdateRedisWithRetry_SucceedsAfterRetries(t *testing.T) {
	f := &fakeUpdater{failGeo: 1, failH: 1}
	ctx := context.Background()
	start := time.Now()
	if err := updateRedisWithRetry(ctx, f, "vehicles_geo", unpaired(), 3, 10*time.Millisecond); err != nil {
		t.Fatalf("expected success, got err=%v", err)
	}
	if f.geoCalls < 2 || f.hCalls < 2 {
		t.Fatalf("expected retries, got geo=%d h=%d", f.geoCalls, f.hCalls)
	}
	if time.Since(start) < 10*time.Millisecond {
		t.Fatalf("expected at least one backoff")
	}
	if f.lastKey != "vehicle:meta:7" || f.lastMeta["available"] != "true" || f.lastMeta["station_id"] != "2" {
		t.Fatalf("unexpected meta write: %s %v", f.lastKey, f.lastMeta)
	}
}

func TestUpdateRedisWithRetry_FailsWhenExhausted(t *testing.T) {
	f := &fakeUpdater{failGeo: 5, failH: 0}
	ctx := context.Background()
	if err := updateRedisWithRetry(ctx, f, "vehicles_geo", unpaired(), 3, 5*time.Millisecond); err == nil {
		t.Fatalf("expected error after retries")
	}
}

func TestHandleMessageSkipsNonLocationEvents(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	f := &fakeUpdater{}
	ctx := context.Background()

	if err := handleMessage(ctx, f, "vehicles_geo", []byte(`{"type":"journey.started","vehicle_id":7}`), logger); err != nil {
		t.Fatal(err)
	}
	if err := handleMessage(ctx, f, "vehicles_geo", []byte(`not json`), logger); err != nil {
		t.Fatal(err)
	}
	if f.geoCalls != 0 {
		t.Fatalf("expected no redis writes, got %d", f.geoCalls)
	}
	if err := handleMessage(ctx, f, "vehicles_geo", []byte(`{"type":"journey.paired","vehicle_id":7,"station_id":1,"loc":{"lat":41,"lon":2},"available":false}`), logger); err != nil {
		t.Fatal(err)
	}
	if f.geoCalls != 1 || f.lastMeta["available"] != "false" {
		t.Fatalf("expected one write marking the vehicle busy, got %d %v", f.geoCalls, f.lastMeta)
	}
}

func TestHandleMessageFreesCancelledVehicle(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	f := &fakeUpdater{}
	msg := []byte(`{"type":"journey.cancelled","vehicle_id":7,"station_id":3,"loc":{"lat":41,"lon":2},"available":true}`)
	if err := handleMessage(context.Background(), f, "vehicles_geo", msg, logger); err != nil {
		t.Fatal(err)
	}
	if f.geoCalls != 1 || f.lastMeta["available"] != "true" || f.lastMeta["station_id"] != "3" {
		t.Fatalf("expected the vehicle marked free at station 3, got %d %v", f.geoCalls, f.lastMeta)
	}
}
