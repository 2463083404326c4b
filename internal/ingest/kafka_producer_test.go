package ingest

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/example/pmv-rental/internal/models"
)

type fakeWriter struct {
	msgs   []kafka.Message
	closed bool
}

func (f *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	if _, ok := ctx.Deadline(); !ok {
		panic("publish must bound the write with a deadline")
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error {
	f.closed = true
	return nil
}

func TestPublishKeysByVehicle(t *testing.T) {
	w := &fakeWriter{}
	p := &KafkaProducer{writer: w, timeout: time.Second}
	ev := models.JourneyEvent{Type: models.EventUnpaired, ServiceID: "s1", UserID: "u1", VehicleID: 17, Available: true}
	if err := p.Publish(context.Background(), ev); err != nil {
		t.Fatal(err)
	}
	if len(w.msgs) != 1 || string(w.msgs[0].Key) != "17" {
		t.Fatalf("unexpected messages %+v", w.msgs)
	}
	var got models.JourneyEvent
	if err := json.Unmarshal(w.msgs[0].Value, &got); err != nil {
		t.Fatal(err)
	}
	if got.Type != models.EventUnpaired || got.VehicleID != 17 || !got.Available {
		t.Fatalf("unexpected payload %+v", got)
	}
	if err := p.Close(); err != nil || !w.closed {
		t.Fatalf("expected writer to be closed")
	}
}
