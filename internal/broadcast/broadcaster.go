package broadcast

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/example/pmv-rental/internal/models"
	"github.com/example/pmv-rental/internal/observability"
)

const DefaultInterval = time.Second

// Receiver is whatever listens for the station id; in this service it is the
// journey controller of the rider standing at the station.
type Receiver interface {
	ReceiveStation(st models.StationID) error
}

// Record is one delivered broadcast.
type Record struct {
	StationID int
	At        time.Time
}

// Broadcaster repeatedly hands its station id to a receiver until the
// context is cancelled.
type Broadcaster struct {
	Station  models.StationID
	Interval time.Duration
	Receiver Receiver
	Logger   *slog.Logger

	mu      sync.Mutex
	history []Record
}

func New(st models.StationID, interval time.Duration, r Receiver, logger *slog.Logger) *Broadcaster {
	return &Broadcaster{Station: st, Interval: interval, Receiver: r, Logger: logger}
}

// Run broadcasts once immediately and then on every tick. It returns
// ctx.Err() on cancellation, or the receiver's error if delivery fails.
func (b *Broadcaster) Run(ctx context.Context) error {
	if b.Receiver == nil {
		return errors.New("broadcast: no receiver")
	}
	interval := b.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	logger := b.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "broadcast", "station", b.Station.Code())

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if err := ctx.Err(); err != nil {
			logger.Debug("broadcast stopped")
			return err
		}
		if err := b.Receiver.ReceiveStation(b.Station); err != nil {
			logger.Warn("station broadcast failed", "error", err)
			return err
		}
		b.record()
		select {
		case <-ctx.Done():
			logger.Debug("broadcast stopped")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (b *Broadcaster) record() {
	observability.BroadcastsTotal.Inc()
	b.mu.Lock()
	b.history = append(b.history, Record{StationID: b.Station.ID(), At: time.Now()})
	b.mu.Unlock()
}

// History returns a copy of the broadcasts delivered so far.
func (b *Broadcaster) History() []Record {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Record, len(b.history))
	copy(out, b.history)
	return out
}
