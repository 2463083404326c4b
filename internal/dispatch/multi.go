package dispatch

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/example/pmv-rental/internal/models"
)

// MultiPublisher fans an event out to every sink concurrently and returns
// the first error once all of them have finished.
type MultiPublisher struct {
	Sinks []Publisher
}

func NewMultiPublisher(sinks ...Publisher) *MultiPublisher {
	out := make([]Publisher, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	return &MultiPublisher{Sinks: out}
}

func (m *MultiPublisher) Publish(ctx context.Context, ev models.JourneyEvent) error {
	var g errgroup.Group
	for _, s := range m.Sinks {
		s := s
		g.Go(func() error { return s.Publish(ctx, ev) })
	}
	return g.Wait()
}
