package link

import (
	"context"
	"errors"
	"sync"
)

var ErrUnreachable = errors.New("vehicle radio unreachable")

// Simulated stands in for the phone-to-vehicle radio. It fails only when
// told to, so tests are reproducible.
type Simulated struct {
	mu        sync.Mutex
	connected bool
	fail      bool
	connects  int
}

func NewSimulated() *Simulated { return &Simulated{} }

// SetFailing makes subsequent Connect calls fail.
func (s *Simulated) SetFailing(fail bool) {
	s.mu.Lock()
	s.fail = fail
	s.mu.Unlock()
}

func (s *Simulated) Connect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return ErrUnreachable
	}
	s.connected = true
	s.connects++
	return nil
}

func (s *Simulated) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

func (s *Simulated) Disconnect() {
	s.mu.Lock()
	s.connected = false
	s.mu.Unlock()
}

// Connects counts successful Connect calls.
func (s *Simulated) Connects() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connects
}
