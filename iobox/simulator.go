package iobox

import (
	"context"
	"sync"
	"time"

	"github.com/joergs-git/astroshell/dome"
)

// Discrete simulation step size
const stepSize = 25 * time.Millisecond

// Simulator moves two virtual shutters according to the drive outputs and
// asserts their boundary sensors. Position 0 is end A, 1 is end B.
type Simulator struct {
	State
	wiring dome.Wiring
	// travel is the end to end time at full drive
	travel time.Duration

	mu   sync.Mutex
	pos  [dome.NumMotors]float64
	held map[dome.Pin]bool
}

// NewSimulator starts with both shutters resting at end A.
func NewSimulator(w dome.Wiring, travel time.Duration) *Simulator {
	s := &Simulator{wiring: w, travel: travel, held: make(map[dome.Pin]bool)}
	s.mu.Lock()
	s.publish()
	s.mu.Unlock()
	s.setConnected(true)
	return s
}

// Set asserts or releases an input that is not a boundary sensor, such as
// a push button or the emergency stop.
func (s *Simulator) Set(p dome.Pin, asserted bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.held[p] = asserted
	s.publish()
}

// Place moves a shutter to pos, clamped to [0, 1].
func (s *Simulator) Place(m dome.Motor, pos float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pos[m] = clamp(pos)
	s.publish()
}

func (s *Simulator) Position(m dome.Motor) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pos[m]
}

func (s *Simulator) Run(ctx context.Context) error {
	t := time.NewTicker(stepSize)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
		s.step(stepSize)
	}
}

func (s *Simulator) step(dt time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for m := range s.pos {
		dir, level := s.Output(dome.Motor(m))
		v := float64(level) / dome.MaxRamp * dt.Seconds() / s.travel.Seconds()
		switch dir {
		case dome.ToEndA:
			s.pos[m] = clamp(s.pos[m] - v)
		case dome.ToEndB:
			s.pos[m] = clamp(s.pos[m] + v)
		}
	}
	s.publish()
}

func (s *Simulator) publish() {
	var raw uint32
	for m, mw := range s.wiring.Motors {
		raw = put(raw, mw.EndA, s.pos[m] <= 0)
		raw = put(raw, mw.EndB, s.pos[m] >= 1)
		raw = put(raw, mw.ButtonA, s.held[mw.ButtonA])
		raw = put(raw, mw.ButtonB, s.held[mw.ButtonB])
	}
	raw = put(raw, s.wiring.EmergencyStop, s.held[s.wiring.EmergencyStop])
	raw = put(raw, s.wiring.PowerFail, s.held[s.wiring.PowerFail])
	s.SetInputs(raw)
}

func put(raw uint32, p dome.Pin, asserted bool) uint32 {
	if p.Bit < 0 || p.Bit > 31 {
		return raw
	}
	if asserted != p.Inverted {
		return raw | 1<<uint(p.Bit)
	}
	return raw &^ (1 << uint(p.Bit))
}

func clamp(pos float64) float64 {
	if pos < 0 {
		return 0
	}
	if pos > 1 {
		return 1
	}
	return pos
}
