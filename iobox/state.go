// Package iobox connects the controller tick to the physical I/O board.
// Every board keeps its latest input word and wanted outputs in a State
// that the tick reads and writes without blocking; the board's own loop
// does the bus I/O.
package iobox

import (
	"context"
	"sync/atomic"

	"github.com/joergs-git/astroshell/dome"
)

// Board is an I/O board driver.
type Board interface {
	dome.IO
	Output(m dome.Motor) (dome.Direction, uint8)
	Connected() bool
	Run(ctx context.Context) error
}

// State implements dome.IO.
type State struct {
	inputs    atomic.Uint32
	outputs   [dome.NumMotors]atomic.Uint32
	connected atomic.Bool
}

func (s *State) Inputs() uint32 {
	return s.inputs.Load()
}

func (s *State) SetInputs(raw uint32) {
	s.inputs.Store(raw)
}

func (s *State) Drive(m dome.Motor, dir dome.Direction, level uint8) {
	if dir == dome.Idle {
		level = 0
	}
	s.outputs[m].Store(uint32(dir)<<8 | uint32(level))
}

// Output returns the wanted drive of motor m.
func (s *State) Output(m dome.Motor) (dome.Direction, uint8) {
	v := s.outputs[m].Load()
	return dome.Direction(v >> 8), uint8(v)
}

// Connected reports whether the board answered its last poll.
func (s *State) Connected() bool {
	return s.connected.Load()
}

func (s *State) setConnected(v bool) {
	s.connected.Store(v)
}

// frame returns direction and level for every motor, in motor order.
func (s *State) frame() [2 * dome.NumMotors]uint16 {
	var f [2 * dome.NumMotors]uint16
	for m := range s.outputs {
		dir, level := s.Output(dome.Motor(m))
		f[2*m] = uint16(dir)
		f[2*m+1] = uint16(level)
	}
	return f
}
