// Package command implements the single-character remote command protocol.
package command

import (
	"context"
	"errors"
	"log"
	"sync/atomic"

	"github.com/joergs-git/astroshell/counters"
	"github.com/joergs-git/astroshell/dome"
)

var ErrUnknownOpcode = errors.New("command: unknown opcode")

type Controller interface {
	Snapshot() *dome.Snapshot
	Submit(ctx context.Context, r dome.Request) error
}

type Saver interface {
	Save(c counters.Counters, force bool) (bool, error)
}

// Dispatcher maps opcodes to controller requests and counter operations.
type Dispatcher struct {
	ctrl  Controller
	tally *counters.Tally
	saver Saver

	tickLog atomic.Bool
}

func New(ctrl Controller, tally *counters.Tally, saver Saver) *Dispatcher {
	return &Dispatcher{ctrl: ctrl, tally: tally, saver: saver}
}

// TickLog reports whether completed runs should be pushed to the tick
// logger. It starts disabled.
func (d *Dispatcher) TickLog() bool {
	return d.tickLog.Load()
}

var toggles = map[byte]struct {
	motor dome.Motor
	dir   dome.Direction
}{
	'1': {dome.MotorA, dome.ToEndA},
	'2': {dome.MotorA, dome.ToEndB},
	'3': {dome.MotorB, dome.ToEndA},
	'4': {dome.MotorB, dome.ToEndB},
}

// Dispatch executes one opcode and returns its textual reply. Unknown
// opcodes change nothing. For opcodes 1 to 5, OK means the request was
// queued for the next tick; a start the tick refuses shows up as the
// channel's Refusal in the snapshot.
func (d *Dispatcher) Dispatch(ctx context.Context, op byte) (string, error) {
	if t, ok := toggles[op]; ok {
		err := d.ctrl.Submit(ctx, dome.Request{Kind: dome.RequestToggle, Motor: t.motor, Dir: t.dir, Reason: dome.RemoteStop})
		if err != nil {
			return "", err
		}
		return "OK", nil
	}
	switch op {
	case '5':
		for m := dome.Motor(0); m < dome.NumMotors; m++ {
			if err := d.ctrl.Submit(ctx, dome.Request{Kind: dome.RequestStop, Motor: m, Reason: dome.RemoteStop}); err != nil {
				return "", err
			}
		}
		return "OK", nil
	case 'S':
		if d.ctrl.Snapshot().Closed() {
			return "CLOSED", nil
		}
		return "OPEN", nil
	case 'R':
		d.tally.Reset()
		if _, err := d.saver.Save(d.tally.Get(), true); err != nil {
			log.Printf("persisting counter reset: %v", err)
		}
		return "OK", nil
	case 'L':
		for {
			old := d.tickLog.Load()
			if d.tickLog.CompareAndSwap(old, !old) {
				if old {
					return "TICKLOG OFF", nil
				}
				return "TICKLOG ON", nil
			}
		}
	}
	return "", ErrUnknownOpcode
}
