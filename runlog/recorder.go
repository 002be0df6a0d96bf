// Package runlog measures how many controller ticks each shutter needs for a
// full traversal between its two boundary sensors.
package runlog

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/joergs-git/astroshell/dome"
)

// Outcome classifies a finished run.
type Outcome int

const (
	// Valid runs started at one boundary and ended at the other.
	Valid Outcome = iota
	// Interrupted runs started at a boundary but stopped anywhere else.
	Interrupted
)

func (o Outcome) String() string {
	if o == Valid {
		return "valid"
	}
	return "interrupted"
}

func (o Outcome) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

// Record is one finished run.
type Record struct {
	Motor   dome.Motor
	Dir     dome.Direction
	Closing bool
	Ticks   int
	Outcome Outcome
	Time    time.Time
}

func (r Record) String() string {
	dir := "opening"
	if r.Closing {
		dir = "closing"
	}
	return fmt.Sprintf("motor %v %s %s after %d ticks", r.Motor, dir, r.Outcome, r.Ticks)
}

type run struct {
	active bool
	ticks  int
	from   dome.End
	dir    dome.Direction
}

// Recorder implements dome.Observer. Observe runs on the tick; Take and
// Drain run on the supervisor. Each motor has a single latest-wins slot.
type Recorder struct {
	closedEnd [dome.NumMotors]dome.End
	now       func() time.Time

	runs  [dome.NumMotors]run
	slots [dome.NumMotors]atomic.Pointer[Record]
}

func New(closedEnd [dome.NumMotors]dome.End) *Recorder {
	return &Recorder{closedEnd: closedEnd, now: time.Now}
}

// Active reports whether a measured run is in progress for m, and its tick
// count so far. It is only meaningful on the tick goroutine.
func (r *Recorder) Active(m dome.Motor) (bool, int) {
	return r.runs[m].active, r.runs[m].ticks
}

func (r *Recorder) Observe(m dome.Motor, prev, cur dome.Direction, in *dome.Inputs) {
	rn := &r.runs[m]
	if prev != dome.Idle && prev != cur {
		if rn.active {
			r.finish(m, rn, in)
		}
		rn.active = false
	}
	switch {
	case cur == dome.Idle:
	case cur != prev:
		*rn = run{}
		if in.AtAny(m) {
			rn.active = true
			rn.from = cur.Target().Opposite()
			rn.dir = cur
		}
	case rn.active:
		rn.ticks++
	}
}

func (r *Recorder) finish(m dome.Motor, rn *run, in *dome.Inputs) {
	rec := &Record{
		Motor:   m,
		Dir:     rn.dir,
		Closing: rn.dir.Target() == r.closedEnd[m],
		Ticks:   rn.ticks,
		Outcome: Interrupted,
		Time:    r.now(),
	}
	if in.At(m, rn.from.Opposite()) {
		rec.Outcome = Valid
	}
	r.slots[m].Store(rec)
}

// Take removes and returns the pending record for m, or nil.
func (r *Recorder) Take(m dome.Motor) *Record {
	return r.slots[m].Swap(nil)
}

// Drain takes the pending records of all motors.
func (r *Recorder) Drain() []Record {
	var out []Record
	for m := range r.slots {
		if rec := r.Take(dome.Motor(m)); rec != nil {
			out = append(out, *rec)
		}
	}
	return out
}
