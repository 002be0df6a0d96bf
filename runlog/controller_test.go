package runlog

import (
	"testing"

	"github.com/joergs-git/astroshell/dome"
)

type fakeIO struct {
	raw uint32
}

func (f *fakeIO) Inputs() uint32                           { return f.raw }
func (f *fakeIO) Drive(dome.Motor, dome.Direction, uint8) {}

func (f *fakeIO) set(p dome.Pin, v bool) {
	if v {
		f.raw |= 1 << uint(p.Bit)
	} else {
		f.raw &^= 1 << uint(p.Bit)
	}
}

func newController(raw uint32) (*dome.Controller, *Recorder, *fakeIO, dome.MotorWiring) {
	cfg := dome.DefaultConfig()
	cfg.DebounceTicks = 1
	io := &fakeIO{raw: raw}
	r := newRecorder()
	c := dome.NewController(cfg, io, r)
	c.Tick()
	return c, r, io, cfg.Wiring.Motors[dome.MotorA]
}

// press holds a button for one tick and releases it on the next.
func press(c *dome.Controller, io *fakeIO, p dome.Pin) {
	io.set(p, true)
	c.Tick()
	io.set(p, false)
	c.Tick()
}

func TestFullRunIsValid(t *testing.T) {
	c, r, io, w := newController(1 << 0)
	io.set(w.ButtonB, true)
	c.Tick()
	io.set(w.ButtonB, false)
	if got := c.Snapshot().Channels[dome.MotorA].Direction; got != dome.ToEndB {
		t.Fatalf("direction = %v, want %v", got, dome.ToEndB)
	}
	io.set(w.EndA, false)
	const travel = 250
	for i := 0; i < travel; i++ {
		c.Tick()
	}
	io.set(w.EndB, true)
	c.Tick()

	got := r.Drain()
	if len(got) != 1 {
		t.Fatalf("Drain() = %+v, want exactly one record", got)
	}
	if got[0].Outcome != Valid || got[0].Ticks != travel || got[0].Closing {
		t.Errorf("record = %+v, want a valid %d tick opening run", got[0], travel)
	}
}

func TestMidTravelOperatorStop(t *testing.T) {
	c, r, io, w := newController(0)
	press(c, io, w.ButtonB)
	if got := c.Snapshot().Channels[dome.MotorA].Direction; got != dome.ToEndB {
		t.Fatalf("direction = %v, want %v", got, dome.ToEndB)
	}
	if active, _ := r.Active(dome.MotorA); active {
		t.Fatal("run activated although the shutter started mid-travel")
	}
	for i := 0; i < 30; i++ {
		c.Tick()
	}
	press(c, io, w.ButtonB)
	if got := c.Snapshot().Channels[dome.MotorA]; got.Direction != dome.Idle || got.StopReason != dome.OperatorStop {
		t.Fatalf("state = %+v, want stopped by operator", got)
	}
	if got := r.Drain(); got != nil {
		t.Errorf("Drain() = %+v, want no records", got)
	}
}
