package dome

import "errors"

// MaxRamp is the full drive level reached at the end of the soft start.
const MaxRamp = 255

var (
	ErrOpposite   = errors.New("dome: actuating in the opposite direction, stop first")
	ErrAtBoundary = errors.New("dome: target boundary already reached")
	ErrBusy       = errors.New("dome: already actuating in that direction")
	ErrInhibited  = errors.New("dome: opening inhibited while on power failsafe")
)

// Channel is the state machine of one shutter motor. It is only touched from
// the controller tick.
type Channel struct {
	motor    Motor
	timeouts [2]int // ticks, indexed by target end
	rampStep int

	dir       Direction
	ramp      int
	remaining int
	reason    StopReason
	owned     bool
	// latched holds the failsafe reason that BoundaryReached may not
	// overwrite, or ReasonNone.
	latched StopReason

	atEnd    [2]bool
	rampedAt uint64
	starts   uint64
	// refusal is why the last operator or remote start was refused, or nil
	// once a start succeeds.
	refusal error
}

func newChannel(m Motor, timeouts [2]int, rampStep int) *Channel {
	if rampStep <= 0 {
		rampStep = 1
	}
	return &Channel{motor: m, timeouts: timeouts, rampStep: rampStep}
}

func (c *Channel) sense(in *Inputs) {
	c.atEnd = in.AtEnd[c.motor]
}

// Start begins actuation toward dir's target end. A new run releases any
// latched failsafe reason so its own stop is reported.
func (c *Channel) Start(dir Direction) error {
	if dir == Idle {
		return nil
	}
	switch c.dir {
	case dir:
		return ErrBusy
	case dir.Opposite():
		return ErrOpposite
	}
	if c.atEnd[dir.Target()] {
		return ErrAtBoundary
	}
	c.dir = dir
	c.ramp = 0
	c.remaining = c.timeouts[dir.Target()]
	c.reason = ReasonNone
	c.latched = ReasonNone
	c.owned = false
	c.starts++
	return nil
}

// Stop idles the channel. Stopping an idle channel changes nothing. A
// BoundaryReached stop keeps a latched failsafe reason.
func (c *Channel) Stop(reason StopReason) {
	if c.dir == Idle {
		return
	}
	c.halt()
	if reason == BoundaryReached && c.latched != ReasonNone {
		return
	}
	c.reason = reason
}

func (c *Channel) halt() {
	c.dir = Idle
	c.ramp = 0
	c.remaining = 0
}

// Failsafe drives the channel toward dir's target end on behalf of a
// failsafe and latches reason. A channel resting there is left alone and
// one just leaving it is stopped in place. One already moving that way
// keeps its current owner; one moving the other way is reversed.
func (c *Channel) Failsafe(dir Direction, reason StopReason, own bool) bool {
	if c.atEnd[dir.Target()] {
		if c.dir != dir.Opposite() {
			return false
		}
		c.Stop(reason)
		c.latched = reason
		return true
	}
	switch c.dir {
	case dir:
	case dir.Opposite():
		c.Stop(reason)
		fallthrough
	default:
		if err := c.Start(dir); err != nil {
			return false
		}
		c.owned = own
	}
	c.reason = reason
	c.latched = reason
	return true
}

// Rescind idles the channel if its current command is failsafe-owned.
func (c *Channel) Rescind() {
	if c.owned && c.dir != Idle {
		c.halt()
	}
	c.owned = false
}

// ClearLatch releases a latched failsafe reason of the given kind.
func (c *Channel) ClearLatch(reason StopReason) {
	if c.latched == reason {
		c.latched = ReasonNone
	}
}

// boundary applies tick steps 2 and 3.
func (c *Channel) boundary() {
	if c.dir == Idle {
		if (c.atEnd[EndA] || c.atEnd[EndB]) && c.latched == ReasonNone {
			c.reason = BoundaryReached
		}
		return
	}
	if c.atEnd[c.dir.Target()] {
		c.Stop(BoundaryReached)
		c.owned = false
	}
}

// countdown applies tick step 4.
func (c *Channel) countdown() {
	if c.dir == Idle {
		return
	}
	c.remaining--
	if c.remaining <= 0 {
		c.Stop(Timeout)
	}
}

// rampUpOnce applies tick step 5 and returns the level to drive. The ramp
// advances at most once per tick however often the outputs are driven.
func (c *Channel) rampUpOnce(tick uint64) uint8 {
	if c.dir == Idle {
		c.ramp = 0
		c.rampedAt = tick
		return 0
	}
	if c.rampedAt != tick {
		c.rampedAt = tick
		c.ramp += c.rampStep
		if c.ramp > MaxRamp {
			c.ramp = MaxRamp
		}
	}
	return uint8(c.ramp)
}

// State returns a copy of the channel's externally visible state.
func (c *Channel) State() ChannelState {
	return ChannelState{
		Motor:         c.motor,
		Direction:     c.dir,
		Ramp:          c.ramp,
		Remaining:     c.remaining,
		StopReason:    c.reason,
		FailsafeOwned: c.owned,
		AtEndA:        c.atEnd[EndA],
		AtEndB:        c.atEnd[EndB],
		Starts:        c.starts,
		Refusal:       errString(c.refusal),
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
