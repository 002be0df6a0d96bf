package dome

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/joergs-git/astroshell/debounce"
)

// DefaultTickPeriod is about 61Hz, the rate the timeout table is
// calibrated in.
const DefaultTickPeriod = 16393 * time.Microsecond

// IO is the non-blocking view of the I/O board used by the tick. Inputs
// returns the most recently polled raw input word; Drive records the wanted
// output for the board's poll loop to flush.
type IO interface {
	Inputs() uint32
	Drive(m Motor, dir Direction, level uint8)
}

// Observer is told about every channel's direction once per tick, after all
// state changes of that tick were applied.
type Observer interface {
	Observe(m Motor, prev, cur Direction, in *Inputs)
}

// Config holds the site calibration of the controller.
type Config struct {
	TickPeriod time.Duration
	// Timeouts are in ticks, indexed by motor and target end.
	Timeouts      [NumMotors][2]int
	RampStep      int
	DebounceTicks int
	ClosedEnd     [NumMotors]End
	Wiring        Wiring
}

// DefaultConfig returns a configuration for a dome whose shutters close
// toward end A and travel in about 90 seconds.
func DefaultConfig() Config {
	cfg := Config{
		TickPeriod:    DefaultTickPeriod,
		RampStep:      4,
		DebounceTicks: debounce.DefaultTicks,
		Wiring:        DefaultWiring(),
	}
	for m := range cfg.Timeouts {
		cfg.Timeouts[m] = [2]int{5600, 5600}
		cfg.ClosedEnd[m] = EndA
	}
	return cfg
}

// RequestKind selects what a Request asks of the tick.
type RequestKind int

const (
	// RequestToggle stops a moving channel or starts an idle one.
	RequestToggle RequestKind = iota
	RequestStop
	// RequestFailsafe closes the channel on behalf of the network monitor.
	RequestFailsafe
	// RequestRescind idles a monitor-owned closing command.
	RequestRescind
	// RequestClearLatch releases the latched network failsafe reason.
	RequestClearLatch
	// RequestRelease drops failsafe ownership without stopping.
	RequestRelease
)

// Request is a transition asked for by the supervisory side. Requests are
// only ever applied by the tick.
type Request struct {
	Kind   RequestKind
	Motor  Motor
	Dir    Direction
	Reason StopReason
}

const requestQueueSize = 32

var ErrQueueFull = errors.New("dome: request queue full")

// ChannelState is the externally visible state of one channel.
type ChannelState struct {
	Motor         Motor
	Direction     Direction
	Ramp          int
	Remaining     int
	StopReason    StopReason
	FailsafeOwned bool
	AtEndA        bool
	AtEndB        bool
	ClosedEnd     End
	// Starts counts successful starts since power-up.
	Starts uint64
	// Refusal is why the last button or remote start was refused.
	Refusal string `json:",omitempty"`
}

// At reports whether the channel's boundary sensor for e is asserted.
func (s ChannelState) At(e End) bool {
	if e == EndA {
		return s.AtEndA
	}
	return s.AtEndB
}

// Closed reports whether the shutter sits at its closed end and is not
// moving toward the open end.
func (s ChannelState) Closed() bool {
	return s.At(s.ClosedEnd) && s.Direction != Toward(s.ClosedEnd.Opposite())
}

// Snapshot is a consistent copy of the controller state taken at the end of
// a tick.
type Snapshot struct {
	Tick          uint64
	Channels      [NumMotors]ChannelState
	EmergencyStop bool
	PowerFail     bool
}

// Closed reports the composite dome state: every shutter closed.
func (s *Snapshot) Closed() bool {
	for _, ch := range s.Channels {
		if !ch.Closed() {
			return false
		}
	}
	return true
}

// Controller owns both channels and advances them on a fixed-period tick.
type Controller struct {
	cfg      Config
	io       IO
	observer Observer

	channels [NumMotors]*Channel
	buttons  [NumMotors][2]*debounce.Input
	requests chan Request

	tick      uint64
	powerFail bool
	inputs    Inputs

	snapshot atomic.Pointer[Snapshot]
}

func NewController(cfg Config, io IO, observer Observer) *Controller {
	c := &Controller{
		cfg:      cfg,
		io:       io,
		observer: observer,
		requests: make(chan Request, requestQueueSize),
	}
	for m := range c.channels {
		c.channels[m] = newChannel(Motor(m), cfg.Timeouts[m], cfg.RampStep)
		for e := range c.buttons[m] {
			c.buttons[m][e] = debounce.New(cfg.DebounceTicks)
		}
	}
	c.publish()
	return c
}

// Submit queues a request for the next tick. It blocks while the queue is
// full until ctx is done.
func (c *Controller) Submit(ctx context.Context, r Request) error {
	select {
	case c.requests <- r:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TrySubmit queues a request without blocking.
func (c *Controller) TrySubmit(r Request) error {
	select {
	case c.requests <- r:
		return nil
	default:
		return ErrQueueFull
	}
}

// Snapshot returns the state published by the most recent tick.
func (c *Controller) Snapshot() *Snapshot {
	return c.snapshot.Load()
}

// Run ticks until ctx is done, then drives every output to zero.
func (c *Controller) Run(ctx context.Context) error {
	period := c.cfg.TickPeriod
	if period <= 0 {
		period = DefaultTickPeriod
	}
	t := time.NewTicker(period)
	defer t.Stop()
	defer func() {
		for m := range c.channels {
			c.io.Drive(Motor(m), Idle, 0)
		}
	}()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
		c.Tick()
	}
}

// Tick advances the controller by one period. The evaluation order is fixed:
// emergency stop, power failsafe, boundary reasons, boundary stops, timeouts,
// ramp and output, then button edges and supervisor requests.
func (c *Controller) Tick() {
	c.tick++
	c.inputs = c.cfg.Wiring.Resolve(c.io.Inputs())
	in := &c.inputs

	var prev [NumMotors]Direction
	for m, ch := range c.channels {
		prev[m] = ch.dir
		ch.sense(in)
	}

	edges := c.debounce(in)

	if in.EmergencyStop {
		for _, ch := range c.channels {
			ch.Stop(OperatorStop)
		}
		c.dropRequests()
	} else {
		c.powerFailsafe(in.PowerFail)
	}

	for _, ch := range c.channels {
		ch.boundary()
		ch.countdown()
	}
	c.drive()

	if !in.EmergencyStop {
		c.applyButtons(edges)
		c.applyRequests()
		c.drive()
	}

	if c.observer != nil {
		for m, ch := range c.channels {
			c.observer.Observe(Motor(m), prev[m], ch.dir, in)
		}
	}
	c.publish()
}

func (c *Controller) debounce(in *Inputs) (edges [NumMotors][2]bool) {
	for m := range c.buttons {
		for e, b := range c.buttons[m] {
			edges[m][e] = b.Update(in.Button[m][e])
		}
	}
	return edges
}

func (c *Controller) powerFailsafe(asserted bool) {
	if asserted == c.powerFail {
		return
	}
	c.powerFail = asserted
	for m, ch := range c.channels {
		if asserted {
			ch.Failsafe(Toward(c.cfg.ClosedEnd[m]), PowerFailsafe, false)
		} else {
			ch.ClearLatch(PowerFailsafe)
		}
	}
}

// start is the entry point for operator and remote starts; it enforces the
// power failsafe inhibit on opening. A refused start is kept for the
// snapshot.
func (c *Controller) start(m Motor, dir Direction) error {
	ch := c.channels[m]
	err := ErrInhibited
	if !c.powerFail || dir == Toward(c.cfg.ClosedEnd[m]) {
		err = ch.Start(dir)
	}
	ch.refusal = err
	return err
}

func (c *Controller) toggle(m Motor, dir Direction, reason StopReason) {
	ch := c.channels[m]
	if ch.dir != Idle {
		ch.Stop(reason)
		return
	}
	c.start(m, dir)
}

func (c *Controller) applyButtons(edges [NumMotors][2]bool) {
	for m := range edges {
		for e, pressed := range edges[m] {
			if !pressed {
				continue
			}
			c.toggle(Motor(m), Toward(End(e)), OperatorStop)
			break
		}
	}
}

func (c *Controller) applyRequests() {
	for i := 0; i < requestQueueSize; i++ {
		select {
		case r := <-c.requests:
			c.apply(r)
		default:
			return
		}
	}
}

func (c *Controller) apply(r Request) {
	if r.Motor < 0 || r.Motor >= NumMotors {
		return
	}
	ch := c.channels[r.Motor]
	switch r.Kind {
	case RequestToggle:
		c.toggle(r.Motor, r.Dir, r.Reason)
	case RequestStop:
		ch.Stop(r.Reason)
	case RequestFailsafe:
		ch.Failsafe(Toward(c.cfg.ClosedEnd[r.Motor]), NetworkFailsafe, true)
	case RequestRescind:
		ch.Rescind()
	case RequestClearLatch:
		ch.ClearLatch(NetworkFailsafe)
	case RequestRelease:
		ch.owned = false
	}
}

func (c *Controller) dropRequests() {
	for i := 0; i < requestQueueSize; i++ {
		select {
		case <-c.requests:
		default:
			return
		}
	}
}

func (c *Controller) drive() {
	for m, ch := range c.channels {
		c.io.Drive(Motor(m), ch.dir, ch.rampUpOnce(c.tick))
	}
}

func (c *Controller) publish() {
	s := &Snapshot{
		Tick:          c.tick,
		EmergencyStop: c.inputs.EmergencyStop,
		PowerFail:     c.powerFail,
	}
	for m, ch := range c.channels {
		s.Channels[m] = ch.State()
		s.Channels[m].ClosedEnd = c.cfg.ClosedEnd[m]
	}
	c.snapshot.Store(s)
}
