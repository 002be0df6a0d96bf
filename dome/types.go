// Package dome implements the real-time shutter state machine of the
// AstroShell dome: one Channel per shutter motor, advanced by a fixed-period
// Controller tick that owns all actuation state.
package dome

import "fmt"

// Motor identifies one of the two shutter motors.
type Motor int

const (
	MotorA Motor = iota
	MotorB

	NumMotors = 2
)

func (m Motor) String() string {
	switch m {
	case MotorA:
		return "A"
	case MotorB:
		return "B"
	}
	return fmt.Sprintf("Motor(%d)", int(m))
}

func (m Motor) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// End is one of the two mechanical end positions of a shutter.
type End int

const (
	EndA End = iota
	EndB
)

func (e End) String() string {
	if e == EndA {
		return "A"
	}
	return "B"
}

func (e End) MarshalText() ([]byte, error) {
	return []byte(e.String()), nil
}

// Opposite returns the other end of the travel.
func (e End) Opposite() End {
	if e == EndA {
		return EndB
	}
	return EndA
}

// Direction is the actuation state of a channel.
type Direction int

const (
	Idle Direction = iota
	ToEndA
	ToEndB
)

// Toward returns the direction that drives the shutter to e.
func Toward(e End) Direction {
	if e == EndA {
		return ToEndA
	}
	return ToEndB
}

// Target returns the end this direction drives toward. Only valid when d is
// not Idle.
func (d Direction) Target() End {
	if d == ToEndB {
		return EndB
	}
	return EndA
}

// Opposite returns the reverse direction; Idle stays Idle.
func (d Direction) Opposite() Direction {
	switch d {
	case ToEndA:
		return ToEndB
	case ToEndB:
		return ToEndA
	}
	return Idle
}

func (d Direction) String() string {
	switch d {
	case Idle:
		return "IDLE"
	case ToEndA:
		return "TO_END_A"
	case ToEndB:
		return "TO_END_B"
	}
	return fmt.Sprintf("Direction(%d)", int(d))
}

func (d Direction) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// StopReason records why a channel last went idle.
type StopReason int

const (
	ReasonNone StopReason = iota
	BoundaryReached
	OperatorStop
	RemoteStop
	NetworkFailsafe
	PowerFailsafe
	Timeout
)

func (r StopReason) String() string {
	switch r {
	case ReasonNone:
		return "NONE"
	case BoundaryReached:
		return "BOUNDARY_REACHED"
	case OperatorStop:
		return "OPERATOR_STOP"
	case RemoteStop:
		return "REMOTE_STOP"
	case NetworkFailsafe:
		return "NETWORK_FAILSAFE"
	case PowerFailsafe:
		return "POWER_FAILSAFE"
	case Timeout:
		return "TIMEOUT"
	}
	return fmt.Sprintf("StopReason(%d)", int(r))
}

func (r StopReason) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// Failsafe reports whether r is one of the latched failsafe reasons.
func (r StopReason) Failsafe() bool {
	return r == NetworkFailsafe || r == PowerFailsafe
}
