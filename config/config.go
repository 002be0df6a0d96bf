// Package config loads the site calibration file.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joergs-git/astroshell/counters"
	"github.com/joergs-git/astroshell/debounce"
	"github.com/joergs-git/astroshell/dome"
	"github.com/joergs-git/astroshell/failsafe"
	"github.com/joergs-git/astroshell/iobox"
	"github.com/joergs-git/astroshell/ticklog"
	"gopkg.in/yaml.v2"
)

// Motor is the calibration of one shutter.
type Motor struct {
	// Timeouts in ticks for a run toward end A and toward end B.
	TimeoutToEndA int `yaml:"timeout_to_end_a"`
	TimeoutToEndB int `yaml:"timeout_to_end_b"`
	// ClosedEnd is "A" or "B".
	ClosedEnd string           `yaml:"closed_end"`
	Wiring    dome.MotorWiring `yaml:"wiring"`
}

type Station struct {
	// Addr is the host:port probed over TCP. The simulated board may leave
	// it empty, which never fails a probe.
	Addr string `yaml:"addr"`
	// Interface whose carrier is watched; empty disables the link check.
	Interface string `yaml:"interface"`
}

type Counters struct {
	Path        string        `yaml:"path"`
	MinInterval time.Duration `yaml:"min_interval"`
}

type TickLog struct {
	// URL of the tick logger, for example http://192.168.1.151:88.
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"timeout"`
}

type Influx struct {
	URL    string `yaml:"url"`
	Token  string `yaml:"token"`
	Org    string `yaml:"org"`
	Bucket string `yaml:"bucket"`
}

type Board struct {
	// Kind is modbus, serial or sim.
	Kind   string             `yaml:"kind"`
	Modbus iobox.ModbusConfig `yaml:"modbus"`
	Serial struct {
		Port string `yaml:"port"`
		Baud int    `yaml:"baud"`
	} `yaml:"serial"`
	// SimTravel is the simulated end to end travel time.
	SimTravel time.Duration `yaml:"sim_travel"`
}

type Config struct {
	TickPeriod    time.Duration         `yaml:"tick_period"`
	RampStep      int                   `yaml:"ramp_step"`
	DebounceTicks int                   `yaml:"debounce_ticks"`
	Motors        [dome.NumMotors]Motor `yaml:"motors"`
	EmergencyStop dome.Pin              `yaml:"emergency_stop"`
	PowerFail     dome.Pin              `yaml:"power_fail"`

	Board    Board           `yaml:"board"`
	Station  Station         `yaml:"station"`
	Failsafe failsafe.Config `yaml:"failsafe"`
	Counters Counters        `yaml:"counters"`
	TickLog  TickLog         `yaml:"ticklog"`
	Influx   Influx          `yaml:"influx"`

	// Cycle is the supervisory period.
	Cycle time.Duration `yaml:"cycle"`
	// Watchdog is the liveness bound every supervisory step must stay below.
	Watchdog time.Duration `yaml:"watchdog"`
}

func Default() Config {
	d := dome.DefaultConfig()
	c := Config{
		TickPeriod:    d.TickPeriod,
		RampStep:      d.RampStep,
		DebounceTicks: debounce.DefaultTicks,
		EmergencyStop: d.Wiring.EmergencyStop,
		PowerFail:     d.Wiring.PowerFail,
		Board:         Board{Kind: "modbus", SimTravel: 90 * time.Second},
		Failsafe:      failsafe.DefaultConfig(),
		Counters:      Counters{Path: "/var/lib/astroshell/counters.db", MinInterval: counters.DefaultMinInterval},
		TickLog:       TickLog{Timeout: ticklog.DefaultTimeout},
		Cycle:         time.Second,
		Watchdog:      8 * time.Second,
	}
	c.Board.Modbus.Port = "/dev/ttyUSB0"
	c.Board.Serial.Port = "/dev/ttyACM0"
	for m := range c.Motors {
		c.Motors[m] = Motor{
			TimeoutToEndA: d.Timeouts[m][dome.EndA],
			TimeoutToEndB: d.Timeouts[m][dome.EndB],
			ClosedEnd:     "A",
			Wiring:        d.Wiring.Motors[m],
		}
	}
	return c
}

// Read parses path over the defaults without validating the result, so
// callers can apply overrides first. Unknown keys are an error.
func Read(path string) (Config, error) {
	c := Default()
	b, err := os.ReadFile(path)
	if err != nil {
		return c, err
	}
	if err := yaml.UnmarshalStrict(b, &c); err != nil {
		return c, fmt.Errorf("parsing %q: %w", path, err)
	}
	return c, nil
}

// Load reads and validates path.
func Load(path string) (Config, error) {
	c, err := Read(path)
	if err != nil {
		return c, err
	}
	return c, c.Validate()
}

var ErrInvalid = errors.New("invalid configuration")

func invalid(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalid, fmt.Sprintf(format, args...))
}

func (c Config) Validate() error {
	if c.TickPeriod <= 0 {
		return invalid("tick_period must be positive")
	}
	if c.RampStep < 1 || c.RampStep > dome.MaxRamp {
		return invalid("ramp_step %d outside 1..%d", c.RampStep, dome.MaxRamp)
	}
	for m, mc := range c.Motors {
		if mc.TimeoutToEndA <= 0 || mc.TimeoutToEndB <= 0 {
			return invalid("motor %v: timeouts must be positive", dome.Motor(m))
		}
		if _, err := parseEnd(mc.ClosedEnd); err != nil {
			return invalid("motor %v: %v", dome.Motor(m), err)
		}
	}
	if err := c.Failsafe.Validate(); err != nil {
		return invalid("%v", err)
	}
	switch c.Board.Kind {
	case "modbus", "serial":
		if c.Station.Addr == "" {
			return invalid("station.addr is required with a %s board", c.Board.Kind)
		}
	case "sim":
	default:
		return invalid("unknown board kind %q", c.Board.Kind)
	}
	if c.Cycle <= 0 || c.Cycle >= c.Watchdog {
		return invalid("cycle %v must be below the watchdog period %v", c.Cycle, c.Watchdog)
	}
	if c.Failsafe.ProbeTimeout >= c.Watchdog {
		return invalid("probe timeout %v must be below the watchdog period %v", c.Failsafe.ProbeTimeout, c.Watchdog)
	}
	if c.TickLog.Timeout <= 0 || c.TickLog.Timeout >= c.Watchdog {
		return invalid("tick log timeout %v must be below the watchdog period %v", c.TickLog.Timeout, c.Watchdog)
	}
	if c.Failsafe.ProbeTimeout+2*c.TickLog.Timeout >= c.Watchdog {
		return invalid("a supervisory cycle may take %v, longer than the watchdog period %v",
			c.Failsafe.ProbeTimeout+2*c.TickLog.Timeout, c.Watchdog)
	}
	return nil
}

func parseEnd(s string) (dome.End, error) {
	switch s {
	case "A", "a":
		return dome.EndA, nil
	case "B", "b":
		return dome.EndB, nil
	}
	return dome.EndA, fmt.Errorf("closed_end %q is neither A nor B", s)
}

// Dome returns the controller configuration.
func (c Config) Dome() dome.Config {
	d := dome.Config{
		TickPeriod:    c.TickPeriod,
		RampStep:      c.RampStep,
		DebounceTicks: c.DebounceTicks,
	}
	d.Wiring.EmergencyStop = c.EmergencyStop
	d.Wiring.PowerFail = c.PowerFail
	for m, mc := range c.Motors {
		d.Timeouts[m] = [2]int{mc.TimeoutToEndA, mc.TimeoutToEndB}
		d.ClosedEnd[m], _ = parseEnd(mc.ClosedEnd)
		d.Wiring.Motors[m] = mc.Wiring
	}
	return d
}
