package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/joergs-git/astroshell/dome"
)

func TestDefaultIsValid(t *testing.T) {
	c := Default()
	c.Station.Addr = "192.168.1.151:80"
	if err := c.Validate(); err != nil {
		t.Errorf("Default().Validate() = %v", err)
	}
}

func TestDefaultMatchesController(t *testing.T) {
	if diff := cmp.Diff(Default().Dome(), dome.DefaultConfig()); diff != "" {
		t.Errorf("unexpected controller config: got(-)/want(+):\n%s", diff)
	}
}

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "astroshell.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad(t *testing.T) {
	path := writeFile(t, `
ramp_step: 8
motors:
  - timeout_to_end_a: 5500
    timeout_to_end_b: 5800
    closed_end: B
    wiring:
      end_a: {bit: 1}
      end_b: {bit: 0}
      button_a: {bit: 2}
      button_b: {bit: 3}
  - timeout_to_end_a: 5600
    timeout_to_end_b: 5600
    closed_end: A
    wiring:
      end_a: {bit: 4}
      end_b: {bit: 5}
      button_a: {bit: 6}
      button_b: {bit: 7}
emergency_stop: {bit: 8, inverted: true}
failsafe:
  threshold: 3
  window: 10m
  probe_period: 30s
  probe_timeout: 2s
station:
  addr: 192.168.1.151:80
`)
	c, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	d := c.Dome()
	if d.RampStep != 8 || d.Timeouts[dome.MotorA] != [2]int{5500, 5800} {
		t.Errorf("calibration not applied: %+v", d)
	}
	if d.ClosedEnd != [dome.NumMotors]dome.End{dome.EndB, dome.EndA} {
		t.Errorf("ClosedEnd = %v", d.ClosedEnd)
	}
	if w := d.Wiring.Motors[dome.MotorA]; w.EndA.Bit != 1 || w.EndB.Bit != 0 {
		t.Errorf("swapped sensor labels not applied: %+v", w)
	}
	if !d.Wiring.EmergencyStop.Inverted {
		t.Error("emergency stop inversion not applied")
	}
	if c.Failsafe.Window != 10*time.Minute || c.Failsafe.Threshold != 3 {
		t.Errorf("failsafe = %+v", c.Failsafe)
	}
	if c.Cycle != time.Second {
		t.Errorf("Cycle = %v, want the default", c.Cycle)
	}
}

func TestSimulatorNeedsNoStation(t *testing.T) {
	c := Default()
	c.Board.Kind = "sim"
	if err := c.Validate(); err != nil {
		t.Errorf("Validate() = %v", err)
	}
}

func TestExampleLoads(t *testing.T) {
	c, err := Load("../astroshell.example.yaml")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if diff := cmp.Diff(c.Dome(), dome.DefaultConfig()); diff != "" {
		t.Errorf("example differs from the defaults: got(-)/want(+):\n%s", diff)
	}
}

func TestReadLeavesValidationToCaller(t *testing.T) {
	path := writeFile(t, "board:\n  kind: modbus\n")
	if _, err := Load(path); !errors.Is(err, ErrInvalid) {
		t.Fatalf("Load() = %v, want %v for a missing station", err, ErrInvalid)
	}
	c, err := Read(path)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	c.Board.Kind = "sim"
	if err := c.Validate(); err != nil {
		t.Errorf("Validate() after switching to the simulator = %v", err)
	}
}

func TestLoadUnknownKey(t *testing.T) {
	if _, err := Load(writeFile(t, "ramp_stepp: 3\n")); err == nil {
		t.Error("Load accepted an unknown key")
	}
}

func TestValidate(t *testing.T) {
	for _, test := range []struct {
		name   string
		modify func(c *Config)
	}{
		{"ramp", func(c *Config) { c.RampStep = 0 }},
		{"timeout", func(c *Config) { c.Motors[1].TimeoutToEndB = 0 }},
		{"closed end", func(c *Config) { c.Motors[0].ClosedEnd = "C" }},
		{"board", func(c *Config) { c.Board.Kind = "gpio" }},
		{"probe timeout", func(c *Config) { c.Failsafe.ProbeTimeout = 8 * time.Second }},
		{"tick log timeout", func(c *Config) { c.TickLog.Timeout = 9 * time.Second }},
		{"cycle budget", func(c *Config) { c.TickLog.Timeout = 3 * time.Second }},
		{"threshold", func(c *Config) { c.Failsafe.Threshold = 0 }},
		{"station", func(c *Config) { c.Station.Addr = "" }},
	} {
		t.Run(test.name, func(t *testing.T) {
			c := Default()
			c.Station.Addr = "192.168.1.151:80"
			test.modify(&c)
			if err := c.Validate(); !errors.Is(err, ErrInvalid) {
				t.Errorf("Validate() = %v, want %v", err, ErrInvalid)
			}
		})
	}
}
