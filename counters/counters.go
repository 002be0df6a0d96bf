// Package counters keeps the dome's lifetime event counters and persists
// them across power loss.
package counters

import (
	"encoding/binary"
	"errors"
	"sync"
)

const (
	sentinel  = 0xA5
	recordLen = 10
)

// ErrNoRecord is returned when the stored record is missing or was not
// written by this program.
var ErrNoRecord = errors.New("counters: no valid record")

// Counters is the persisted state. UptimeDays wraps at 256 and restarts at
// zero on every boot.
type Counters struct {
	NetworkFailures uint32 `json:"network_failures"`
	AutoCloses      uint32 `json:"auto_closes"`
	UptimeDays      uint8  `json:"uptime_days"`
}

// MarshalBinary encodes c as sentinel, network failures, auto-closes and day
// counter, integers big endian.
func (c Counters) MarshalBinary() ([]byte, error) {
	b := make([]byte, recordLen)
	b[0] = sentinel
	binary.BigEndian.PutUint32(b[1:5], c.NetworkFailures)
	binary.BigEndian.PutUint32(b[5:9], c.AutoCloses)
	b[9] = c.UptimeDays
	return b, nil
}

func (c *Counters) UnmarshalBinary(b []byte) error {
	if len(b) != recordLen || b[0] != sentinel {
		return ErrNoRecord
	}
	c.NetworkFailures = binary.BigEndian.Uint32(b[1:5])
	c.AutoCloses = binary.BigEndian.Uint32(b[5:9])
	c.UptimeDays = b[9]
	return nil
}

// Tally is the in-memory authoritative copy of the counters, shared by the
// failsafe monitor, the command dispatcher and the supervisor.
type Tally struct {
	mu sync.Mutex
	c  Counters
}

// NewTally starts from loaded counters. The day counter is not carried over
// a restart.
func NewTally(c Counters) *Tally {
	c.UptimeDays = 0
	return &Tally{c: c}
}

func (t *Tally) Get() Counters {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.c
}

func (t *Tally) NetworkFailure() {
	t.mu.Lock()
	t.c.NetworkFailures++
	t.mu.Unlock()
}

func (t *Tally) AutoClose() {
	t.mu.Lock()
	t.c.AutoCloses++
	t.mu.Unlock()
}

// AdvanceDay bumps the wrapping day counter.
func (t *Tally) AdvanceDay() uint8 {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.c.UptimeDays++
	return t.c.UptimeDays
}

// Reset zeroes the lifetime counters. The day counter is kept.
func (t *Tally) Reset() {
	t.mu.Lock()
	t.c.NetworkFailures = 0
	t.c.AutoCloses = 0
	t.mu.Unlock()
}
