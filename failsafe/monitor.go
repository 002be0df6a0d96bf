// Package failsafe closes the dome when the weather station stops
// answering or the network cable is pulled.
package failsafe

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/joergs-git/astroshell/counters"
	"github.com/joergs-git/astroshell/dome"
)

type Config struct {
	// Threshold consecutive probe failures within Window close the dome.
	Threshold    int           `yaml:"threshold"`
	Window       time.Duration `yaml:"window"`
	ProbePeriod  time.Duration `yaml:"probe_period"`
	ProbeTimeout time.Duration `yaml:"probe_timeout"`
}

func DefaultConfig() Config {
	return Config{
		Threshold:    5,
		Window:       5 * time.Minute,
		ProbePeriod:  time.Minute,
		ProbeTimeout: 3 * time.Second,
	}
}

var ErrConfig = errors.New("failsafe: invalid configuration")

func (c Config) Validate() error {
	if c.Threshold < 1 || c.Window <= 0 || c.ProbePeriod <= 0 || c.ProbeTimeout <= 0 {
		return ErrConfig
	}
	return nil
}

// Controller is the part of dome.Controller the monitor needs.
type Controller interface {
	Snapshot() *dome.Snapshot
	Submit(ctx context.Context, r dome.Request) error
}

// Saver persists counters. Auto-closes always force a write.
type Saver interface {
	Save(c counters.Counters, force bool) (bool, error)
}

// Status is the monitor state shown to operators.
type Status struct {
	ConsecutiveFailures int       `json:"consecutive_failures"`
	WindowStart         time.Time `json:"window_start"`
	LinkPresent         bool      `json:"link_present"`
	CableHandled        bool      `json:"cable_handled"`
	LastProbe           time.Time `json:"last_probe"`
	LastError           string    `json:"last_error,omitempty"`
}

// Monitor is stepped by the supervisor once per cycle. Step must not be
// called concurrently; Status may be called from anywhere.
type Monitor struct {
	cfg    Config
	ctrl   Controller
	tally  *counters.Tally
	saver  Saver
	link   Link
	prober Prober
	now    func() time.Time

	st Status

	mu        sync.Mutex
	published Status
}

func New(cfg Config, ctrl Controller, tally *counters.Tally, saver Saver, link Link, prober Prober) *Monitor {
	return &Monitor{
		cfg:    cfg,
		ctrl:   ctrl,
		tally:  tally,
		saver:  saver,
		link:   link,
		prober: prober,
		now:    time.Now,
	}
}

func (m *Monitor) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.published
}

// Step checks the link on every call and probes the station once per probe
// period, and at once when a removed link returns. It blocks for at most
// the probe timeout.
func (m *Monitor) Step(ctx context.Context) {
	now := m.now()
	m.st.LinkPresent = m.link.Present()
	if !m.st.LinkPresent {
		if !m.st.CableHandled {
			m.closeDome(ctx, "network link lost")
			m.st.CableHandled = true
		}
	} else {
		if m.st.CableHandled {
			// Probe right away so a close caused by the removal is
			// rescinded as soon as the station answers.
			log.Print("network link back")
			m.st.LastProbe = time.Time{}
			m.st.CableHandled = false
		}
		if m.st.LastProbe.IsZero() || now.Sub(m.st.LastProbe) >= m.cfg.ProbePeriod {
			m.probe(ctx, now)
		}
	}

	if snap := m.ctrl.Snapshot(); snap.Closed() {
		m.st.ConsecutiveFailures = 0
		m.st.WindowStart = time.Time{}
		for _, ch := range snap.Channels {
			if ch.FailsafeOwned {
				m.submit(ctx, dome.Request{Kind: dome.RequestRelease, Motor: ch.Motor})
			}
		}
	}

	m.mu.Lock()
	m.published = m.st
	m.mu.Unlock()
}

func (m *Monitor) probe(ctx context.Context, now time.Time) {
	pctx, cancel := context.WithTimeout(ctx, m.cfg.ProbeTimeout)
	err := m.prober.Probe(pctx)
	cancel()
	m.st.LastProbe = now
	if err == nil {
		if m.st.ConsecutiveFailures > 0 {
			log.Printf("station answering again after %d failures", m.st.ConsecutiveFailures)
		}
		m.st.LastError = ""
		m.st.ConsecutiveFailures = 0
		m.st.WindowStart = time.Time{}
		for mo := dome.Motor(0); mo < dome.NumMotors; mo++ {
			m.submit(ctx, dome.Request{Kind: dome.RequestRescind, Motor: mo})
			m.submit(ctx, dome.Request{Kind: dome.RequestClearLatch, Motor: mo})
		}
		return
	}

	m.st.LastError = err.Error()
	m.tally.NetworkFailure()
	if m.st.WindowStart.IsZero() || now.Sub(m.st.WindowStart) > m.cfg.Window {
		m.st.ConsecutiveFailures = 0
		m.st.WindowStart = now
	}
	m.st.ConsecutiveFailures++
	log.Printf("probing station: %v (%d/%d)", err, m.st.ConsecutiveFailures, m.cfg.Threshold)
	if m.st.ConsecutiveFailures >= m.cfg.Threshold {
		m.closeDome(ctx, "station unreachable")
		m.st.ConsecutiveFailures = 0
		m.st.WindowStart = time.Time{}
	}
}

// closeDome asks every shutter that is not closed to close. An auto-close
// is counted only if at least one shutter was asked.
func (m *Monitor) closeDome(ctx context.Context, why string) {
	snap := m.ctrl.Snapshot()
	n := 0
	for _, ch := range snap.Channels {
		if ch.Closed() {
			continue
		}
		if m.submit(ctx, dome.Request{Kind: dome.RequestFailsafe, Motor: ch.Motor}) {
			n++
		}
	}
	if n == 0 {
		log.Printf("%s: dome already closed", why)
		return
	}
	log.Printf("%s: closing %d shutter(s)", why, n)
	m.tally.AutoClose()
	if _, err := m.saver.Save(m.tally.Get(), true); err != nil {
		log.Printf("persisting auto-close: %v", err)
	}
}

func (m *Monitor) submit(ctx context.Context, r dome.Request) bool {
	if err := m.ctrl.Submit(ctx, r); err != nil {
		log.Printf("submitting %+v: %v", r, err)
		return false
	}
	return true
}
