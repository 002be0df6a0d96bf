// Package supervisor runs the slow control cycle: the network failsafe,
// counter persistence, tick-log pushes and the systemd watchdog.
package supervisor

import (
	"context"
	"log"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/joergs-git/astroshell/counters"
	"github.com/joergs-git/astroshell/dome"
	"github.com/joergs-git/astroshell/failsafe"
	"github.com/joergs-git/astroshell/metrics"
	"github.com/joergs-git/astroshell/runlog"
	"github.com/joergs-git/astroshell/ticklog"
	"github.com/robfig/cron/v3"
)

type Monitor interface {
	Step(ctx context.Context)
	Status() failsafe.Status
}

type Saver interface {
	Save(c counters.Counters, force bool) (bool, error)
}

// Supervisor is configured through its fields. Controller, Monitor,
// Recorder, Tally and Saver are required.
type Supervisor struct {
	Cycle       time.Duration
	PushTimeout time.Duration

	Controller interface{ Snapshot() *dome.Snapshot }
	Monitor    Monitor
	Recorder   interface{ Drain() []runlog.Record }
	Tally      *counters.Tally
	Saver      Saver

	// Sink receives finished runs while TickLog reports true.
	Sink    ticklog.Sink
	TickLog func() bool
	// Board reports whether the I/O board answers.
	Board func() bool
	// Notify defaults to daemon.SdNotify.
	Notify func(state string) (bool, error)
}

// DaySchedule advances the day counter.
const DaySchedule = "@every 24h"

// Run steps every cycle until ctx is done, then forces a final save.
func (s *Supervisor) Run(ctx context.Context) error {
	c := cron.New()
	if _, err := c.AddFunc(DaySchedule, s.advanceDay); err != nil {
		return err
	}
	c.Start()
	defer c.Stop()

	cycle := s.Cycle
	if cycle <= 0 {
		cycle = time.Second
	}
	t := time.NewTicker(cycle)
	defer t.Stop()
	s.notify(daemon.SdNotifyReady)
	for {
		select {
		case <-ctx.Done():
			s.notify(daemon.SdNotifyStopping)
			if _, err := s.Saver.Save(s.Tally.Get(), true); err != nil {
				log.Printf("saving counters on shutdown: %v", err)
			}
			return ctx.Err()
		case <-t.C:
		}
		s.Step(ctx)
	}
}

// Step runs one supervisory cycle. It blocks for at most the probe timeout
// plus one push timeout per motor.
func (s *Supervisor) Step(ctx context.Context) {
	s.Monitor.Step(ctx)

	for _, rec := range s.Recorder.Drain() {
		metrics.Run(rec)
		log.Printf("run: %v", rec)
		if s.Sink == nil || s.TickLog == nil || !s.TickLog() {
			continue
		}
		s.push(ctx, rec)
	}

	c := s.Tally.Get()
	if _, err := s.Saver.Save(c, false); err != nil {
		log.Printf("saving counters: %v", err)
	}

	board := true
	if s.Board != nil {
		board = s.Board()
	}
	metrics.Observe(s.Controller.Snapshot(), s.Monitor.Status(), c, board)
	s.notify(daemon.SdNotifyWatchdog)
}

func (s *Supervisor) push(ctx context.Context, rec runlog.Record) {
	timeout := s.PushTimeout
	if timeout <= 0 {
		timeout = ticklog.DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := s.Sink.Push(ctx, rec); err != nil {
		log.Printf("pushing %v: %v", rec, err)
	}
}

func (s *Supervisor) advanceDay() {
	log.Printf("day counter now %d", s.Tally.AdvanceDay())
}

func (s *Supervisor) notify(state string) {
	notify := s.Notify
	if notify == nil {
		notify = func(state string) (bool, error) {
			return daemon.SdNotify(false, state)
		}
	}
	if _, err := notify(state); err != nil {
		log.Printf("notifying systemd: %v", err)
	}
}
