package failsafe

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/joergs-git/astroshell/counters"
	"github.com/joergs-git/astroshell/dome"
)

type fakeController struct {
	snap dome.Snapshot
	reqs []dome.Request
}

func (f *fakeController) Snapshot() *dome.Snapshot {
	s := f.snap
	return &s
}

func (f *fakeController) Submit(_ context.Context, r dome.Request) error {
	f.reqs = append(f.reqs, r)
	return nil
}

func (f *fakeController) take() []dome.Request {
	r := f.reqs
	f.reqs = nil
	return r
}

type fakeSaver struct {
	forced int
	last   counters.Counters
}

func (f *fakeSaver) Save(c counters.Counters, force bool) (bool, error) {
	if force {
		f.forced++
	}
	f.last = c
	return true, nil
}

// channel builds the state of a shutter closing toward end A.
func channel(m dome.Motor, dir dome.Direction, ends ...dome.End) dome.ChannelState {
	ch := dome.ChannelState{Motor: m, Direction: dir, ClosedEnd: dome.EndA}
	for _, e := range ends {
		switch e {
		case dome.EndA:
			ch.AtEndA = true
		case dome.EndB:
			ch.AtEndB = true
		}
	}
	return ch
}

func openDome() dome.Snapshot {
	return dome.Snapshot{Channels: [dome.NumMotors]dome.ChannelState{
		channel(dome.MotorA, dome.Idle, dome.EndB),
		channel(dome.MotorB, dome.Idle, dome.EndB),
	}}
}

type harness struct {
	m     *Monitor
	ctrl  *fakeController
	saver *fakeSaver
	tally *counters.Tally
	now   time.Time
	link  bool
	err   error
}

func newHarness() *harness {
	h := &harness{
		ctrl:  &fakeController{snap: openDome()},
		saver: &fakeSaver{},
		tally: counters.NewTally(counters.Counters{}),
		now:   time.Date(2026, 2, 3, 22, 0, 0, 0, time.UTC),
		link:  true,
	}
	h.m = New(DefaultConfig(), h.ctrl, h.tally, h.saver,
		LinkFunc(func() bool { return h.link }),
		ProbeFunc(func(context.Context) error { return h.err }))
	h.m.now = func() time.Time { return h.now }
	return h
}

func (h *harness) step(advance time.Duration) {
	h.now = h.now.Add(advance)
	h.m.Step(context.Background())
}

var errUnreachable = errors.New("connection timed out")

func failsafeRequests() []dome.Request {
	return []dome.Request{
		{Kind: dome.RequestFailsafe, Motor: dome.MotorA},
		{Kind: dome.RequestFailsafe, Motor: dome.MotorB},
	}
}

func TestThresholdClosesDome(t *testing.T) {
	h := newHarness()
	h.err = errUnreachable
	for i := 0; i < 4; i++ {
		h.step(time.Minute)
		if got := h.ctrl.take(); got != nil {
			t.Fatalf("failure %d submitted %+v", i+1, got)
		}
	}
	if got := h.m.Status().ConsecutiveFailures; got != 4 {
		t.Fatalf("ConsecutiveFailures = %d, want 4", got)
	}
	h.step(time.Minute)
	if diff := cmp.Diff(h.ctrl.take(), failsafeRequests()); diff != "" {
		t.Errorf("unexpected requests: got(-)/want(+):\n%s", diff)
	}
	want := counters.Counters{NetworkFailures: 5, AutoCloses: 1}
	if diff := cmp.Diff(h.tally.Get(), want); diff != "" {
		t.Errorf("unexpected counters: got(-)/want(+):\n%s", diff)
	}
	if h.saver.forced != 1 || h.saver.last != want {
		t.Errorf("saver got %d forced writes of %+v, want 1 of %+v", h.saver.forced, h.saver.last, want)
	}
	if got := h.m.Status(); got.ConsecutiveFailures != 0 || !got.WindowStart.IsZero() {
		t.Errorf("status after auto-close = %+v, want counter and window reset", got)
	}
}

func TestStaleFailuresRestartWindow(t *testing.T) {
	h := newHarness()
	h.err = errUnreachable
	for i := 0; i < 4; i++ {
		h.step(time.Minute)
	}
	start := h.m.Status().WindowStart
	h.step(5 * time.Minute)
	got := h.m.Status()
	if got.ConsecutiveFailures != 1 || !got.WindowStart.Equal(h.now) || got.WindowStart.Equal(start) {
		t.Errorf("status = %+v, want a fresh window with one failure", got)
	}
	if reqs := h.ctrl.take(); reqs != nil {
		t.Errorf("stale failures closed the dome: %+v", reqs)
	}
}

func TestProbePeriod(t *testing.T) {
	h := newHarness()
	probes := 0
	h.m.prober = ProbeFunc(func(context.Context) error {
		probes++
		return errUnreachable
	})
	for i := 0; i < 150; i++ {
		h.step(time.Second)
	}
	// Probes at 1s, 61s and 121s.
	if probes != 3 {
		t.Errorf("probes = %d, want 3", probes)
	}
	if got := h.tally.Get().NetworkFailures; got != 3 {
		t.Errorf("NetworkFailures = %d, want 3", got)
	}
}

func TestRecoveryRescinds(t *testing.T) {
	h := newHarness()
	h.err = errUnreachable
	h.step(time.Minute)
	h.step(time.Minute)
	h.ctrl.take()
	h.err = nil
	h.step(time.Minute)
	if diff := cmp.Diff(h.ctrl.take(), recoveryRequests()); diff != "" {
		t.Errorf("unexpected requests: got(-)/want(+):\n%s", diff)
	}
	if got := h.m.Status(); got.ConsecutiveFailures != 0 || got.LastError != "" {
		t.Errorf("status after recovery = %+v", got)
	}
	if got := h.tally.Get().NetworkFailures; got != 2 {
		t.Errorf("NetworkFailures = %d, want lifetime count 2 kept", got)
	}
}

func TestCableRemoval(t *testing.T) {
	h := newHarness()
	// Motor A rests at the open end, motor B is closing mid-travel.
	h.ctrl.snap.Channels[dome.MotorB] = channel(dome.MotorB, dome.ToEndA)
	h.link = false
	h.step(time.Second)
	if diff := cmp.Diff(h.ctrl.take(), failsafeRequests()); diff != "" {
		t.Errorf("unexpected requests: got(-)/want(+):\n%s", diff)
	}
	if got := h.m.Status(); !got.CableHandled || got.LinkPresent {
		t.Errorf("status = %+v, want link absent and handled", got)
	}
	h.step(time.Second)
	h.step(time.Second)
	if got := h.ctrl.take(); got != nil {
		t.Errorf("same removal handled again: %+v", got)
	}
	if got := h.tally.Get().AutoCloses; got != 1 {
		t.Errorf("AutoCloses = %d, want 1", got)
	}
	if h.saver.forced != 1 {
		t.Errorf("forced saves = %d, want 1", h.saver.forced)
	}

	h.link = true
	h.step(time.Second)
	if h.m.Status().CableHandled {
		t.Error("CableHandled still set after the link returned")
	}
	h.link = false
	h.step(time.Second)
	if got := h.tally.Get().AutoCloses; got != 2 {
		t.Errorf("AutoCloses after second removal = %d, want 2", got)
	}
}

func recoveryRequests() []dome.Request {
	var reqs []dome.Request
	for m := dome.Motor(0); m < dome.NumMotors; m++ {
		reqs = append(reqs,
			dome.Request{Kind: dome.RequestRescind, Motor: m},
			dome.Request{Kind: dome.RequestClearLatch, Motor: m})
	}
	return reqs
}

func TestLinkReturnRescindsAtOnce(t *testing.T) {
	h := newHarness()
	h.step(time.Second)
	if diff := cmp.Diff(h.ctrl.take(), recoveryRequests()); diff != "" {
		t.Fatalf("unexpected requests after first probe: got(-)/want(+):\n%s", diff)
	}
	h.link = false
	h.step(10 * time.Second)
	if diff := cmp.Diff(h.ctrl.take(), failsafeRequests()); diff != "" {
		t.Fatalf("unexpected requests on removal: got(-)/want(+):\n%s", diff)
	}

	h.link = true
	h.step(time.Second)
	if diff := cmp.Diff(h.ctrl.take(), recoveryRequests()); diff != "" {
		t.Errorf("unexpected requests on link return: got(-)/want(+):\n%s", diff)
	}
	if got := h.m.Status(); !got.LastProbe.Equal(h.now) || got.CableHandled {
		t.Errorf("status = %+v, want a probe at %v", got, h.now)
	}
	// Back on the regular probe period afterwards.
	for i := 0; i < 5; i++ {
		h.step(time.Second)
	}
	if got := h.ctrl.take(); got != nil {
		t.Errorf("probed again within the period: %+v", got)
	}
}

func TestFailureAfterAutoCloseOnClosedDome(t *testing.T) {
	h := newHarness()
	h.err = errUnreachable
	for i := 0; i < 5; i++ {
		h.step(time.Minute)
	}
	if diff := cmp.Diff(h.ctrl.take(), failsafeRequests()); diff != "" {
		t.Fatalf("unexpected requests: got(-)/want(+):\n%s", diff)
	}
	h.ctrl.snap.Channels[dome.MotorA] = channel(dome.MotorA, dome.Idle, dome.EndA)
	h.ctrl.snap.Channels[dome.MotorB] = channel(dome.MotorB, dome.Idle, dome.EndA)

	h.step(10 * time.Minute)
	if got := h.ctrl.take(); got != nil {
		t.Errorf("sixth failure on a closed dome submitted %+v", got)
	}
	want := counters.Counters{NetworkFailures: 6, AutoCloses: 1}
	if diff := cmp.Diff(h.tally.Get(), want); diff != "" {
		t.Errorf("unexpected counters: got(-)/want(+):\n%s", diff)
	}
	if h.saver.forced != 1 {
		t.Errorf("forced saves = %d, want 1", h.saver.forced)
	}
}

func TestOneAutoClosePerWindow(t *testing.T) {
	h := newHarness()
	h.err = errUnreachable
	for episode := 1; episode <= 2; episode++ {
		for i := 0; i < 4; i++ {
			h.step(time.Minute)
			if got := h.ctrl.take(); got != nil {
				t.Fatalf("episode %d failure %d submitted %+v", episode, i+1, got)
			}
		}
		h.step(time.Minute)
		if diff := cmp.Diff(h.ctrl.take(), failsafeRequests()); diff != "" {
			t.Errorf("episode %d: unexpected requests: got(-)/want(+):\n%s", episode, diff)
		}
		if got := h.tally.Get().AutoCloses; got != uint32(episode) {
			t.Errorf("episode %d: AutoCloses = %d, want %d", episode, got, episode)
		}
		// The next episode starts in a disjoint window.
		h.now = h.now.Add(10 * time.Minute)
	}
	want := counters.Counters{NetworkFailures: 10, AutoCloses: 2}
	if diff := cmp.Diff(h.tally.Get(), want); diff != "" {
		t.Errorf("unexpected counters: got(-)/want(+):\n%s", diff)
	}
}

func TestClosedDomeClearsPressure(t *testing.T) {
	h := newHarness()
	h.err = errUnreachable
	h.step(time.Minute)
	h.step(time.Minute)
	h.ctrl.take()

	closed := channel(dome.MotorA, dome.Idle, dome.EndA)
	closed.FailsafeOwned = true
	h.ctrl.snap.Channels[dome.MotorA] = closed
	h.ctrl.snap.Channels[dome.MotorB] = channel(dome.MotorB, dome.Idle, dome.EndA)
	h.step(time.Second)
	if got := h.m.Status(); got.ConsecutiveFailures != 0 || !got.WindowStart.IsZero() {
		t.Errorf("status = %+v, want counters cleared on a closed dome", got)
	}
	want := []dome.Request{{Kind: dome.RequestRelease, Motor: dome.MotorA}}
	if diff := cmp.Diff(h.ctrl.take(), want); diff != "" {
		t.Errorf("unexpected requests: got(-)/want(+):\n%s", diff)
	}

	h.link = false
	h.step(time.Second)
	if got := h.tally.Get().AutoCloses; got != 0 {
		t.Errorf("AutoCloses = %d, want none for an already closed dome", got)
	}
}

type fakeIO struct{ raw uint32 }

func (f *fakeIO) Inputs() uint32                           { return f.raw }
func (f *fakeIO) Drive(dome.Motor, dome.Direction, uint8) {}

func TestCableRemovalDrivesController(t *testing.T) {
	cfg := dome.DefaultConfig()
	// Motor A at its open end B, motor B between its ends.
	io := &fakeIO{raw: 1 << uint(cfg.Wiring.Motors[dome.MotorA].EndB.Bit)}
	ctrl := dome.NewController(cfg, io, nil)
	ctrl.TrySubmit(dome.Request{Kind: dome.RequestToggle, Motor: dome.MotorB, Dir: dome.ToEndA, Reason: dome.RemoteStop})
	ctrl.Tick()

	tally := counters.NewTally(counters.Counters{})
	m := New(DefaultConfig(), ctrl, tally, &fakeSaver{},
		LinkFunc(func() bool { return false }),
		ProbeFunc(func(context.Context) error { return nil }))
	m.Step(context.Background())
	ctrl.Tick()

	s := ctrl.Snapshot()
	if got := s.Channels[dome.MotorA]; got.Direction != dome.ToEndA || !got.FailsafeOwned || got.StopReason != dome.NetworkFailsafe {
		t.Errorf("motor A = %+v, want closing under failsafe ownership", got)
	}
	if got := s.Channels[dome.MotorB]; got.Direction != dome.ToEndA || got.FailsafeOwned {
		t.Errorf("motor B = %+v, want still closing on the remote command", got)
	}
	if got := tally.Get().AutoCloses; got != 1 {
		t.Errorf("AutoCloses = %d, want 1", got)
	}
}
