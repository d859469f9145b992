// Package scheduler arms one-shot switches in the future, either after a
// wall-clock delay or on an upcoming beat.
//
// A Scheduler holds at most one pending trigger. Arming a new one cancels the
// pending one (cancel-and-replace). When a trigger fires it calls SwitchNow on
// its switcher exactly once; the outcome is logged and otherwise ignored.
//
//	SwitchAfter(d)        wall: now + max(d, minDelay)
//	SwitchOnBeat(bc, n)   beat: NextBeat(bc.Beat(), n)
//	           │
//	           ▼
//	   pending trigger ──fire──▶ Switcher.SwitchNow()
package scheduler

import (
	"math"
	"sync"
	"time"

	"chainrig/internal/clock"
	"chainrig/internal/controller"

	"go.uber.org/zap"
)

// DefaultMinDelay is the shortest delay SwitchAfter will arm.
const DefaultMinDelay = 10 * time.Millisecond

type (
	// WallClock is the timeline delays are measured on.
	WallClock = clock.Wall
	// BeatClock is the timeline beats are measured on.
	BeatClock = clock.Beat
	// Timer is a pending clock callback.
	Timer = clock.Timer
)

// Switcher is the one operation a scheduler needs from the controller.
type Switcher interface {
	SwitchNow() controller.Result
}

// Kind tells what a trigger is aligned to.
type Kind int

const (
	// AfterDelay triggers fire a fixed wall-clock duration after arming.
	AfterDelay Kind = iota + 1
	// OnBeat triggers fire on a beat of a beat clock.
	OnBeat
)

func (k Kind) String() string {
	switch k {
	case AfterDelay:
		return "delay"
	case OnBeat:
		return "beat"
	default:
		return "none"
	}
}

// Trigger describes an armed switch. The zero Trigger means nothing was
// armed.
type Trigger struct {
	ID      uint64
	Kind    Kind
	Delay   time.Duration // AfterDelay: the clamped delay
	Beat    float64       // OnBeat: the target beat
	ArmedAt time.Time
}

// IsZero reports whether t is the zero Trigger.
func (t Trigger) IsZero() bool { return t.ID == 0 }

// NextBeat returns the beat index a switch n beats ahead of pos lands on. A
// position exactly on a beat advances to the following beat, and n <= 0
// behaves as 1.
func NextBeat(pos float64, n int) float64 {
	if n < 1 {
		n = 1
	}
	return math.Floor(pos) + float64(n)
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithMinDelay sets the floor SwitchAfter clamps delays to. Non-positive
// floors are ignored.
func WithMinDelay(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.minDelay = d
		}
	}
}

// WithBeatClock sets the beat clock used by SwitchOnDefaultBeat.
func WithBeatClock(bc BeatClock) Option {
	return func(s *Scheduler) { s.beats = bc }
}

// WithArmObserver adds a callback run each time a trigger is armed.
func WithArmObserver(fn func(Trigger)) Option {
	return func(s *Scheduler) { s.armObservers = append(s.armObservers, fn) }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Scheduler) { s.log = l }
}

// Scheduler arms future switches against one switcher.
type Scheduler struct {
	// Collaborators
	sw    Switcher
	wall  WallClock
	beats BeatClock

	minDelay     time.Duration
	armObservers []func(Trigger)
	log          *zap.Logger

	// Pending trigger state
	mu      sync.Mutex
	seq     uint64
	pending Trigger
	timer   Timer
	closed  bool
}

// New returns a scheduler that switches sw, measuring delays on wall.
func New(sw Switcher, wall WallClock, opts ...Option) *Scheduler {
	s := &Scheduler{
		sw:       sw,
		wall:     wall,
		minDelay: DefaultMinDelay,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.wall == nil {
		s.wall = clock.System{}
	}
	if s.log == nil {
		s.log = zap.NewNop()
	}
	return s
}

// SwitchAfter arms a switch d from now. Delays below the minimum are raised
// to it. Any pending trigger is cancelled.
func (s *Scheduler) SwitchAfter(d time.Duration) Trigger {
	if d < s.minDelay {
		d = s.minDelay
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		s.log.Warn("scheduler closed, ignoring delayed switch", zap.Duration("delay", d))
		return Trigger{}
	}
	trig := s.replaceLocked(Trigger{Kind: AfterDelay, Delay: d})
	id := trig.ID
	s.timer = s.wall.AfterFunc(d, func() { s.fire(id) })
	s.mu.Unlock()

	s.log.Info("switch armed", zap.Uint64("trigger", id), zap.Duration("delay", d))
	s.armed(trig)
	return trig
}

// SwitchOnBeat arms a switch on the beat ahead beats from bc's current
// position. Any pending trigger is cancelled.
func (s *Scheduler) SwitchOnBeat(bc BeatClock, ahead int) Trigger {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		s.log.Warn("scheduler closed, ignoring beat switch", zap.Int("ahead", ahead))
		return Trigger{}
	}
	target := NextBeat(bc.Beat(), ahead)
	trig := s.replaceLocked(Trigger{Kind: OnBeat, Beat: target})
	id := trig.ID
	s.timer = bc.AtBeat(target, func() { s.fire(id) })
	s.mu.Unlock()

	s.log.Info("switch armed", zap.Uint64("trigger", id), zap.Float64("beat", target))
	s.armed(trig)
	return trig
}

// SwitchOnDefaultBeat is SwitchOnBeat on the clock set with WithBeatClock.
// Without one it arms nothing and returns the zero Trigger.
func (s *Scheduler) SwitchOnDefaultBeat(ahead int) Trigger {
	if s.beats == nil {
		s.log.Warn("no beat clock configured, ignoring beat switch", zap.Int("ahead", ahead))
		return Trigger{}
	}
	return s.SwitchOnBeat(s.beats, ahead)
}

// HasBeatClock reports whether SwitchOnDefaultBeat can arm anything.
func (s *Scheduler) HasBeatClock() bool { return s.beats != nil }

// Pending returns the armed trigger, if any.
func (s *Scheduler) Pending() (Trigger, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending, !s.pending.IsZero()
}

// Cancel disarms the pending trigger. It reports whether one was pending.
func (s *Scheduler) Cancel() bool {
	s.mu.Lock()
	trig := s.pending
	s.cancelLocked()
	s.mu.Unlock()

	if trig.IsZero() {
		return false
	}
	s.log.Info("switch cancelled", zap.Uint64("trigger", trig.ID))
	return true
}

// Close cancels the pending trigger and makes the scheduler inert.
func (s *Scheduler) Close() {
	s.mu.Lock()
	s.cancelLocked()
	s.closed = true
	s.mu.Unlock()
}

func (s *Scheduler) replaceLocked(trig Trigger) Trigger {
	if !s.pending.IsZero() {
		s.log.Debug("replacing pending switch", zap.Uint64("trigger", s.pending.ID))
	}
	s.cancelLocked()
	s.seq++
	trig.ID = s.seq
	trig.ArmedAt = s.wall.Now()
	s.pending = trig
	return trig
}

func (s *Scheduler) cancelLocked() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.pending = Trigger{}
}

// fire runs on a clock goroutine. A timer whose trigger was replaced or
// cancelled after it started firing finds a different pending ID and does
// nothing.
func (s *Scheduler) fire(id uint64) {
	s.mu.Lock()
	if s.closed || s.pending.ID != id {
		s.mu.Unlock()
		return
	}
	s.pending = Trigger{}
	s.timer = nil
	s.mu.Unlock()

	res := s.sw.SwitchNow()
	s.log.Info("scheduled switch fired",
		zap.Uint64("trigger", id),
		zap.Stringer("outcome", res.Outcome),
		zap.String("current", res.Current))
}

func (s *Scheduler) armed(trig Trigger) {
	for _, fn := range s.armObservers {
		fn(trig)
	}
}
