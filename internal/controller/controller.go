// Package controller owns the current/next chain pair and performs the
// atomic switch between them.
//
// Every mutation of the pair happens under one mutex, so a switch triggered
// by a remote command and one triggered by a scheduler timer are serialized.
// Observers only ever see the pair before or after a switch.
package controller

import (
	"sync"
	"sync/atomic"

	"chainrig/internal/chain"

	"go.uber.org/zap"
)

// Outcome classifies a SwitchNow call.
type Outcome int

const (
	// Switched means next was promoted to current.
	Switched Outcome = iota
	// NothingToSwitch means no chain was staged. Not an error.
	NothingToSwitch
	// StaleNext means the staged chain had been freed; it was discarded.
	StaleNext
	// SwitchedSilent means next was promoted but its output failed to
	// start. Result.Err holds the cause.
	SwitchedSilent
)

func (o Outcome) String() string {
	switch o {
	case Switched:
		return "switched"
	case NothingToSwitch:
		return "nothing_to_switch"
	case StaleNext:
		return "stale_next"
	case SwitchedSilent:
		return "switched_silent"
	default:
		return "unknown"
	}
}

// Result describes one SwitchNow call.
type Result struct {
	Outcome  Outcome
	Previous string // current before the call, "" for none
	Current  string // current after the call, "" for none
	Err      error  // start failure for SwitchedSilent
}

// Snapshot is the (current, next) pair by name. "" means none.
type Snapshot struct {
	Current string
	Next    string
}

// Sink receives push notifications of pair changes. A nil chain means none.
type Sink interface {
	CurrentChanged(c *chain.Chain)
	NextChanged(c *chain.Chain)
}

// Option configures a Controller.
type Option func(*Controller)

// WithSink adds a status sink.
func WithSink(s Sink) Option {
	return func(c *Controller) { c.sinks = append(c.sinks, s) }
}

// WithObserver adds a callback run after every SwitchNow.
func WithObserver(fn func(Result)) Option {
	return func(c *Controller) { c.observers = append(c.observers, fn) }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Controller) { c.log = l }
}

// Controller holds the current and next chain references.
type Controller struct {
	mu      sync.Mutex
	current *chain.Chain
	next    *chain.Chain

	// Notification state. notifying guards against a sink re-entering the
	// controller while it is being notified; dirty asks the outer loop to
	// deliver again.
	notifyMu  sync.Mutex
	notifying atomic.Bool
	dirty     atomic.Bool
	sinks     []Sink
	observers []func(Result)

	log *zap.Logger
}

// New creates a controller with no current or next chain.
func New(opts ...Option) *Controller {
	c := &Controller{}
	for _, opt := range opts {
		opt(c)
	}
	if c.log == nil {
		c.log = zap.NewNop()
	}
	return c
}

// AddSink registers a sink after construction.
func (c *Controller) AddSink(s Sink) {
	c.notifyMu.Lock()
	defer c.notifyMu.Unlock()
	c.sinks = append(c.sinks, s)
}

// SetCurrent replaces current unconditionally.
func (c *Controller) SetCurrent(ch *chain.Chain) {
	c.mu.Lock()
	c.current = ch
	c.mu.Unlock()

	c.log.Info("current set", zap.String("current", nameOf(ch)))
	c.notify()
}

// SetNext replaces next unconditionally.
func (c *Controller) SetNext(ch *chain.Chain) {
	c.mu.Lock()
	c.next = ch
	c.mu.Unlock()

	c.log.Info("next set", zap.String("next", nameOf(ch)))
	c.notify()
}

// SwitchNow promotes next to current: stop current, start next, current :=
// next, next := none. With nothing staged it reports NothingToSwitch and
// leaves the pair untouched.
func (c *Controller) SwitchNow() Result {
	c.mu.Lock()
	res := Result{Previous: nameOf(c.current)}

	switch {
	case c.next == nil:
		res.Outcome = NothingToSwitch
		res.Current = res.Previous
		c.mu.Unlock()
		c.log.Warn("switch requested with nothing staged", zap.String("current", res.Previous))
		c.observe(res)
		return res

	case c.next.Freed():
		stale := c.next.Name()
		c.next = nil
		res.Outcome = StaleNext
		res.Current = res.Previous
		c.mu.Unlock()
		c.log.Warn("staged chain was freed, discarding it", zap.String("next", stale))
		c.notify()
		c.observe(res)
		return res
	}

	incoming := c.next
	if c.current != nil && c.current != incoming {
		c.current.Stop()
	}
	res.Outcome = Switched
	if err := incoming.Play(); err != nil {
		res.Outcome = SwitchedSilent
		res.Err = err
	}
	c.current = incoming
	c.next = nil
	res.Current = incoming.Name()
	c.mu.Unlock()

	if res.Err != nil {
		c.log.Error("switched, but the incoming chain failed to start",
			zap.String("from", res.Previous),
			zap.String("to", res.Current),
			zap.Error(res.Err))
	} else {
		c.log.Info("switched",
			zap.String("from", res.Previous),
			zap.String("to", res.Current))
	}
	c.notify()
	c.observe(res)
	return res
}

// Status returns the current pair by name.
func (c *Controller) Status() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Snapshot{Current: nameOf(c.current), Next: nameOf(c.next)}
}

// Current returns the current chain, or nil.
func (c *Controller) Current() *chain.Chain {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// Next returns the staged chain, or nil.
func (c *Controller) Next() *chain.Chain {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.next
}

// Forget drops any reference to ch. Wire it to Registry.OnRemove so a freed
// chain never lingers as current or next.
func (c *Controller) Forget(ch *chain.Chain) {
	c.mu.Lock()
	changed := false
	if c.current == ch {
		c.current = nil
		changed = true
	}
	if c.next == ch {
		c.next = nil
		changed = true
	}
	c.mu.Unlock()

	if changed {
		c.log.Info("dropped freed chain", zap.String("chain", nameOf(ch)))
		c.notify()
	}
}

// notify pushes the latest pair to every sink. A call arriving while a
// notification is in progress (including one made by a sink) only marks the
// state dirty; the running loop delivers again with the newest pair.
func (c *Controller) notify() {
	c.dirty.Store(true)
	for c.dirty.Load() {
		if !c.notifying.CompareAndSwap(false, true) {
			return
		}
		for c.dirty.Swap(false) {
			c.deliver()
		}
		c.notifying.Store(false)
	}
}

func (c *Controller) deliver() {
	c.mu.Lock()
	current, next := c.current, c.next
	c.mu.Unlock()

	c.notifyMu.Lock()
	sinks := append([]Sink(nil), c.sinks...)
	c.notifyMu.Unlock()

	for _, s := range sinks {
		s.CurrentChanged(current)
		s.NextChanged(next)
	}
}

func (c *Controller) observe(res Result) {
	for _, fn := range c.observers {
		fn(res)
	}
}

func nameOf(ch *chain.Chain) string {
	if ch == nil {
		return ""
	}
	return ch.Name()
}
