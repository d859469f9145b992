// Package session wires the switching core together for one performance:
// a chain registry, the controller that owns current/next, a scheduler for
// timed switches and a router that maps commands onto all of them.
//
// The router's chain-editing routes (new, add, remove, setFrom) have no
// built-in behavior; the session supplies them as overrides that operate on
// the chain most recently created with new.
package session

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"chainrig/internal/chain"
	"chainrig/internal/clock"
	"chainrig/internal/controller"
	"chainrig/internal/logging"
	"chainrig/internal/router"
	"chainrig/internal/scheduler"

	"go.uber.org/zap"
)

// ErrNoEditChain is returned by slot edits before any chain was created.
var ErrNoEditChain = errors.New("no chain is being edited")

// Config holds session settings.
type Config struct {
	// Namespace prefixes every command address.
	Namespace string

	// DefaultSlots is the slot count for new without an explicit count.
	DefaultSlots int

	// MinDelay is the floor for delayed switches.
	MinDelay time.Duration
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Namespace:    "chainrig",
		DefaultSlots: 6,
		MinDelay:     scheduler.DefaultMinDelay,
	}
}

// Option configures a Session.
type Option func(*options)

type options struct {
	engine    chain.Engine
	wall      clock.Wall
	beat      clock.Beat
	sinks     []controller.Sink
	switchObs []func(controller.Result)
	dispatch  []func(router.Kind, router.Outcome)
	armObs    []func(scheduler.Trigger)
	log       *zap.Logger
}

// WithEngine sets the audio engine chains build voices on.
func WithEngine(e chain.Engine) Option {
	return func(o *options) { o.engine = e }
}

// WithWallClock sets the clock delayed switches run on.
func WithWallClock(w clock.Wall) Option {
	return func(o *options) { o.wall = w }
}

// WithBeatClock sets the clock beat-aligned switches follow.
func WithBeatClock(b clock.Beat) Option {
	return func(o *options) { o.beat = b }
}

// WithSink adds a status sink.
func WithSink(s controller.Sink) Option {
	return func(o *options) { o.sinks = append(o.sinks, s) }
}

// WithSwitchObserver adds a callback for every switch result.
func WithSwitchObserver(fn func(controller.Result)) Option {
	return func(o *options) { o.switchObs = append(o.switchObs, fn) }
}

// WithDispatchObserver adds a callback for every dispatched command.
func WithDispatchObserver(fn func(router.Kind, router.Outcome)) Option {
	return func(o *options) { o.dispatch = append(o.dispatch, fn) }
}

// WithArmObserver adds a callback for every armed trigger.
func WithArmObserver(fn func(scheduler.Trigger)) Option {
	return func(o *options) { o.armObs = append(o.armObs, fn) }
}

// WithLogger sets the base logger; components get category children.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.log = l }
}

// Session owns the switching core for one namespace.
type Session struct {
	Registry   *chain.Registry
	Controller *controller.Controller
	Scheduler  *scheduler.Scheduler
	Router     *router.Router

	cfg Config
	log *zap.Logger

	mu      sync.Mutex
	editing *chain.Chain
	closed  bool
}

// New builds a session and installs its routes on bus.
func New(bus router.Bus, cfg Config, opts ...Option) (*Session, error) {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.log == nil {
		o.log = zap.NewNop()
	}
	if cfg.DefaultSlots < chain.MinSlots {
		cfg.DefaultSlots = DefaultConfig().DefaultSlots
	}

	s := &Session{cfg: cfg, log: logging.For(o.log, logging.CategorySession)}

	s.Registry = chain.NewRegistry(o.engine, logging.For(o.log, logging.CategoryChain))

	ctrlOpts := []controller.Option{controller.WithLogger(logging.For(o.log, logging.CategoryController))}
	for _, sink := range o.sinks {
		ctrlOpts = append(ctrlOpts, controller.WithSink(sink))
	}
	for _, fn := range o.switchObs {
		ctrlOpts = append(ctrlOpts, controller.WithObserver(fn))
	}
	s.Controller = controller.New(ctrlOpts...)
	s.Registry.OnRemove(s.Controller.Forget)
	s.Registry.OnRemove(s.forgetEditing)

	schedOpts := []scheduler.Option{
		scheduler.WithLogger(logging.For(o.log, logging.CategoryScheduler)),
	}
	if cfg.MinDelay > 0 {
		schedOpts = append(schedOpts, scheduler.WithMinDelay(cfg.MinDelay))
	}
	if o.beat != nil {
		schedOpts = append(schedOpts, scheduler.WithBeatClock(o.beat))
	}
	for _, fn := range o.armObs {
		schedOpts = append(schedOpts, scheduler.WithArmObserver(fn))
	}
	s.Scheduler = scheduler.New(s.Controller, o.wall, schedOpts...)

	routerOpts := []router.Option{
		router.WithController(s.Controller),
		router.WithResolver(s.Registry),
		router.WithScheduler(s.Scheduler),
		router.WithOverride(router.KindPing, s.ping),
		router.WithOverride(router.KindNew, s.newChain),
		router.WithOverride(router.KindAdd, s.addSlot),
		router.WithOverride(router.KindRemove, s.removeSlot),
		router.WithOverride(router.KindSetFrom, s.setFrom),
		router.WithLogger(logging.For(o.log, logging.CategoryRouting)),
	}
	for _, fn := range o.dispatch {
		routerOpts = append(routerOpts, router.WithDispatchObserver(fn))
	}
	r, err := router.New(cfg.Namespace, bus, routerOpts...)
	if err != nil {
		s.Scheduler.Close()
		return nil, fmt.Errorf("failed to install routes: %w", err)
	}
	s.Router = r

	s.log.Info("session ready",
		zap.String("namespace", r.Namespace()),
		zap.Int("routes", r.Installed()),
		zap.Bool("beat_clock", s.Scheduler.HasBeatClock()))
	return s, nil
}

// Config returns the session settings.
func (s *Session) Config() Config {
	return s.cfg
}

// Editing returns the chain slot edits apply to, or nil.
func (s *Session) Editing() *chain.Chain {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.editing
}

// Edit makes the named chain the target of slot edits.
func (s *Session) Edit(name string) bool {
	c, ok := s.Registry.Resolve(name)
	if !ok {
		return false
	}
	s.mu.Lock()
	s.editing = c
	s.mu.Unlock()
	return true
}

// Create registers a chain and makes it the edit target. slots <= 0 uses
// the configured default.
func (s *Session) Create(name string, slots int) *chain.Chain {
	if slots <= 0 {
		slots = s.cfg.DefaultSlots
	}
	c := s.Registry.Create(name, slots)
	s.mu.Lock()
	s.editing = c
	s.mu.Unlock()
	return c
}

// Remove frees the named chain.
func (s *Session) Remove(name string) bool {
	return s.Registry.Remove(name)
}

// Close stops pending switches, uninstalls the routes and frees every chain.
// It is safe to call more than once.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	s.Scheduler.Close()
	removed := s.Router.Free()
	freed := s.Registry.FreeAll()
	s.log.Info("session closed", zap.Int("routes", removed), zap.Int("chains", freed))
}

func (s *Session) forgetEditing(c *chain.Chain) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.editing == c {
		s.editing = nil
	}
}

func (s *Session) editTarget() (*chain.Chain, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.editing == nil {
		return nil, ErrNoEditChain
	}
	return s.editing, nil
}
