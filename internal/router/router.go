// Package router turns external commands into controller and scheduler
// operations.
//
// Architecture:
//
//	transport ──Message──▶ listener (/<ns>/<command>)
//	                          │
//	                          ▼
//	                   Parse(kind, args) ──▶ Command
//	                          │
//	          ┌───────────────┼──────────────────┐
//	          ▼               ▼                  ▼
//	      override        fallback          "no handler"
//	   (caller supplied)  (Controller,
//	                       Resolver,
//	                       Scheduler)
//
// Each Router installs one listener per route on a Bus and keeps the returned
// handles, so Free removes exactly what this instance installed.
package router

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"chainrig/internal/chain"
	"chainrig/internal/controller"
	"chainrig/internal/scheduler"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrRouterFreed is returned by Install after Free.
var ErrRouterFreed = errors.New("router has been freed")

// Controller is what the built-in fallbacks need from a chain controller.
type Controller interface {
	SetNext(c *chain.Chain)
	SwitchNow() controller.Result
	Status() controller.Snapshot
}

// Resolver looks chains up by name.
type Resolver interface {
	Resolve(name string) (*chain.Chain, bool)
}

// Scheduler is what the timed-switch fallbacks need.
type Scheduler interface {
	SwitchAfter(d time.Duration) scheduler.Trigger
	SwitchOnDefaultBeat(ahead int) scheduler.Trigger
	Pending() (scheduler.Trigger, bool)
}

// Override replaces the built-in behavior of one route. A returned error is
// logged.
type Override func(cmd Command) error

// Outcome classifies one dispatch.
type Outcome int

const (
	// Overridden means an override handled the command.
	Overridden Outcome = iota + 1
	// OverrideFailed means the override returned an error.
	OverrideFailed
	// FellBack means the built-in fallback handled the command.
	FellBack
	// NotFound means the setNext fallback could not resolve the name.
	NotFound
	// NoHandler means neither an override nor a usable fallback exists.
	NoHandler
	// BadArguments means parsing failed and nothing ran.
	BadArguments
	// UnknownRoute means the address named no route of this router.
	UnknownRoute
	// Inert means the router had been freed.
	Inert
)

func (o Outcome) String() string {
	switch o {
	case Overridden:
		return "override"
	case OverrideFailed:
		return "override_failed"
	case FellBack:
		return "fallback"
	case NotFound:
		return "not_found"
	case NoHandler:
		return "no_handler"
	case BadArguments:
		return "bad_args"
	case UnknownRoute:
		return "unknown_route"
	case Inert:
		return "inert"
	default:
		return "unknown"
	}
}

// route is one row of the fixed route table.
type route struct {
	kind     Kind
	fallback bool
}

var routes = []route{
	{KindPing, false},
	{KindSetNext, true},
	{KindSwitchNow, true},
	{KindNew, false},
	{KindAdd, false},
	{KindRemove, false},
	{KindSetFrom, false},
	{KindSwitchAfter, true},
	{KindSwitchOnBeat, true},
	{KindStatus, true},
}

// HasFallback reports whether kind has built-in behavior.
func HasFallback(kind Kind) bool {
	for _, r := range routes {
		if r.kind == kind {
			return r.fallback
		}
	}
	return false
}

// Option configures a Router.
type Option func(*Router)

// WithController binds the controller used by fallbacks.
func WithController(c Controller) Option {
	return func(r *Router) { r.ctrl = c }
}

// WithResolver binds the name resolver used by the setNext fallback.
func WithResolver(res Resolver) Option {
	return func(r *Router) { r.resolver = res }
}

// WithScheduler binds the scheduler used by the timed-switch fallbacks.
func WithScheduler(s Scheduler) Option {
	return func(r *Router) { r.sched = s }
}

// WithOverride replaces the behavior of one route.
func WithOverride(kind Kind, fn Override) Option {
	return func(r *Router) { r.overrides[kind] = fn }
}

// WithDispatchObserver adds a callback run after every dispatch.
func WithDispatchObserver(fn func(Kind, Outcome)) Option {
	return func(r *Router) { r.observers = append(r.observers, fn) }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(r *Router) { r.log = l }
}

// Router routes commands for one namespace.
type Router struct {
	namespace string
	id        string
	bus       Bus

	// Dependencies used by fallbacks
	ctrl     Controller
	resolver Resolver
	sched    Scheduler

	overrides map[Kind]Override
	observers []func(Kind, Outcome)
	log       *zap.Logger

	// Listener lifecycle
	mu      sync.Mutex
	handles map[Kind]Handle
	freed   bool

	// Dispatch is serialized per instance.
	dispatchMu sync.Mutex
}

// New builds a router for namespace and installs its routes on bus.
func New(namespace string, bus Bus, opts ...Option) (*Router, error) {
	if bus == nil {
		return nil, errors.New("router: nil bus")
	}
	namespace = strings.Trim(strings.TrimSpace(namespace), "/")
	if namespace == "" {
		return nil, errors.New("router: empty namespace")
	}

	r := &Router{
		namespace: namespace,
		id:        uuid.NewString(),
		bus:       bus,
		overrides: make(map[Kind]Override),
		handles:   make(map[Kind]Handle),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.log == nil {
		r.log = zap.NewNop()
	}
	r.log = r.log.With(zap.String("namespace", namespace), zap.String("router", r.id))

	if err := r.Install(); err != nil {
		return nil, err
	}
	return r, nil
}

// Namespace returns the router's namespace.
func (r *Router) Namespace() string { return r.namespace }

// ID returns the router's instance identity.
func (r *Router) ID() string { return r.id }

// Address returns the address kind is installed at.
func (r *Router) Address(kind Kind) string {
	return "/" + r.namespace + "/" + kind.String()
}

// Key returns the listener key for kind, unique per router instance.
func (r *Router) Key(kind Kind) string {
	return r.namespace + "." + r.id + "." + kind.String()
}

// Install (re)installs one listener per route. A route that is already
// installed is uninstalled first, so repeated calls never duplicate.
func (r *Router) Install() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.freed {
		return ErrRouterFreed
	}

	for _, rt := range routes {
		kind := rt.kind
		if old, ok := r.handles[kind]; ok {
			r.bus.Uninstall(old)
			delete(r.handles, kind)
		}
		h, err := r.bus.Install(r.Address(kind), r.Key(kind), func(msg Message) {
			r.Dispatch(kind, msg.Args)
		})
		if err != nil {
			return fmt.Errorf("install %s: %w", r.Address(kind), err)
		}
		r.handles[kind] = h
	}
	r.log.Debug("routes installed", zap.Int("count", len(r.handles)))
	return nil
}

// Installed returns the number of listeners this router currently holds.
func (r *Router) Installed() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.handles)
}

// Free uninstalls every listener this router installed and makes it inert.
// It returns the number removed; a second call returns 0.
func (r *Router) Free() int {
	r.mu.Lock()
	removed := 0
	for kind, h := range r.handles {
		if r.bus.Uninstall(h) {
			removed++
		}
		delete(r.handles, kind)
	}
	r.freed = true
	r.mu.Unlock()

	r.log.Info("router freed", zap.Int("listeners_removed", removed))
	return removed
}

// DispatchMessage routes msg by its address.
func (r *Router) DispatchMessage(msg Message) Outcome {
	prefix := "/" + r.namespace + "/"
	name, ok := strings.CutPrefix(msg.Address, prefix)
	if !ok {
		r.log.Warn("message outside namespace", zap.String("address", msg.Address))
		return UnknownRoute
	}
	kind, ok := KindOf(name)
	if !ok {
		r.log.Warn("no route for address", zap.String("address", msg.Address))
		return UnknownRoute
	}
	return r.Dispatch(kind, msg.Args)
}

// Dispatch parses args for kind and runs the override or fallback. It never
// panics on input; problems are logged and reported in the Outcome.
func (r *Router) Dispatch(kind Kind, args []any) Outcome {
	r.dispatchMu.Lock()
	out := r.dispatchLocked(kind, args)
	r.dispatchMu.Unlock()

	for _, fn := range r.observers {
		fn(kind, out)
	}
	return out
}

func (r *Router) dispatchLocked(kind Kind, args []any) Outcome {
	r.mu.Lock()
	freed := r.freed
	r.mu.Unlock()
	if freed {
		r.log.Debug("dispatch on freed router", zap.Stringer("command", kind))
		return Inert
	}

	cmd, err := Parse(kind, args)
	if err != nil {
		r.log.Warn("bad command arguments", zap.Stringer("command", kind), zap.Error(err))
		return BadArguments
	}
	r.log.Debug("command", zap.Stringer("command", kind), zap.Any("args", args))

	if fn, ok := r.overrides[kind]; ok {
		if err := fn(cmd); err != nil {
			r.log.Warn("command handler failed", zap.Stringer("command", kind), zap.Error(err))
			return OverrideFailed
		}
		return Overridden
	}

	if HasFallback(kind) {
		if out, handled := r.fallback(cmd); handled {
			return out
		}
	}
	r.log.Info("no handler", zap.Stringer("command", kind))
	return NoHandler
}

// fallback runs the built-in behavior for cmd. handled is false when the
// dependency the fallback needs is not bound.
func (r *Router) fallback(cmd Command) (out Outcome, handled bool) {
	switch c := cmd.(type) {
	case SetNext:
		if r.ctrl == nil || r.resolver == nil {
			return 0, false
		}
		ch, ok := r.resolver.Resolve(c.Name)
		if !ok {
			r.log.Warn("chain not found", zap.String("name", c.Name))
			return NotFound, true
		}
		r.ctrl.SetNext(ch)
		return FellBack, true

	case SwitchNow:
		if r.ctrl == nil {
			return 0, false
		}
		r.ctrl.SwitchNow()
		return FellBack, true

	case SwitchAfter:
		if r.sched == nil {
			return 0, false
		}
		r.sched.SwitchAfter(c.Delay)
		return FellBack, true

	case SwitchOnBeat:
		if r.sched == nil {
			return 0, false
		}
		ahead := 1
		if c.HasAhead {
			ahead = c.Ahead
		}
		r.sched.SwitchOnDefaultBeat(ahead)
		return FellBack, true

	case Status:
		if r.ctrl == nil {
			return 0, false
		}
		snap := r.ctrl.Status()
		fields := []zap.Field{
			zap.String("current", snap.Current),
			zap.String("next", snap.Next),
		}
		if r.sched != nil {
			if trig, ok := r.sched.Pending(); ok {
				fields = append(fields,
					zap.Uint64("trigger", trig.ID),
					zap.Stringer("trigger_kind", trig.Kind))
			}
		}
		r.log.Info("status", fields...)
		return FellBack, true
	}
	return 0, false
}
