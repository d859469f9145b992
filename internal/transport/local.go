// Package transport carries command messages to routers.
//
// Local is the listener table every transport delivers into. OSCServer
// receives OSC over UDP, and Console reads commands typed on a terminal; both
// turn what they receive into router.Message values and hand them to a Local
// bus.
package transport

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"chainrig/internal/router"

	"go.uber.org/zap"
)

// ErrDuplicateListener is returned when a listener key is already installed.
var ErrDuplicateListener = errors.New("listener key already installed")

// Deliverer accepts messages for dispatch. It returns how many listeners
// received the message.
type Deliverer interface {
	Deliver(msg router.Message) int
}

type localEntry struct {
	handle router.Handle
	fn     router.Listener
}

// Local is an in-memory implementation of router.Bus.
type Local struct {
	mu    sync.RWMutex
	seq   uint64
	byKey map[string]localEntry
	log   *zap.Logger
}

// NewLocal returns an empty bus.
func NewLocal(logger *zap.Logger) *Local {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Local{byKey: make(map[string]localEntry), log: logger}
}

// Install implements router.Bus.
func (l *Local) Install(address, key string, fn router.Listener) (router.Handle, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.byKey[key]; ok {
		return router.Handle{}, fmt.Errorf("%w: %s", ErrDuplicateListener, key)
	}
	l.seq++
	h := router.Handle{ID: l.seq, Address: address, Key: key}
	l.byKey[key] = localEntry{handle: h, fn: fn}
	return h, nil
}

// Uninstall implements router.Bus. A handle that is not installed, or whose
// key has since been reused by another install, is left alone.
func (l *Local) Uninstall(h router.Handle) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.byKey[h.Key]
	if !ok || e.handle.ID != h.ID {
		return false
	}
	delete(l.byKey, h.Key)
	return true
}

// Deliver runs every listener installed at msg.Address, in install order.
// Listeners run outside the bus lock.
func (l *Local) Deliver(msg router.Message) int {
	l.mu.RLock()
	var matched []localEntry
	for _, e := range l.byKey {
		if e.handle.Address == msg.Address {
			matched = append(matched, e)
		}
	}
	l.mu.RUnlock()

	if len(matched) == 0 {
		l.log.Debug("no listener for address", zap.String("address", msg.Address))
		return 0
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].handle.ID < matched[j].handle.ID })
	for _, e := range matched {
		e.fn(msg)
	}
	return len(matched)
}

// Len returns the number of installed listeners.
func (l *Local) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.byKey)
}

// Addresses returns the distinct installed addresses, sorted.
func (l *Local) Addresses() []string {
	l.mu.RLock()
	seen := make(map[string]struct{}, len(l.byKey))
	for _, e := range l.byKey {
		seen[e.handle.Address] = struct{}{}
	}
	l.mu.RUnlock()

	out := make([]string, 0, len(seen))
	for a := range seen {
		out = append(out, a)
	}
	sort.Strings(out)
	return out
}
