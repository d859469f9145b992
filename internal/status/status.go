// Package status mirrors the controller's current/next pair for the
// performer: as log lines, as a one-line terminal readout, or in a
// bubbletea TUI. Every type here implements controller.Sink.
package status

import (
	"fmt"
	"io"
	"sync"

	"chainrig/internal/chain"
	"chainrig/internal/controller"

	"go.uber.org/zap"
)

func nameOf(c *chain.Chain) string {
	if c == nil {
		return ""
	}
	return c.Name()
}

// Multi fans notifications out to several sinks in order.
type Multi []controller.Sink

// CurrentChanged implements controller.Sink.
func (m Multi) CurrentChanged(c *chain.Chain) {
	for _, s := range m {
		s.CurrentChanged(c)
	}
}

// NextChanged implements controller.Sink.
func (m Multi) NextChanged(c *chain.Chain) {
	for _, s := range m {
		s.NextChanged(c)
	}
}

// Log writes a line whenever current or next actually changes.
type Log struct {
	log *zap.Logger

	mu      sync.Mutex
	current string
	next    string
}

// NewLog returns a sink logging to logger.
func NewLog(logger *zap.Logger) *Log {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Log{log: logger}
}

// CurrentChanged implements controller.Sink.
func (l *Log) CurrentChanged(c *chain.Chain) {
	name := nameOf(c)
	l.mu.Lock()
	changed := name != l.current
	l.current = name
	l.mu.Unlock()
	if changed {
		l.log.Info("now playing", zap.String("current", name))
	}
}

// NextChanged implements controller.Sink.
func (l *Log) NextChanged(c *chain.Chain) {
	name := nameOf(c)
	l.mu.Lock()
	changed := name != l.next
	l.next = name
	l.mu.Unlock()
	if changed {
		l.log.Info("staged", zap.String("next", name))
	}
}

// Line renders the pair as a single styled line on w whenever the rendered
// text changes.
type Line struct {
	w      io.Writer
	styles Styles

	mu   sync.Mutex
	snap controller.Snapshot
	last string
}

// NewLine returns a sink writing to w.
func NewLine(w io.Writer, styles Styles) *Line {
	return &Line{w: w, styles: styles, last: RenderPair(styles, controller.Snapshot{})}
}

// CurrentChanged implements controller.Sink.
func (l *Line) CurrentChanged(c *chain.Chain) {
	l.update(func(s *controller.Snapshot) { s.Current = nameOf(c) })
}

// NextChanged implements controller.Sink.
func (l *Line) NextChanged(c *chain.Chain) {
	l.update(func(s *controller.Snapshot) { s.Next = nameOf(c) })
}

func (l *Line) update(fn func(*controller.Snapshot)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	fn(&l.snap)
	out := RenderPair(l.styles, l.snap)
	if out == l.last {
		return
	}
	l.last = out
	fmt.Fprintln(l.w, out)
}
