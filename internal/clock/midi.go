package clock

import (
	"fmt"
	"math"
	"strings"
	"sync"

	"gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/drivers"
	"go.uber.org/zap"
)

// PPQN is the MIDI beat clock resolution: timing clock messages per quarter
// note.
const PPQN = 24

// MIDI is a beat clock that follows an external MIDI clock master. Beat 0 is
// the last Start message (or the moment the clock was created). A Stop pauses
// counting; Continue resumes it. Song position pointers reposition the clock.
type MIDI struct {
	mu      sync.Mutex
	ticks   int64
	running bool
	waiters []*midiTimer

	port drivers.In
	stop func()
	log  *zap.Logger
}

type midiTimer struct {
	m    *MIDI
	tick int64
	fn   func()
	done bool
}

// NewMIDI returns a free-running MIDI clock at beat 0.
func NewMIDI(logger *zap.Logger) *MIDI {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MIDI{running: true, log: logger}
}

// Beat implements clock.Beat.
func (m *MIDI) Beat() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return float64(m.ticks) / PPQN
}

// Ticks returns the raw timing clock count since the last Start.
func (m *MIDI) Ticks() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ticks
}

// AtBeat implements clock.Beat. The callback runs on the first timing clock
// at or past beat. A beat already reached fires on the next clock.
func (m *MIDI) AtBeat(beat float64, fn func()) Timer {
	m.mu.Lock()
	defer m.mu.Unlock()
	tick := int64(math.Ceil(beat * PPQN))
	if tick <= m.ticks {
		tick = m.ticks + 1
	}
	t := &midiTimer{m: m, tick: tick, fn: fn}
	m.waiters = append(m.waiters, t)
	return t
}

// HandleMessage feeds one MIDI message into the clock. Non-realtime messages
// are ignored.
func (m *MIDI) HandleMessage(msg midi.Message) {
	var due []*midiTimer

	m.mu.Lock()
	var spp uint16
	switch {
	case msg.Is(midi.TimingClockMsg):
		if m.running {
			m.ticks++
			due = m.takeDueLocked()
		}
	case msg.Is(midi.StartMsg):
		m.ticks = 0
		m.running = true
		m.rebaseLocked()
	case msg.Is(midi.ContinueMsg):
		m.running = true
	case msg.Is(midi.StopMsg):
		m.running = false
	case msg.GetSPP(&spp):
		// One song position unit is a sixteenth note: six timing clocks.
		m.ticks = int64(spp) * PPQN / 4
		m.rebaseLocked()
	}
	m.mu.Unlock()

	for _, t := range due {
		t.fn()
	}
}

// rebaseLocked keeps waiters in the future after the position jumps
// backwards, so a Start never fires every pending switch at once.
func (m *MIDI) rebaseLocked() {
	for _, t := range m.waiters {
		if t.tick <= m.ticks {
			t.tick = m.ticks + 1
		}
	}
}

func (m *MIDI) takeDueLocked() []*midiTimer {
	var due []*midiTimer
	kept := m.waiters[:0]
	for _, t := range m.waiters {
		if t.tick <= m.ticks {
			t.done = true
			due = append(due, t)
			continue
		}
		kept = append(kept, t)
	}
	for i := len(kept); i < len(m.waiters); i++ {
		m.waiters[i] = nil
	}
	m.waiters = kept
	return due
}

// Listen opens in and feeds every received message into the clock until
// Close is called.
func (m *MIDI) Listen(in drivers.In) error {
	if err := in.Open(); err != nil {
		return fmt.Errorf("open midi input %q: %w", in.String(), err)
	}
	stop, err := midi.ListenTo(in, func(msg midi.Message, _ int32) {
		m.HandleMessage(msg)
	}, midi.HandleError(func(err error) {
		m.log.Warn("midi clock listener error", zap.String("port", in.String()), zap.Error(err))
	}))
	if err != nil {
		_ = in.Close()
		return fmt.Errorf("listen on midi input %q: %w", in.String(), err)
	}

	m.mu.Lock()
	m.port = in
	m.stop = stop
	m.mu.Unlock()

	m.log.Info("following midi clock", zap.String("port", in.String()))
	return nil
}

// Close stops listening and closes the port, if any.
func (m *MIDI) Close() error {
	m.mu.Lock()
	stop, port := m.stop, m.port
	m.stop, m.port = nil, nil
	m.mu.Unlock()

	if stop != nil {
		stop()
	}
	if port != nil {
		return port.Close()
	}
	return nil
}

// Stop implements Timer.
func (t *midiTimer) Stop() bool {
	m := t.m
	m.mu.Lock()
	defer m.mu.Unlock()
	if t.done {
		return false
	}
	t.done = true
	for i, other := range m.waiters {
		if other == t {
			m.waiters = append(m.waiters[:i], m.waiters[i+1:]...)
			break
		}
	}
	return true
}

// MatchPort picks the input port to follow from names. A non-empty pattern
// selects the first name containing it, ignoring case. An empty pattern
// selects the only port when there is exactly one.
func MatchPort(names []string, pattern string) (int, bool) {
	pattern = strings.ToLower(strings.TrimSpace(pattern))
	if pattern == "" {
		if len(names) == 1 {
			return 0, true
		}
		return -1, false
	}
	for i, name := range names {
		if strings.Contains(strings.ToLower(name), pattern) {
			return i, true
		}
	}
	return -1, false
}
