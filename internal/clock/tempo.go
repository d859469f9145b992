package clock

import (
	"sync"
	"time"
)

// DefaultBPM is used when a tempo clock is created with a non-positive BPM.
const DefaultBPM = 120.0

// Tempo is a beat clock running at a fixed BPM over a wall clock. Beat 0 is
// the instant the clock was created.
type Tempo struct {
	mu         sync.Mutex
	wall       Wall
	bpm        float64
	originTime time.Time
	originBeat float64
	pending    map[*tempoTimer]struct{}
}

type tempoTimer struct {
	t     *Tempo
	beat  float64
	fn    func()
	inner Timer
	gen   uint64
	done  bool
}

// NewTempo starts a beat clock at bpm on wall.
func NewTempo(wall Wall, bpm float64) *Tempo {
	if bpm <= 0 {
		bpm = DefaultBPM
	}
	return &Tempo{
		wall:       wall,
		bpm:        bpm,
		originTime: wall.Now(),
		pending:    make(map[*tempoTimer]struct{}),
	}
}

// BPM returns the current tempo.
func (t *Tempo) BPM() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.bpm
}

// Beat implements clock.Beat.
func (t *Tempo) Beat() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.beatAtLocked(t.wall.Now())
}

func (t *Tempo) beatAtLocked(now time.Time) float64 {
	return t.originBeat + now.Sub(t.originTime).Seconds()*t.bpm/60
}

// AtBeat implements clock.Beat.
func (t *Tempo) AtBeat(beat float64, fn func()) Timer {
	t.mu.Lock()
	defer t.mu.Unlock()
	tt := &tempoTimer{t: t, beat: beat, fn: fn}
	t.pending[tt] = struct{}{}
	t.armLocked(tt)
	return tt
}

// SetTempo changes the BPM. The beat position is continuous across the
// change and pending beat timers are re-armed for the new tempo.
func (t *Tempo) SetTempo(bpm float64) {
	if bpm <= 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.wall.Now()
	t.originBeat = t.beatAtLocked(now)
	t.originTime = now
	t.bpm = bpm
	for tt := range t.pending {
		tt.inner.Stop()
		t.armLocked(tt)
	}
}

func (t *Tempo) armLocked(tt *tempoTimer) {
	tt.gen++
	gen := tt.gen
	beats := tt.beat - t.beatAtLocked(t.wall.Now())
	if beats < 0 {
		beats = 0
	}
	delay := time.Duration(beats * 60 / t.bpm * float64(time.Second))
	tt.inner = t.wall.AfterFunc(delay, func() { tt.fire(gen) })
}

func (tt *tempoTimer) fire(gen uint64) {
	t := tt.t
	t.mu.Lock()
	if tt.done || tt.gen != gen {
		t.mu.Unlock()
		return
	}
	tt.done = true
	delete(t.pending, tt)
	t.mu.Unlock()
	tt.fn()
}

// Stop implements Timer.
func (tt *tempoTimer) Stop() bool {
	t := tt.t
	t.mu.Lock()
	defer t.mu.Unlock()
	if tt.done {
		return false
	}
	tt.done = true
	delete(t.pending, tt)
	tt.inner.Stop()
	return true
}
