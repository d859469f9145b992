// Package audio builds chain voices on github.com/gopxl/beep.
//
// Every voice is a paused beep.Ctrl wrapping its slot pipeline, added to a
// single mixer. Starting and stopping a voice flips Ctrl.Paused under the
// speaker lock, so a switch never rebuilds the graph.
//
//	slot 0          slot 1..N-1                 output
//	tone/silence ─▶ gain/pan/mono/swap/... ─▶ Ctrl ─▶ Mixer ─▶ speaker
package audio

import (
	"fmt"
	"sync"
	"time"

	"chainrig/internal/chain"

	"github.com/gopxl/beep"
	"github.com/gopxl/beep/effects"
	"github.com/gopxl/beep/generators"
	"github.com/gopxl/beep/speaker"
	"go.uber.org/zap"
)

const (
	DefaultSampleRate = beep.SampleRate(44100)
	DefaultFrequency  = 220.0
	// outputGain scales full-scale tones down to a safe level.
	outputGain = -0.7
)

// Option configures an Engine.
type Option func(*Engine)

// WithFrequency sets the tone frequency of source slots.
func WithFrequency(hz float64) Option {
	return func(e *Engine) {
		if hz > 0 {
			e.freq = hz
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) { e.log = l }
}

// Engine implements chain.Engine.
type Engine struct {
	sr    beep.SampleRate
	freq  float64
	mixer *beep.Mixer
	log   *zap.Logger

	// mu guards the mixer while the speaker is not open; afterwards the
	// speaker lock does.
	mu     sync.Mutex
	opened bool
}

// NewEngine returns an engine rendering at sr. Nothing is audible until Open.
func NewEngine(sr beep.SampleRate, opts ...Option) *Engine {
	if sr <= 0 {
		sr = DefaultSampleRate
	}
	e := &Engine{
		sr:    sr,
		freq:  DefaultFrequency,
		mixer: &beep.Mixer{},
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.log == nil {
		e.log = zap.NewNop()
	}
	return e
}

// Open initialises the speaker with the given buffer length and starts
// playing the mixer.
func (e *Engine) Open(buffer time.Duration) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.opened {
		return nil
	}
	if buffer <= 0 {
		buffer = 100 * time.Millisecond
	}
	if err := speaker.Init(e.sr, e.sr.N(buffer)); err != nil {
		return fmt.Errorf("init speaker: %w", err)
	}
	speaker.Play(e.mixer)
	e.opened = true
	e.log.Info("audio output open",
		zap.Int("sample_rate", int(e.sr)),
		zap.Duration("buffer", buffer))
	return nil
}

// Close stops audio output.
func (e *Engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.opened {
		return
	}
	speaker.Clear()
	speaker.Close()
	e.opened = false
}

func (e *Engine) lock() {
	e.mu.Lock()
	if e.opened {
		speaker.Lock()
	}
}

func (e *Engine) unlock() {
	if e.opened {
		speaker.Unlock()
	}
	e.mu.Unlock()
}

// Voice implements chain.Engine.
func (e *Engine) Voice(name string, roles []chain.Role) (chain.Voice, error) {
	if len(roles) == 0 {
		return nil, fmt.Errorf("voice %s: no slots", name)
	}
	src, err := e.source(roles[0])
	if err != nil {
		return nil, fmt.Errorf("voice %s: %w", name, err)
	}
	s := beep.Streamer(&effects.Gain{Streamer: src, Gain: outputGain})
	for _, r := range roles[1:] {
		s = effect(r, s)
	}

	v := &voice{e: e, name: name, ctrl: &beep.Ctrl{Streamer: s, Paused: true}}
	e.lock()
	e.mixer.Add(v.ctrl)
	e.unlock()
	e.log.Debug("voice built", zap.String("chain", name), zap.Int("slots", len(roles)))
	return v, nil
}

func (e *Engine) source(r chain.Role) (beep.Streamer, error) {
	switch r {
	case chain.Saw:
		return generators.SawtoothTone(e.sr, e.freq)
	case chain.Square:
		return generators.SquareTone(e.sr, e.freq)
	case chain.Triangle:
		return generators.TriangleTone(e.sr, e.freq)
	case chain.Silence:
		return beep.Silence(-1), nil
	default:
		return generators.SineTone(e.sr, e.freq)
	}
}

func effect(r chain.Role, s beep.Streamer) beep.Streamer {
	switch r {
	case chain.Gain:
		return &effects.Gain{Streamer: s, Gain: 0.5}
	case chain.Quiet:
		return &effects.Volume{Streamer: s, Base: 2, Volume: -2}
	case chain.Left:
		return &effects.Pan{Streamer: s, Pan: -1}
	case chain.Right:
		return &effects.Pan{Streamer: s, Pan: 1}
	case chain.Mono:
		return effects.Mono(s)
	case chain.Swap:
		return effects.Swap(s)
	default:
		return s
	}
}

// Voices returns the number of voices in the mixer.
func (e *Engine) Voices() int {
	e.lock()
	defer e.unlock()
	return e.mixer.Len()
}

// Render pulls n frames from the mixer without a speaker. Used headless.
func (e *Engine) Render(n int) [][2]float64 {
	buf := make([][2]float64, n)
	e.lock()
	defer e.unlock()
	e.mixer.Stream(buf)
	return buf
}

type voice struct {
	e    *Engine
	name string
	ctrl *beep.Ctrl
}

func (v *voice) Start() {
	v.e.lock()
	v.ctrl.Paused = false
	v.e.unlock()
}

func (v *voice) Stop() {
	v.e.lock()
	v.ctrl.Paused = true
	v.e.unlock()
}

// Close drops the voice; the mixer discards a Ctrl with no streamer on its
// next pass.
func (v *voice) Close() {
	v.e.lock()
	v.ctrl.Streamer = nil
	v.e.unlock()
}
