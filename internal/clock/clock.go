// Package clock provides the two timelines switches are scheduled on: wall
// time (durations) and musical time (beats).
//
// Implementations:
//
//	System  - real wall clock (time.AfterFunc)
//	Manual  - deterministic wall clock advanced by hand
//	Tempo   - beat clock derived from a BPM over any wall clock
//	MIDI    - beat clock counting MIDI realtime timing clocks
package clock

import "time"

// Timer is a pending one-shot callback.
type Timer interface {
	// Stop prevents the callback from running. It reports false if the
	// callback already ran or the timer was already stopped.
	Stop() bool
}

// Wall is a wall-clock timeline.
type Wall interface {
	Now() time.Time
	AfterFunc(d time.Duration, fn func()) Timer
}

// Beat is a musical timeline with a fractional beat position.
type Beat interface {
	Beat() float64
	AtBeat(beat float64, fn func()) Timer
}

// System is the process wall clock.
type System struct{}

// Now implements Wall.
func (System) Now() time.Time { return time.Now() }

// AfterFunc implements Wall.
func (System) AfterFunc(d time.Duration, fn func()) Timer {
	return time.AfterFunc(d, fn)
}
