// Package ticker provides a repeating timer for Bubbletea programs that can be
// stopped from inside Update.
//
// tea.Tick cannot be cancelled once issued, so a Timer stamps every tick with
// the id it was armed under. A tick whose id no longer matches, or that arrives
// after Stop, is simply not owned by anyone and gets dropped. Natural expiry and
// external cancellation go through the same Stop, so they cannot race into a
// double transition.
package ticker

import (
	"sync/atomic"
	"time"

	tea "github.com/charmbracelet/bubbletea"
)

// TickFunc schedules a single message after d. tea.Tick satisfies it; tests
// substitute a virtual clock.
type TickFunc func(d time.Duration, fn func(time.Time) tea.Msg) tea.Cmd

// Msg is delivered to Update when a Timer fires.
type Msg struct {
	ID uint64
	At time.Time
}

var lastID atomic.Uint64

// Timer is a repeating tick chain. It is not safe for concurrent use; all
// calls happen on the Bubbletea event loop.
type Timer struct {
	id       uint64
	interval time.Duration
	tick     TickFunc
	running  bool
}

// New creates a stopped Timer. A nil tick uses tea.Tick.
func New(interval time.Duration, tick TickFunc) *Timer {
	if tick == nil {
		tick = tea.Tick
	}
	return &Timer{interval: interval, tick: tick}
}

// Start arms the timer under a fresh id and returns the command for the first
// tick. Starting a running timer re-arms it; ticks from the old chain are dropped.
func (t *Timer) Start() tea.Cmd {
	t.id = lastID.Add(1)
	t.running = true
	return t.schedule()
}

// Next schedules the tick after the one just handled. It returns nil once stopped.
func (t *Timer) Next() tea.Cmd {
	if !t.running {
		return nil
	}
	return t.schedule()
}

// Owns reports whether msg is a live tick of this timer.
func (t *Timer) Owns(msg Msg) bool {
	return t.running && msg.ID == t.id
}

// Stop halts the chain. Safe to call any number of times.
func (t *Timer) Stop() {
	t.running = false
}

// Running reports whether the timer is armed.
func (t *Timer) Running() bool {
	return t.running
}

func (t *Timer) schedule() tea.Cmd {
	id := t.id
	return t.tick(t.interval, func(at time.Time) tea.Msg {
		return Msg{ID: id, At: at}
	})
}
