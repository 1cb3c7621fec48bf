// Package tickertest runs Bubbletea models against a virtual clock.
//
// Loop.Tick stands in for tea.Tick: instead of sleeping it records the
// request and returns a nil command. Advance fires the recorded ticks in due
// order, moving the clock to each due time before the message is delivered.
// Other commands (network calls, notification posts) run synchronously and
// their messages are delivered in FIFO order, so a whole flow plays out
// deterministically on the test goroutine.
package tickertest

import (
	"time"

	tea "github.com/charmbracelet/bubbletea"
)

// UpdateFunc is the model's message handler.
type UpdateFunc func(tea.Msg) tea.Cmd

type pending struct {
	due time.Time
	seq int
	fn  func(time.Time) tea.Msg
}

// Loop is a single-goroutine event loop with a virtual clock.
type Loop struct {
	now     time.Time
	seq     int
	timers  []pending
	update  UpdateFunc
	queue   []tea.Msg
	running bool

	// Hold, when set, is consulted before each delivery. Messages it returns
	// true for are parked in Held instead of reaching the model.
	Hold func(tea.Msg) bool
	// Held collects parked messages in arrival order.
	Held []tea.Msg
	// Delivered records every message handed to the model.
	Delivered []tea.Msg
}

// NewLoop creates a loop whose clock starts at start.
func NewLoop(start time.Time) *Loop {
	return &Loop{now: start}
}

// Bind sets the model that receives messages.
func (l *Loop) Bind(update UpdateFunc) {
	l.update = update
}

// Now returns the virtual time.
func (l *Loop) Now() time.Time {
	return l.now
}

// Tick records a timer request. It has the signature of tea.Tick.
func (l *Loop) Tick(d time.Duration, fn func(time.Time) tea.Msg) tea.Cmd {
	l.seq++
	l.timers = append(l.timers, pending{due: l.now.Add(d), seq: l.seq, fn: fn})
	return nil
}

// Pending reports how many timer requests have not fired yet.
func (l *Loop) Pending() int {
	return len(l.timers)
}

// Run executes cmd and delivers everything it produces.
func (l *Loop) Run(cmd tea.Cmd) {
	l.collect(cmd)
	l.drain()
}

// Send delivers msg to the model, then drains whatever follows from it.
// Hold is not consulted for messages passed to Send directly.
func (l *Loop) Send(msg tea.Msg) {
	l.deliver(msg)
	l.drain()
}

// Advance moves the clock forward by d, firing every timer that comes due.
func (l *Loop) Advance(d time.Duration) {
	target := l.now.Add(d)
	for {
		idx := l.nextDue(target)
		if idx < 0 {
			break
		}
		p := l.timers[idx]
		l.timers = append(l.timers[:idx], l.timers[idx+1:]...)
		l.now = p.due
		l.queue = append(l.queue, p.fn(p.due))
		l.drain()
	}
	l.now = target
}

func (l *Loop) nextDue(target time.Time) int {
	best := -1
	for i, p := range l.timers {
		if p.due.After(target) {
			continue
		}
		if best < 0 || p.due.Before(l.timers[best].due) ||
			(p.due.Equal(l.timers[best].due) && p.seq < l.timers[best].seq) {
			best = i
		}
	}
	return best
}

func (l *Loop) collect(cmd tea.Cmd) {
	if cmd == nil {
		return
	}
	msg := cmd()
	if batch, ok := msg.(tea.BatchMsg); ok {
		for _, c := range batch {
			l.collect(c)
		}
		return
	}
	if msg != nil {
		l.queue = append(l.queue, msg)
	}
}

func (l *Loop) drain() {
	if l.running {
		return
	}
	l.running = true
	defer func() { l.running = false }()
	for len(l.queue) > 0 {
		msg := l.queue[0]
		l.queue = l.queue[1:]
		if l.Hold != nil && l.Hold(msg) {
			l.Held = append(l.Held, msg)
			continue
		}
		l.deliver(msg)
	}
}

func (l *Loop) deliver(msg tea.Msg) {
	l.Delivered = append(l.Delivered, msg)
	if l.update == nil {
		return
	}
	l.collect(l.update(msg))
}

// Messages returns the delivered messages of type T, in order.
func Messages[T any](l *Loop) []T {
	var out []T
	for _, m := range l.Delivered {
		if v, ok := m.(T); ok {
			out = append(out, v)
		}
	}
	return out
}

