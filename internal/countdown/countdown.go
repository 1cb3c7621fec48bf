// Package countdown tracks the time left on a device authorization session
// and classifies how urgently the user needs to act.
package countdown

import (
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/gweid/qwencli2api/internal/notify"
	"github.com/gweid/qwencli2api/internal/ticker"
)

// Interval is the tick rate of a Tracker.
const Interval = time.Second

// Urgency is a three-level classification of the remaining time.
type Urgency int

const (
	UrgencyNormal Urgency = iota
	UrgencyWarning
	UrgencyCritical
)

func (u Urgency) String() string {
	switch u {
	case UrgencyWarning:
		return "warning"
	case UrgencyCritical:
		return "critical"
	default:
		return "normal"
	}
}

// State is the countdown at one instant.
type State struct {
	Remaining time.Duration
	Total     time.Duration
	Ratio     float64
	Urgency   Urgency
}

// Compute derives the countdown state at now for a session that started at
// startedAt and expires at expiresAt. Remaining never goes below zero.
func Compute(startedAt, expiresAt, now time.Time) State {
	total := expiresAt.Sub(startedAt)
	remaining := expiresAt.Sub(now)
	if remaining < 0 {
		remaining = 0
	}
	if total < 0 {
		total = 0
	}

	st := State{Remaining: remaining, Total: total}
	if total > 0 {
		st.Ratio = float64(remaining) / float64(total)
	}

	// Integer comparisons keep the 20% boundary exact: remaining == total/5 is critical.
	switch {
	case total <= 0 || remaining*5 <= total:
		st.Urgency = UrgencyCritical
	case remaining*2 < total:
		st.Urgency = UrgencyWarning
	default:
		st.Urgency = UrgencyNormal
	}
	return st
}

// Expired reports whether no time is left.
func (s State) Expired() bool {
	return s.Remaining <= 0
}

// Clock formats the remaining time as m:ss.
func (s State) Clock() string {
	secs := int64(s.Remaining / time.Second)
	return fmt.Sprintf("%d:%02d", secs/60, secs%60)
}

// Message is the status line shown for this state.
func (s State) Message() string {
	if s.Expired() {
		return "Authorization code expired, please start again"
	}
	switch s.Urgency {
	case UrgencyCritical:
		return "Authorization about to expire! remaining " + s.Clock()
	case UrgencyWarning:
		return "Please complete authorization soon! remaining " + s.Clock()
	default:
		return "Waiting for authorization... remaining " + s.Clock()
	}
}

// Severity maps the state onto a notification severity.
func (s State) Severity() notify.Severity {
	if s.Expired() || s.Urgency == UrgencyCritical {
		return notify.SeverityError
	}
	return notify.SeverityInfo
}

// Tracker ticks once a second until the session expires or it is stopped.
// Each tick posts the current state to the OAuth slot.
type Tracker struct {
	startedAt time.Time
	expiresAt time.Time
	now       func() time.Time
	timer     *ticker.Timer
	state     State
}

// New creates a stopped tracker. Nil now and tick fall back to time.Now and tea.Tick.
func New(startedAt, expiresAt time.Time, now func() time.Time, tick ticker.TickFunc) *Tracker {
	if now == nil {
		now = time.Now
	}
	return &Tracker{
		startedAt: startedAt,
		expiresAt: expiresAt,
		now:       now,
		timer:     ticker.New(Interval, tick),
		state:     Compute(startedAt, expiresAt, startedAt),
	}
}

// Start posts the current state and arms the 1 Hz timer. Starting a running
// tracker re-arms it.
func (t *Tracker) Start() tea.Cmd {
	t.state = Compute(t.startedAt, t.expiresAt, t.now())
	return tea.Batch(t.post(), t.timer.Start())
}

// Owns reports whether msg is a live tick of this tracker.
func (t *Tracker) Owns(msg ticker.Msg) bool {
	return t.timer.Owns(msg)
}

// Advance handles an owned tick. When the remaining time has reached zero it
// posts the expired message, stops itself and reports expired.
func (t *Tracker) Advance(msg ticker.Msg) (cmd tea.Cmd, expired bool) {
	if !t.timer.Owns(msg) {
		return nil, false
	}
	t.state = Compute(t.startedAt, t.expiresAt, msg.At)
	if t.state.Expired() {
		t.timer.Stop()
		return t.post(), true
	}
	return tea.Batch(t.post(), t.timer.Next()), false
}

// Stop cancels the tick chain. Safe to call any number of times.
func (t *Tracker) Stop() {
	t.timer.Stop()
}

// Running reports whether the tracker is still ticking.
func (t *Tracker) Running() bool {
	return t.timer.Running()
}

// State returns the state computed on the last tick.
func (t *Tracker) State() State {
	return t.state
}

func (t *Tracker) post() tea.Cmd {
	sticky := !t.state.Expired()
	return notify.Slot(notify.ChannelOAuth, t.state.Message(), t.state.Severity(), sticky)
}
