package flow

import (
	"time"

	"github.com/gweid/qwencli2api/internal/countdown"
	"github.com/gweid/qwencli2api/internal/poller"
)

// State is a step of the device authorization flow.
type State int

const (
	StateIdle State = iota
	StateInitializing
	StateAwaitingAuthorization
	StateCompleted
	StateFailed
	StateCancelled
	StateExpired
)

func (s State) String() string {
	switch s {
	case StateInitializing:
		return "initializing"
	case StateAwaitingAuthorization:
		return "awaiting authorization"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	case StateCancelled:
		return "cancelled"
	case StateExpired:
		return "expired"
	default:
		return "idle"
	}
}

// Session is one run of the flow. It owns the scheduler and the tracker;
// tearing the session down stops both.
type Session struct {
	// ID is the local identity every timer and network answer is checked against.
	ID              uint64
	StateID         string
	VerificationURI string
	StartedAt       time.Time
	ExpiresAt       time.Time

	poller   *poller.Scheduler
	tracker  *countdown.Tracker
	torndown bool
}

// Polling reports whether the session's scheduler is running.
func (s *Session) Polling() bool {
	return s.poller != nil && s.poller.Running()
}

// CountingDown reports whether the session's tracker is running.
func (s *Session) CountingDown() bool {
	return s.tracker != nil && s.tracker.Running()
}

// TotalMinutes is the lifetime of the session rounded to whole minutes.
func (s *Session) TotalMinutes() int {
	return int(s.ExpiresAt.Sub(s.StartedAt).Round(time.Minute) / time.Minute)
}

// teardown stops both timers. Calling it again does nothing.
func (s *Session) teardown() {
	if s == nil || s.torndown {
		return
	}
	s.torndown = true
	if s.poller != nil {
		s.poller.Stop()
	}
	if s.tracker != nil {
		s.tracker.Stop()
	}
}
