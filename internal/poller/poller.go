// Package poller repeatedly asks the backend whether a device authorization
// has completed.
package poller

import (
	"context"
	"io"
	"log/slog"
	"sync/atomic"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/gweid/qwencli2api/internal/domain"
	"github.com/gweid/qwencli2api/internal/ticker"
)

// DefaultInterval is the time between probes.
const DefaultInterval = 3 * time.Second

// ProbeFunc performs one probe for stateID.
type ProbeFunc func(ctx context.Context, stateID string) (domain.PollResult, error)

// ResultMsg carries the answer to one probe back to the event loop.
type ResultMsg struct {
	Owner  uint64
	Seq    uint64
	Result domain.PollResult
	Err    error
}

// Options tunes a Scheduler. Zero values select the defaults.
type Options struct {
	Interval time.Duration
	// Timeout bounds each probe. Zero leaves it to the backend client.
	Timeout time.Duration
	Tick    ticker.TickFunc
	Logger  *slog.Logger
}

var lastSeq atomic.Uint64

// Scheduler probes immediately on Start and then once per interval until
// stopped. Only the answer to the most recently issued probe is accepted, and
// no new probe is issued while that answer is outstanding.
type Scheduler struct {
	owner   uint64
	stateID string
	probe   ProbeFunc
	timeout time.Duration
	timer   *ticker.Timer
	logger  *slog.Logger

	ctx      context.Context
	cancel   context.CancelFunc
	latest   uint64
	inFlight bool
}

// New creates a stopped scheduler for stateID. owner identifies the session
// the scheduler belongs to and is stamped on every ResultMsg.
func New(owner uint64, stateID string, probe ProbeFunc, opts Options) *Scheduler {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Scheduler{
		owner:   owner,
		stateID: stateID,
		probe:   probe,
		timeout: opts.Timeout,
		timer:   ticker.New(opts.Interval, opts.Tick),
		logger:  opts.Logger,
	}
}

// Start issues the first probe and arms the interval timer.
func (s *Scheduler) Start() tea.Cmd {
	if s.cancel != nil {
		s.cancel()
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	return tea.Batch(s.issue(), s.timer.Start())
}

// Owns reports whether msg is a live tick of this scheduler.
func (s *Scheduler) Owns(msg ticker.Msg) bool {
	return s.timer.Owns(msg)
}

// Tick handles an owned interval tick: it issues the next probe and re-arms.
// A tick that finds the previous probe still unanswered only re-arms.
func (s *Scheduler) Tick(msg ticker.Msg) tea.Cmd {
	if !s.timer.Owns(msg) {
		return nil
	}
	if s.inFlight {
		s.logger.Debug("previous poll still in flight, skipping tick",
			slog.String("state_id", s.stateID),
			slog.Uint64("seq", s.latest),
		)
		return s.timer.Next()
	}
	return tea.Batch(s.issue(), s.timer.Next())
}

// Accept filters a probe answer. It returns false for answers that belong to
// another session, arrive after Stop, were superseded by a newer probe, or
// failed in transport. Transport failures are logged and polling continues.
func (s *Scheduler) Accept(msg ResultMsg) (domain.PollResult, bool) {
	if msg.Owner != s.owner {
		return domain.PollResult{}, false
	}
	if msg.Seq == s.latest {
		s.inFlight = false
	}
	if !s.timer.Running() {
		return domain.PollResult{}, false
	}
	if msg.Seq != s.latest {
		s.logger.Debug("dropping superseded poll answer",
			slog.Uint64("seq", msg.Seq),
			slog.Uint64("latest", s.latest),
		)
		return domain.PollResult{}, false
	}
	if msg.Err != nil {
		s.logger.Warn("poll failed, retrying on next tick",
			slog.String("state_id", s.stateID),
			slog.String("error", msg.Err.Error()),
		)
		return domain.PollResult{}, false
	}
	return msg.Result, true
}

// Stop halts the timer and aborts probes still in flight. Safe to call any
// number of times.
func (s *Scheduler) Stop() {
	s.timer.Stop()
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
}

// Running reports whether the scheduler is still polling.
func (s *Scheduler) Running() bool {
	return s.timer.Running()
}

// Latest returns the sequence number of the most recently issued probe.
func (s *Scheduler) Latest() uint64 {
	return s.latest
}

// InFlight reports whether the most recently issued probe is still unanswered.
func (s *Scheduler) InFlight() bool {
	return s.inFlight
}

func (s *Scheduler) issue() tea.Cmd {
	seq := lastSeq.Add(1)
	s.latest = seq
	s.inFlight = true
	owner, stateID, probe, timeout := s.owner, s.stateID, s.probe, s.timeout
	ctx := s.ctx
	return func() tea.Msg {
		if timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}
		res, err := probe(ctx, stateID)
		return ResultMsg{Owner: owner, Seq: seq, Result: res, Err: err}
	}
}
