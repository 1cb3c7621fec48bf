// Package flow drives the OAuth2 device authorization flow: it asks the
// backend for a session, opens the verification page, polls until the
// backend reports tokens were issued, and counts down to expiry.
//
// The Controller runs on the Bubbletea event loop. Network calls happen in
// commands and come back as messages stamped with the session they belong
// to; anything stamped with a session that is no longer active is dropped.
package flow

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/cli/browser"
	"github.com/gweid/qwencli2api/internal/countdown"
	"github.com/gweid/qwencli2api/internal/domain"
	"github.com/gweid/qwencli2api/internal/notify"
	"github.com/gweid/qwencli2api/internal/poller"
	"github.com/gweid/qwencli2api/internal/ticker"
)

const (
	DefaultPollInterval   = poller.DefaultInterval
	DefaultSettleDelay    = 500 * time.Millisecond
	DefaultRequestTimeout = 15 * time.Second
)

// Options wires a Controller to its collaborators. Zero values select defaults.
type Options struct {
	Backend domain.DeviceAuthBackend
	Logger  *slog.Logger
	Tick    ticker.TickFunc
	Now     func() time.Time
	// OpenURL opens the verification page. Defaults to browser.OpenURL.
	OpenURL func(url string) error
	// NoBrowser leaves opening the page to the user.
	NoBrowser bool
	// OnAuthorized is invoked once per successful flow. The returned command is run.
	OnAuthorized func() tea.Cmd

	PollInterval   time.Duration
	SettleDelay    time.Duration
	RequestTimeout time.Duration
}

type initResultMsg struct {
	session uint64
	auth    domain.DeviceAuthSession
	err     error
}

type settledMsg struct {
	session uint64
}

// userMessager is implemented by errors that carry text meant for the operator.
type userMessager interface {
	UserMessage() string
}

// Controller owns at most one active Session.
type Controller struct {
	opts Options

	state     State
	outcome   State
	session   *Session
	lastID    uint64
	countdown countdown.State
}

// NewController creates an idle controller.
func NewController(opts Options) *Controller {
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if opts.Tick == nil {
		opts.Tick = tea.Tick
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.OpenURL == nil {
		opts.OpenURL = browser.OpenURL
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.SettleDelay <= 0 {
		opts.SettleDelay = DefaultSettleDelay
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = DefaultRequestTimeout
	}
	return &Controller{opts: opts}
}

// State returns the current state.
func (c *Controller) State() State {
	return c.state
}

// Outcome returns the terminal state the last session ended in, or
// StateIdle when no session has ended yet.
func (c *Controller) Outcome() State {
	return c.outcome
}

// Session returns the active session, or nil when idle. Callers must not modify it.
func (c *Controller) Session() *Session {
	return c.session
}

// Countdown returns the countdown state of the last tick.
func (c *Controller) Countdown() countdown.State {
	return c.countdown
}

// Start begins a new session. It does nothing unless the controller is idle
// or still settling after a success.
func (c *Controller) Start() tea.Cmd {
	if c.state != StateIdle && c.state != StateCompleted {
		return nil
	}
	c.reset()

	c.lastID++
	c.session = &Session{ID: c.lastID}
	c.state = StateInitializing
	c.opts.Logger.Info("starting device authorization", slog.Uint64("session", c.lastID))

	return tea.Batch(
		notify.Slot(notify.ChannelOAuth, "Initializing OAuth login...", notify.SeverityInfo, true),
		c.initialize(c.lastID),
	)
}

// Cancel abandons the active session. The backend is told on a best-effort
// basis; the local reset never waits for it.
func (c *Controller) Cancel() tea.Cmd {
	switch c.state {
	case StateInitializing, StateAwaitingAuthorization:
	case StateCompleted:
		c.reset()
		return nil
	default:
		return nil
	}

	stateID := c.session.StateID
	c.opts.Logger.Info("cancelling device authorization",
		slog.Uint64("session", c.session.ID),
		slog.String("state_id", stateID),
	)
	c.finish(StateCancelled)
	return tea.Batch(
		c.cancelRemote(stateID),
		notify.Slot(notify.ChannelOAuth, "OAuth login cancelled", notify.SeverityInfo, false),
	)
}

// OpenVerification opens the verification page of the active session again.
func (c *Controller) OpenVerification() tea.Cmd {
	if c.state != StateAwaitingAuthorization || c.session.VerificationURI == "" {
		return nil
	}
	return c.open(c.session.VerificationURI)
}

// Update handles the controller's own messages. Anything else is ignored.
func (c *Controller) Update(msg tea.Msg) tea.Cmd {
	switch msg := msg.(type) {
	case initResultMsg:
		return c.onInitResult(msg)
	case ticker.Msg:
		return c.onTick(msg)
	case poller.ResultMsg:
		return c.onPollResult(msg)
	case settledMsg:
		if c.state == StateCompleted && c.session != nil && c.session.ID == msg.session {
			c.reset()
		}
	}
	return nil
}

func (c *Controller) onInitResult(msg initResultMsg) tea.Cmd {
	if !c.current(msg.session, StateInitializing) {
		if msg.err == nil && msg.auth.StateID != "" {
			c.opts.Logger.Info("discarding late init answer", slog.String("state_id", msg.auth.StateID))
			return c.cancelRemote(msg.auth.StateID)
		}
		return nil
	}

	if msg.err != nil {
		c.opts.Logger.Error("device authorization init failed", slog.String("error", msg.err.Error()))
		c.finish(StateFailed)
		return notify.Slot(notify.ChannelOAuth, failureText(msg.err, "OAuth initialization failed"), notify.SeverityError, false)
	}

	s := c.session
	s.StateID = msg.auth.StateID
	s.VerificationURI = msg.auth.VerificationURI
	s.ExpiresAt = msg.auth.ExpiresAt
	s.StartedAt = c.opts.Now()
	s.tracker = countdown.New(s.StartedAt, s.ExpiresAt, c.opts.Now, c.opts.Tick)
	s.poller = poller.New(s.ID, s.StateID, c.opts.Backend.Poll, poller.Options{
		Interval: c.opts.PollInterval,
		Timeout:  c.opts.RequestTimeout,
		Tick:     c.opts.Tick,
		Logger:   c.opts.Logger,
	})
	c.state = StateAwaitingAuthorization
	c.opts.Logger.Info("awaiting authorization",
		slog.String("state_id", s.StateID),
		slog.String("expires_at", s.ExpiresAt.Format(time.RFC3339)),
	)

	cmds := []tea.Cmd{s.tracker.Start(), s.poller.Start()}
	c.countdown = s.tracker.State()
	if !c.opts.NoBrowser && s.VerificationURI != "" {
		cmds = append(cmds, c.open(s.VerificationURI))
	}
	return tea.Batch(cmds...)
}

func (c *Controller) onTick(msg ticker.Msg) tea.Cmd {
	if c.state != StateAwaitingAuthorization {
		return nil
	}
	s := c.session
	if s.poller.Owns(msg) {
		return s.poller.Tick(msg)
	}
	if !s.tracker.Owns(msg) {
		return nil
	}
	cmd, expired := s.tracker.Advance(msg)
	c.countdown = s.tracker.State()
	if expired {
		c.opts.Logger.Info("device authorization expired", slog.String("state_id", s.StateID))
		c.finish(StateExpired)
	}
	return cmd
}

func (c *Controller) onPollResult(msg poller.ResultMsg) tea.Cmd {
	if !c.current(msg.Owner, StateAwaitingAuthorization) {
		return nil
	}
	s := c.session
	res, ok := s.poller.Accept(msg)
	if !ok {
		return nil
	}

	switch res.Status {
	case domain.PollAuthorized:
		c.opts.Logger.Info("device authorization succeeded", slog.String("state_id", s.StateID))
		s.teardown()
		c.state = StateCompleted
		c.outcome = StateCompleted
		id := s.ID
		cmds := []tea.Cmd{
			notify.Slot(notify.ChannelOAuth, "OAuth authorization succeeded!", notify.SeveritySuccess, false),
			c.opts.Tick(c.opts.SettleDelay, func(time.Time) tea.Msg { return settledMsg{session: id} }),
		}
		if c.opts.OnAuthorized != nil {
			cmds = append(cmds, c.opts.OnAuthorized())
		}
		return tea.Batch(cmds...)

	case domain.PollPending:
		var cmds []tea.Cmd
		if !s.tracker.Running() {
			cmds = append(cmds, s.tracker.Start())
			c.countdown = s.tracker.State()
		}
		if res.Warning != "" {
			cmds = append(cmds, notify.Stack(notify.ChannelOAuth, res.Warning, notify.SeverityInfo, notify.DefaultDuration))
		}
		return tea.Batch(cmds...)

	default:
		c.opts.Logger.Error("device authorization failed",
			slog.String("state_id", s.StateID),
			slog.String("message", res.Message),
		)
		c.finish(StateFailed)
		text := res.Message
		if text == "" {
			text = "OAuth authorization failed"
		}
		return notify.Slot(notify.ChannelOAuth, text, notify.SeverityError, false)
	}
}

// current reports whether id names the active session and the controller is in want.
func (c *Controller) current(id uint64, want State) bool {
	return c.session != nil && c.session.ID == id && c.state == want
}

// finish records outcome and returns to idle.
func (c *Controller) finish(outcome State) {
	c.outcome = outcome
	c.reset()
}

func (c *Controller) reset() {
	c.session.teardown()
	c.session = nil
	c.state = StateIdle
}

func (c *Controller) initialize(id uint64) tea.Cmd {
	backend, timeout := c.opts.Backend, c.opts.RequestTimeout
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		auth, err := backend.Initialize(ctx)
		return initResultMsg{session: id, auth: auth, err: err}
	}
}

func (c *Controller) cancelRemote(stateID string) tea.Cmd {
	if stateID == "" {
		return nil
	}
	backend, timeout, logger := c.opts.Backend, c.opts.RequestTimeout, c.opts.Logger
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := backend.Cancel(ctx, stateID); err != nil {
			logger.Warn("cancel request failed", slog.String("state_id", stateID), slog.String("error", err.Error()))
		}
		return nil
	}
}

func (c *Controller) open(url string) tea.Cmd {
	openURL, logger := c.opts.OpenURL, c.opts.Logger
	return func() tea.Msg {
		if err := openURL(url); err != nil {
			logger.Warn("could not open browser", slog.String("url", url), slog.String("error", err.Error()))
		}
		return nil
	}
}

// unauthorizedHint is appended when the backend rejected the API password.
const unauthorizedHint = " (check the API password)"

func failureText(err error, fallback string) string {
	text := fallback
	var um userMessager
	if errors.As(err, &um) && um.UserMessage() != "" {
		text = um.UserMessage()
	}
	if errors.Is(err, domain.ErrUnauthorized) {
		return text + unauthorizedHint
	}
	if text != fallback {
		return text
	}
	if domain.IsTransient(err) {
		return fallback + ": backend unreachable"
	}
	return fallback
}
