// Package tokens keeps a summary of the tokens the backend holds. It is the
// collaborator refreshed when a device authorization succeeds.
package tokens

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/gweid/qwencli2api/internal/domain"
	"github.com/gweid/qwencli2api/internal/notify"
	"github.com/gweid/qwencli2api/internal/ticker"
	"golang.org/x/sync/singleflight"
)

// StatusSource reports the backend's token status.
type StatusSource interface {
	TokenStatus(ctx context.Context) (domain.TokenStatus, error)
}

// RefreshedMsg carries a token status answer back to the event loop.
type RefreshedMsg struct {
	Status domain.TokenStatus
	Err    error
	// Manual is set when the operator asked for the refresh.
	Manual bool
}

type refreshDueMsg struct{}

// Watcher holds the last known token status. Refreshes requested while one is
// already in flight share its answer.
type Watcher struct {
	src     StatusSource
	timeout time.Duration
	logger  *slog.Logger
	group   singleflight.Group

	status  domain.TokenStatus
	loaded  bool
	lastErr error
}

// NewWatcher creates a watcher with no status loaded yet.
func NewWatcher(src StatusSource, timeout time.Duration, logger *slog.Logger) *Watcher {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Watcher{src: src, timeout: timeout, logger: logger}
}

// Refresh fetches the token status. manual marks an operator request, which
// is acknowledged on the notification stack.
func (w *Watcher) Refresh(manual bool) tea.Cmd {
	return func() tea.Msg {
		v, err, shared := w.group.Do("token-status", func() (any, error) {
			ctx, cancel := context.WithTimeout(context.Background(), w.timeout)
			defer cancel()
			return w.src.TokenStatus(ctx)
		})
		if shared {
			w.logger.Debug("token status refresh shared with a request in flight")
		}
		st, _ := v.(domain.TokenStatus)
		return RefreshedMsg{Status: st, Err: err, Manual: manual}
	}
}

// RefreshAfter schedules a refresh once d has passed.
func (w *Watcher) RefreshAfter(d time.Duration, tick ticker.TickFunc) tea.Cmd {
	if tick == nil {
		tick = tea.Tick
	}
	return tick(d, func(time.Time) tea.Msg { return refreshDueMsg{} })
}

// Update records refresh answers and reports failures.
func (w *Watcher) Update(msg tea.Msg) tea.Cmd {
	switch msg := msg.(type) {
	case refreshDueMsg:
		return w.Refresh(false)
	case RefreshedMsg:
		if msg.Err != nil {
			w.lastErr = msg.Err
			w.logger.Warn("token status refresh failed", slog.String("error", msg.Err.Error()))
			text := "Could not load token status: " + msg.Err.Error()
			if errors.Is(msg.Err, domain.ErrUnauthorized) {
				text += " (check the API password)"
			}
			if msg.Manual {
				return notify.Stack(notify.ChannelTokens, text, notify.SeverityError, notify.DefaultDuration)
			}
			return notify.Slot(notify.ChannelTokens, text, notify.SeverityError, false)
		}
		w.status = msg.Status
		w.loaded = true
		w.lastErr = nil
		w.logger.Debug("token status refreshed", slog.Int("count", msg.Status.Count))
		if msg.Manual {
			return notify.Stack(notify.ChannelTokens, "Token status refreshed", notify.SeveritySuccess, notify.DefaultDuration)
		}
	}
	return nil
}

// Status returns the last loaded status and whether one has been loaded.
func (w *Watcher) Status() (domain.TokenStatus, bool) {
	return w.status, w.loaded
}

// Err returns the error of the last refresh, if it failed.
func (w *Watcher) Err() error {
	return w.lastErr
}

// Summary is a one-line description of the token status.
func (w *Watcher) Summary() string {
	switch {
	case !w.loaded:
		return "Tokens: unknown"
	case !w.status.HasToken || w.status.Count == 0:
		return "Tokens: none"
	case w.status.Count == 1:
		return "Tokens: 1 available"
	default:
		return fmt.Sprintf("Tokens: %d available", w.status.Count)
	}
}
