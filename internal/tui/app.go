package tui

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/gweid/qwencli2api/internal/countdown"
	"github.com/gweid/qwencli2api/internal/domain"
	"github.com/gweid/qwencli2api/internal/flow"
	"github.com/gweid/qwencli2api/internal/notify"
	"github.com/gweid/qwencli2api/internal/ticker"
	"github.com/gweid/qwencli2api/internal/tokens"
)

// Backend is everything the UI needs from the token admin backend.
type Backend interface {
	domain.DeviceAuthBackend
	tokens.StatusSource
}

// Options configures an AppModel. Zero values select the defaults.
type Options struct {
	ServerURL      string
	Logger         *slog.Logger
	RequestTimeout time.Duration
	NoBrowser      bool
	// OpenURL, Tick and Now are replaced in tests.
	OpenURL func(url string) error
	Tick    ticker.TickFunc
	Now     func() time.Time
}

const barWidth = 30

var (
	titleStyle = lipgloss.NewStyle().Bold(true)
	linkStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("39")).Underline(true)
	faintStyle = lipgloss.NewStyle().Faint(true)
)

var urgencyColor = map[countdown.Urgency]lipgloss.Color{
	countdown.UrgencyNormal:   lipgloss.Color("42"),
	countdown.UrgencyWarning:  lipgloss.Color("214"),
	countdown.UrgencyCritical: lipgloss.Color("196"),
}

const noLinkHint = "No verification link yet, press o to start a login"

const separator = "────────────────────────────────────────────────────────────\n"

// AppModel is the root Bubbletea model for qwenauth.
type AppModel struct {
	serverURL string
	flow      *flow.Controller
	queue     *notify.Queue
	tokens    *tokens.Watcher
}

// NewAppModel creates the root application model.
func NewAppModel(b Backend, opts Options) AppModel {
	queue := notify.NewQueue(opts.Tick, opts.Now)
	watcher := tokens.NewWatcher(b, opts.RequestTimeout, opts.Logger)
	tick := opts.Tick
	ctrl := flow.NewController(flow.Options{
		Backend:        b,
		Logger:         opts.Logger,
		Tick:           opts.Tick,
		Now:            opts.Now,
		OpenURL:        opts.OpenURL,
		NoBrowser:      opts.NoBrowser,
		RequestTimeout: opts.RequestTimeout,
		OnAuthorized: func() tea.Cmd {
			// Give the backend a moment to persist the new token.
			return watcher.RefreshAfter(flow.DefaultSettleDelay, tick)
		},
	})
	return AppModel{
		serverURL: opts.ServerURL,
		flow:      ctrl,
		queue:     queue,
		tokens:    watcher,
	}
}

// Init loads the token summary.
func (m AppModel) Init() tea.Cmd {
	return m.tokens.Refresh(false)
}

// Flow exposes the controller for the caller's shutdown path and for tests.
func (m AppModel) Flow() *flow.Controller {
	return m.flow
}

// Queue exposes the notification queue for tests.
func (m AppModel) Queue() *notify.Queue {
	return m.queue
}

// Update handles key events and routes every other message to the components.
func (m AppModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	if key, ok := msg.(tea.KeyMsg); ok {
		switch key.String() {
		case "q", "ctrl+c":
			// Tell the backend before leaving so it does not keep the session around.
			if cancel := m.flow.Cancel(); cancel != nil {
				return m, tea.Sequence(cancel, tea.Quit)
			}
			return m, tea.Quit
		case "o", "enter":
			return m, m.flow.Start()
		case "esc", "c":
			return m, m.flow.Cancel()
		case "b":
			if cmd := m.flow.OpenVerification(); cmd != nil {
				return m, cmd
			}
			_, cmd := m.queue.Show(notify.ChannelOAuth, noLinkHint, notify.SeverityInfo, false)
			return m, cmd
		case "r":
			return m, m.tokens.Refresh(true)
		}
		return m, nil
	}

	return m, tea.Batch(
		m.queue.Update(msg),
		m.flow.Update(msg),
		m.tokens.Update(msg),
	)
}

// View renders the full TUI.
func (m AppModel) View() string {
	header := fmt.Sprintf(" qwenauth | %s | %s\n", m.serverURL, m.tokens.Summary())

	var b strings.Builder
	b.WriteString(header)
	b.WriteString(separator)
	b.WriteString(m.renderFlow())
	b.WriteString(separator)
	for _, ch := range []notify.Channel{notify.ChannelOAuth, notify.ChannelTokens} {
		if line := m.queue.ViewSlot(ch); line != "" {
			b.WriteString(" " + line + "\n")
		}
	}
	if stack := m.queue.ViewStack(); stack != "" {
		b.WriteString(stack + "\n")
	}
	b.WriteString(separator)
	b.WriteString(m.footer())
	return b.String()
}

func (m AppModel) renderFlow() string {
	switch m.flow.State() {
	case flow.StateInitializing:
		return "\n Requesting a device code...\n\n"
	case flow.StateAwaitingAuthorization:
		return m.renderVerification()
	case flow.StateCompleted:
		return "\n Authorized. Refreshing token list...\n\n"
	default:
		return "\n Press o to start an OAuth login.\n\n"
	}
}

func (m AppModel) renderVerification() string {
	s := m.flow.Session()
	cd := m.flow.Countdown()

	var b strings.Builder
	b.WriteString("\n " + titleStyle.Render("Authorize this device") + "\n\n")
	b.WriteString(" 1. Open the link below (press b to open it again)\n")
	b.WriteString(" 2. Sign in and approve the request\n")
	b.WriteString(" 3. Wait here, the token is saved automatically\n\n")
	if s.VerificationURI != "" {
		b.WriteString(" " + linkStyle.Render(s.VerificationURI) + "\n\n")
	}
	b.WriteString(fmt.Sprintf(" Expires at %s (%d minutes)\n",
		s.ExpiresAt.Local().Format("15:04:05"), s.TotalMinutes()))
	b.WriteString(" " + renderBar(cd) + " " + cd.Clock() + "\n\n")
	return b.String()
}

func renderBar(cd countdown.State) string {
	filled := int(cd.Ratio * barWidth)
	if filled > barWidth {
		filled = barWidth
	}
	style := lipgloss.NewStyle().Foreground(urgencyColor[cd.Urgency])
	return style.Render(strings.Repeat("█", filled)) + faintStyle.Render(strings.Repeat("░", barWidth-filled))
}

func (m AppModel) footer() string {
	switch m.flow.State() {
	case flow.StateInitializing, flow.StateAwaitingAuthorization:
		return " esc: cancel   b: open link   r: refresh tokens   q: quit\n"
	default:
		return " o: start login   r: refresh tokens   q: quit\n"
	}
}

// Run starts the Bubbletea program and blocks until it exits or ctx is done.
func Run(ctx context.Context, m AppModel) error {
	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx))
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("running program: %w", err)
	}
	return nil
}
