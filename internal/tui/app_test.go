package tui_test

import (
	"context"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/gweid/qwencli2api/internal/domain"
	"github.com/gweid/qwencli2api/internal/flow"
	"github.com/gweid/qwencli2api/internal/notify"
	"github.com/gweid/qwencli2api/internal/ticker/tickertest"
	"github.com/gweid/qwencli2api/internal/tui"
)

// fakeBackend satisfies tui.Backend for TUI tests.
type fakeBackend struct {
	now         func() time.Time
	authorizeAt int
	polls       int
	cancelled   []string
	statusCalls int
	tokenCount  int
}

func (f *fakeBackend) Initialize(_ context.Context) (domain.DeviceAuthSession, error) {
	return domain.DeviceAuthSession{
		StateID:         "state-abc",
		VerificationURI: "https://chat.qwen.ai/authorize?user_code=WXYZ-1234",
		ExpiresAt:       f.now().Add(5 * time.Minute),
	}, nil
}

func (f *fakeBackend) Poll(_ context.Context, _ string) (domain.PollResult, error) {
	f.polls++
	if f.authorizeAt > 0 && f.polls >= f.authorizeAt {
		f.tokenCount++
		return domain.PollResult{Status: domain.PollAuthorized}, nil
	}
	return domain.PollResult{Status: domain.PollPending}, nil
}

func (f *fakeBackend) Cancel(_ context.Context, stateID string) error {
	f.cancelled = append(f.cancelled, stateID)
	return nil
}

func (f *fakeBackend) TokenStatus(_ context.Context) (domain.TokenStatus, error) {
	f.statusCalls++
	return domain.TokenStatus{HasToken: f.tokenCount > 0, Count: f.tokenCount}, nil
}

type harness struct {
	loop    *tickertest.Loop
	backend *fakeBackend
	model   tui.AppModel
	opened  []string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{loop: tickertest.NewLoop(time.Date(2026, 2, 2, 8, 0, 0, 0, time.UTC))}
	h.backend = &fakeBackend{now: h.loop.Now, tokenCount: 2}
	h.model = tui.NewAppModel(h.backend, tui.Options{
		ServerURL: "http://localhost:3008",
		OpenURL: func(url string) error {
			h.opened = append(h.opened, url)
			return nil
		},
		Tick: h.loop.Tick,
		Now:  h.loop.Now,
	})
	h.loop.Bind(func(msg tea.Msg) tea.Cmd {
		next, cmd := h.model.Update(msg)
		h.model = next.(tui.AppModel)
		return cmd
	})
	h.loop.Run(h.model.Init())
	return h
}

func (h *harness) press(key string) tea.Cmd {
	var msg tea.KeyMsg
	switch key {
	case "esc":
		msg = tea.KeyMsg{Type: tea.KeyEsc}
	case "enter":
		msg = tea.KeyMsg{Type: tea.KeyEnter}
	default:
		msg = tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(key)}
	}
	next, cmd := h.model.Update(msg)
	h.model = next.(tui.AppModel)
	return cmd
}

func TestApp_InitLoadsTokenSummary(t *testing.T) {
	h := newHarness(t)

	view := h.model.View()
	if !strings.Contains(view, "Tokens: 2 available") {
		t.Errorf("expected token summary in header, got:\n%s", view)
	}
	if !strings.Contains(view, "Press o to start") {
		t.Errorf("expected idle prompt, got:\n%s", view)
	}
}

func TestApp_StartKey_ShowsVerificationPanel(t *testing.T) {
	h := newHarness(t)
	h.loop.Run(h.press("o"))

	view := h.model.View()
	for _, want := range []string{
		"https://chat.qwen.ai/authorize?user_code=WXYZ-1234",
		"(5 minutes)",
		"Waiting for authorization... remaining 5:00",
		"esc: cancel",
	} {
		if !strings.Contains(view, want) {
			t.Errorf("expected %q in view, got:\n%s", want, view)
		}
	}
	if len(h.opened) != 1 {
		t.Errorf("expected the verification page to be opened once, got %d", len(h.opened))
	}
}

func TestApp_EnterAlsoStarts(t *testing.T) {
	h := newHarness(t)
	h.loop.Run(h.press("enter"))

	if h.model.Flow().State() != flow.StateAwaitingAuthorization {
		t.Errorf("expected awaiting authorization, got %s", h.model.Flow().State())
	}
}

func TestApp_CountdownAdvancesInView(t *testing.T) {
	h := newHarness(t)
	h.loop.Run(h.press("o"))
	h.loop.Advance(65 * time.Second)

	view := h.model.View()
	if !strings.Contains(view, "3:55") {
		t.Errorf("expected remaining 3:55 after 65s, got:\n%s", view)
	}
}

func TestApp_EscCancelsFlow(t *testing.T) {
	h := newHarness(t)
	h.loop.Run(h.press("o"))
	h.loop.Run(h.press("esc"))

	if h.model.Flow().State() != flow.StateIdle {
		t.Errorf("expected idle after esc, got %s", h.model.Flow().State())
	}
	if len(h.backend.cancelled) != 1 || h.backend.cancelled[0] != "state-abc" {
		t.Errorf("expected a cancel for state-abc, got %v", h.backend.cancelled)
	}
	if view := h.model.View(); !strings.Contains(view, "OAuth login cancelled") {
		t.Errorf("expected cancel message in view, got:\n%s", view)
	}
}

func TestApp_SuccessRefreshesTokensAfterSettleDelay(t *testing.T) {
	h := newHarness(t)
	h.backend.authorizeAt = 2
	h.loop.Run(h.press("o"))
	callsBefore := h.backend.statusCalls

	h.loop.Advance(3 * time.Second)
	if h.model.Flow().State() != flow.StateCompleted {
		t.Fatalf("expected completed, got %s", h.model.Flow().State())
	}
	if h.backend.statusCalls != callsBefore {
		t.Error("token status must not be refreshed before the settle delay")
	}

	h.loop.Advance(flow.DefaultSettleDelay)
	if h.backend.statusCalls != callsBefore+1 {
		t.Errorf("expected one token refresh after settling, got %d", h.backend.statusCalls-callsBefore)
	}
	view := h.model.View()
	if !strings.Contains(view, "Tokens: 3 available") {
		t.Errorf("expected refreshed token summary, got:\n%s", view)
	}
	if h.model.Flow().State() != flow.StateIdle {
		t.Errorf("expected idle after settling, got %s", h.model.Flow().State())
	}
}

func TestApp_RefreshKey_AcknowledgesOnStack(t *testing.T) {
	h := newHarness(t)
	h.loop.Run(h.press("r"))

	stacked := h.model.Queue().Stacked()
	if len(stacked) != 1 || stacked[0].Channel != notify.ChannelTokens {
		t.Fatalf("expected one token notification on the stack, got %+v", stacked)
	}
	h.loop.Advance(notify.DefaultDuration + notify.ExitDuration)
	if h.model.Queue().StackVisible() {
		t.Error("expected the stack to empty after the message expired")
	}
}

func TestApp_BrowserKey_ReopensLink(t *testing.T) {
	h := newHarness(t)
	h.loop.Run(h.press("b"))
	if len(h.opened) != 0 {
		t.Error("b must not open anything while idle")
	}
	if view := h.model.View(); !strings.Contains(view, "No verification link yet") {
		t.Errorf("expected a hint while idle, got:\n%s", view)
	}
	h.loop.Advance(notify.DefaultDuration)
	if _, ok := h.model.Queue().SlotMessage(notify.ChannelOAuth); ok {
		t.Error("the hint should hide on its own")
	}

	h.loop.Run(h.press("o"))
	h.loop.Run(h.press("b"))
	if len(h.opened) != 2 {
		t.Errorf("expected the link to be opened twice, got %d", len(h.opened))
	}
}

func TestApp_QuitDuringFlowCancelsFirst(t *testing.T) {
	h := newHarness(t)
	h.loop.Run(h.press("o"))

	cmd := h.press("q")
	if cmd == nil {
		t.Fatal("expected a quit command")
	}
	if h.model.Flow().State() != flow.StateIdle {
		t.Errorf("expected the flow to be reset before quitting, got %s", h.model.Flow().State())
	}
}

func TestApp_QuitWhileIdle(t *testing.T) {
	h := newHarness(t)
	cmd := h.press("q")
	if cmd == nil {
		t.Fatal("expected a quit command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Error("expected tea.QuitMsg")
	}
}
