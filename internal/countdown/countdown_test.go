package countdown_test

import (
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/gweid/qwencli2api/internal/countdown"
	"github.com/gweid/qwencli2api/internal/notify"
	"github.com/gweid/qwencli2api/internal/ticker"
	"github.com/gweid/qwencli2api/internal/ticker/tickertest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

type harness struct {
	loop    *tickertest.Loop
	tracker *countdown.Tracker
	ticks   int
	expired int
	states  []countdown.State
}

func newHarness(total time.Duration) *harness {
	h := &harness{loop: tickertest.NewLoop(t0)}
	h.tracker = countdown.New(t0, t0.Add(total), h.loop.Now, h.loop.Tick)
	h.loop.Bind(func(msg tea.Msg) tea.Cmd {
		tick, ok := msg.(ticker.Msg)
		if !ok || !h.tracker.Owns(tick) {
			return nil
		}
		h.ticks++
		cmd, expired := h.tracker.Advance(tick)
		if expired {
			h.expired++
		}
		h.states = append(h.states, h.tracker.State())
		return cmd
	})
	return h
}

func TestCompute_UrgencyBoundaries(t *testing.T) {
	total := 300 * time.Second
	tests := []struct {
		name    string
		elapsed time.Duration
		want    countdown.Urgency
	}{
		{"fresh", 0, countdown.UrgencyNormal},
		{"exactly half", 150 * time.Second, countdown.UrgencyNormal},
		{"just under half", 151 * time.Second, countdown.UrgencyWarning},
		{"just above a fifth", 239 * time.Second, countdown.UrgencyWarning},
		{"exactly a fifth", 240 * time.Second, countdown.UrgencyCritical},
		{"expired", 400 * time.Second, countdown.UrgencyCritical},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := countdown.Compute(t0, t0.Add(total), t0.Add(tt.elapsed))
			assert.Equal(t, tt.want, st.Urgency)
		})
	}
}

func TestCompute_RemainingNeverNegative(t *testing.T) {
	st := countdown.Compute(t0, t0.Add(time.Minute), t0.Add(2*time.Minute))
	assert.Equal(t, time.Duration(0), st.Remaining)
	assert.Equal(t, 0.0, st.Ratio)
	assert.True(t, st.Expired())
}

func TestCompute_ZeroTotal(t *testing.T) {
	st := countdown.Compute(t0, t0, t0)
	assert.Equal(t, 0.0, st.Ratio)
	assert.Equal(t, countdown.UrgencyCritical, st.Urgency)
}

func TestState_Clock(t *testing.T) {
	tests := []struct {
		remaining time.Duration
		want      string
	}{
		{300 * time.Second, "5:00"},
		{61 * time.Second, "1:01"},
		{59*time.Second + 999*time.Millisecond, "0:59"},
		{0, "0:00"},
	}
	for _, tt := range tests {
		st := countdown.State{Remaining: tt.remaining}
		assert.Equal(t, tt.want, st.Clock())
	}
}

func TestState_MessageAndSeverity(t *testing.T) {
	total := 300 * time.Second
	normal := countdown.Compute(t0, t0.Add(total), t0)
	assert.Equal(t, "Waiting for authorization... remaining 5:00", normal.Message())
	assert.Equal(t, notify.SeverityInfo, normal.Severity())

	warning := countdown.Compute(t0, t0.Add(total), t0.Add(200*time.Second))
	assert.Equal(t, "Please complete authorization soon! remaining 1:40", warning.Message())
	assert.Equal(t, notify.SeverityInfo, warning.Severity())

	critical := countdown.Compute(t0, t0.Add(total), t0.Add(290*time.Second))
	assert.Equal(t, "Authorization about to expire! remaining 0:10", critical.Message())
	assert.Equal(t, notify.SeverityError, critical.Severity())

	expired := countdown.Compute(t0, t0.Add(total), t0.Add(total))
	assert.Equal(t, "Authorization code expired, please start again", expired.Message())
	assert.Equal(t, notify.SeverityError, expired.Severity())
}

func TestTracker_UrgencyTurnsCriticalAtTick240(t *testing.T) {
	h := newHarness(300 * time.Second)
	h.loop.Run(h.tracker.Start())

	h.loop.Advance(239 * time.Second)
	require.Equal(t, 239, h.ticks)
	st := h.tracker.State()
	assert.Equal(t, countdown.UrgencyWarning, st.Urgency)
	assert.InDelta(t, 0.2033, st.Ratio, 0.0001)

	h.loop.Advance(time.Second)
	st = h.tracker.State()
	assert.Equal(t, countdown.UrgencyCritical, st.Urgency)
	assert.Equal(t, 0.2, st.Ratio)
}

func TestTracker_SelfTerminatesAtZero(t *testing.T) {
	h := newHarness(5 * time.Second)
	h.loop.Run(h.tracker.Start())

	h.loop.Advance(time.Minute)

	assert.Equal(t, 5, h.ticks)
	assert.Equal(t, 1, h.expired)
	assert.False(t, h.tracker.Running())
	assert.Equal(t, 0, h.loop.Pending())
	for _, st := range h.states {
		assert.GreaterOrEqual(t, st.Remaining, time.Duration(0))
	}
	assert.Equal(t, time.Duration(0), h.states[len(h.states)-1].Remaining)

	posts := tickertest.Messages[notify.PostMsg](h.loop)
	require.NotEmpty(t, posts)
	last := posts[len(posts)-1].Notification
	assert.Equal(t, "Authorization code expired, please start again", last.Text)
	assert.False(t, last.Sticky)
	// The message before the expired one still showed time left.
	assert.Contains(t, posts[len(posts)-2].Notification.Text, "0:01")
}

func TestTracker_PostsToStickySlot(t *testing.T) {
	h := newHarness(300 * time.Second)
	h.loop.Run(h.tracker.Start())
	h.loop.Advance(3 * time.Second)

	posts := tickertest.Messages[notify.PostMsg](h.loop)
	require.Len(t, posts, 4, "one post on start and one per tick")
	for _, p := range posts {
		assert.Equal(t, notify.ModeSlot, p.Notification.Mode)
		assert.Equal(t, notify.ChannelOAuth, p.Notification.Channel)
		assert.True(t, p.Notification.Sticky)
	}
	assert.Equal(t, "Waiting for authorization... remaining 4:57", posts[3].Notification.Text)
}

func TestTracker_StopBeforeExpiry(t *testing.T) {
	h := newHarness(300 * time.Second)
	h.loop.Run(h.tracker.Start())
	h.loop.Advance(10 * time.Second)

	h.tracker.Stop()
	h.tracker.Stop()
	h.loop.Advance(10 * time.Minute)

	assert.Equal(t, 10, h.ticks)
	assert.Equal(t, 0, h.expired)
	assert.False(t, h.tracker.Running())
}

func TestTracker_RestartContinuesFromAbsoluteExpiry(t *testing.T) {
	h := newHarness(300 * time.Second)
	h.loop.Run(h.tracker.Start())
	h.loop.Advance(10 * time.Second)
	h.tracker.Stop()
	h.loop.Advance(20 * time.Second)

	h.loop.Run(h.tracker.Start())
	assert.True(t, h.tracker.Running())
	assert.Equal(t, 270*time.Second, h.tracker.State().Remaining)
}
