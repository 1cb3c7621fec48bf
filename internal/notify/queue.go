package notify

import (
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/google/uuid"
	"github.com/gweid/qwencli2api/internal/ticker"
)

// PostMsg routes a notification through the event loop to the Queue.
type PostMsg struct {
	Notification Notification
}

// Post returns a command that delivers n to the Queue. Producers that do not
// hold the Queue (the flow controller, the token watcher) use it.
func Post(n Notification) tea.Cmd {
	return func() tea.Msg { return PostMsg{Notification: n} }
}

// Slot is shorthand for posting to a channel's slot.
func Slot(ch Channel, text string, sev Severity, sticky bool) tea.Cmd {
	return Post(Notification{Channel: ch, Mode: ModeSlot, Text: text, Severity: sev, Sticky: sticky})
}

// Stack is shorthand for posting a floating message.
func Stack(ch Channel, text string, sev Severity, d time.Duration) tea.Cmd {
	return Post(Notification{Channel: ch, Mode: ModeStack, Text: text, Severity: sev, Duration: d})
}

type hideSlotMsg struct {
	channel Channel
	id      string
}

type expireMsg struct{ id string }

type disposeMsg struct{ id string }

// Queue holds the slot and stack notifications. All methods run on the event loop.
type Queue struct {
	slots map[Channel]Notification
	stack []Notification
	tick  ticker.TickFunc
	now   func() time.Time
}

// NewQueue creates an empty queue. Nil arguments fall back to tea.Tick and time.Now.
func NewQueue(tick ticker.TickFunc, now func() time.Time) *Queue {
	if tick == nil {
		tick = tea.Tick
	}
	if now == nil {
		now = time.Now
	}
	return &Queue{slots: make(map[Channel]Notification), tick: tick, now: now}
}

// Update handles posts and the queue's own timers.
func (q *Queue) Update(msg tea.Msg) tea.Cmd {
	switch msg := msg.(type) {
	case PostMsg:
		_, cmd := q.Add(msg.Notification)
		return cmd
	case hideSlotMsg:
		// A newer message may have taken the slot since this timer was set.
		if cur, ok := q.slots[msg.channel]; ok && cur.ID == msg.id {
			delete(q.slots, msg.channel)
		}
	case expireMsg:
		return q.RemoveByID(msg.id)
	case disposeMsg:
		for i, n := range q.stack {
			if n.ID == msg.id {
				q.stack = append(q.stack[:i], q.stack[i+1:]...)
				break
			}
		}
	}
	return nil
}

// Add delivers n according to its Mode and returns its id.
func (q *Queue) Add(n Notification) (string, tea.Cmd) {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = q.now()
	}
	if n.Duration <= 0 {
		n.Duration = DefaultDuration
	}
	n.Removing = false

	id := n.ID
	if n.Mode == ModeStack {
		q.stack = append(q.stack, n)
		return id, q.tick(n.Duration, func(time.Time) tea.Msg { return expireMsg{id: id} })
	}

	q.slots[n.Channel] = n
	if n.Sticky {
		return id, nil
	}
	ch := n.Channel
	return id, q.tick(n.Duration, func(time.Time) tea.Msg { return hideSlotMsg{channel: ch, id: id} })
}

// Show overwrites the slot for ch.
func (q *Queue) Show(ch Channel, text string, sev Severity, sticky bool) (string, tea.Cmd) {
	return q.Add(Notification{Channel: ch, Mode: ModeSlot, Text: text, Severity: sev, Sticky: sticky})
}

// Enqueue adds a floating message that removes itself after d.
func (q *Queue) Enqueue(text string, sev Severity, d time.Duration) (string, tea.Cmd) {
	return q.Add(Notification{Mode: ModeStack, Text: text, Severity: sev, Duration: d})
}

// RemoveByID starts the exit transition of a stacked message. Removing an id
// that is unknown, already removing, or already gone does nothing.
func (q *Queue) RemoveByID(id string) tea.Cmd {
	for i := range q.stack {
		if q.stack[i].ID != id {
			continue
		}
		if q.stack[i].Removing {
			return nil
		}
		q.stack[i].Removing = true
		return q.tick(ExitDuration, func(time.Time) tea.Msg { return disposeMsg{id: id} })
	}
	return nil
}

// ClearSlot empties the slot for ch.
func (q *Queue) ClearSlot(ch Channel) {
	delete(q.slots, ch)
}

// SlotMessage returns the message currently in ch's slot.
func (q *Queue) SlotMessage(ch Channel) (Notification, bool) {
	n, ok := q.slots[ch]
	return n, ok
}

// Stacked returns the floating messages in insertion order, including those
// still playing their exit transition.
func (q *Queue) Stacked() []Notification {
	out := make([]Notification, len(q.stack))
	copy(out, q.stack)
	return out
}

// StackVisible reports whether the stack container should be shown.
func (q *Queue) StackVisible() bool {
	return len(q.stack) > 0
}
