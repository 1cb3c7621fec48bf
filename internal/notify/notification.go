package notify

import "time"

// Severity classifies how a notification is rendered.
type Severity int

const (
	SeverityInfo Severity = iota
	SeveritySuccess
	SeverityError
)

func (s Severity) String() string {
	switch s {
	case SeveritySuccess:
		return "success"
	case SeverityError:
		return "error"
	default:
		return "info"
	}
}

// Mode selects the delivery model.
type Mode int

const (
	// ModeSlot overwrites the single region owned by the notification's channel.
	ModeSlot Mode = iota
	// ModeStack adds an independently timed floating message.
	ModeStack
)

// Channel names a logical status region.
type Channel string

const (
	ChannelOAuth  Channel = "oauth"
	ChannelTokens Channel = "tokens"
)

const (
	// DefaultDuration is how long a message stays up when the producer gives no duration.
	DefaultDuration = 5 * time.Second
	// ExitDuration is the length of the removal transition for stacked messages.
	ExitDuration = 300 * time.Millisecond
)

// Notification is a single status message.
type Notification struct {
	ID        string
	Channel   Channel
	Mode      Mode
	Text      string
	Severity  Severity
	CreatedAt time.Time
	Duration  time.Duration
	// Sticky slot messages are never auto-hidden. Ignored for the stack.
	Sticky bool
	// Removing is set while a stacked message plays its exit transition.
	Removing bool
}
