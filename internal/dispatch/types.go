package dispatch

import (
	"time"

	"structwatch/internal/transport"
)

// Config controls pacing and retries of outbound sends.
type Config struct {
	RatePerSec    int
	RetryMax      int
	RetryBase     time.Duration
	RetryMaxDelay time.Duration
	SendTimeout   time.Duration
	// RecentScan bounds how many recent messages are cleared from a rolling
	// target on channels that can list history. 0 disables the scan.
	RecentScan int
}

// Target is a logical destination. Rolling targets show a single live view:
// each new batch replaces the messages of the previous one.
type Target struct {
	Key     string
	To      transport.Target
	Rolling bool
}

// Event is published on the bus for every completed dispatch.
type Event struct {
	Target string    `json:"target"`
	Cards  int       `json:"cards,omitempty"`
	Sent   int       `json:"sent"`
	At     time.Time `json:"at"`
	Error  string    `json:"error,omitempty"`
}

const (
	EventSent   = "dispatch.sent"
	EventFailed = "dispatch.failed"
)

// item is a pending dispatch: either text or a card batch with optional leading text.
type item struct {
	target  Target
	cards   []transport.Card
	leading string
	text    string
}

func (it item) isText() bool { return it.cards == nil }
