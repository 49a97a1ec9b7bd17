package poller

import (
	"context"
	"errors"
	"time"

	"structwatch/internal/dispatch"
	"structwatch/internal/model"
	"structwatch/internal/transport"
)

// ErrEmptyFetch marks a structure poll that returned no structures. A
// corporation that owns structures never legitimately reports none, so the
// poll is treated as failed and the snapshot is left alone.
var ErrEmptyFetch = errors.New("structure fetch returned no structures")

// Config controls the poll loops and where their output goes.
type Config struct {
	FullInterval           time.Duration
	EventInterval          time.Duration
	CredentialWaitInterval time.Duration
	CredentialWaitAttempts int

	ListTarget  dispatch.Target
	AlertTarget dispatch.Target
	AlertPrefix string
}

func (c Config) withDefaults() Config {
	if c.FullInterval <= 0 {
		c.FullInterval = time.Minute
	}
	if c.EventInterval <= 0 {
		c.EventInterval = 5 * time.Minute
	}
	if c.CredentialWaitInterval <= 0 {
		c.CredentialWaitInterval = 2 * time.Second
	}
	return c
}

type StructureSource interface {
	Structures(ctx context.Context) ([]model.Structure, error)
}

type NotificationSource interface {
	Notifications(ctx context.Context) ([]model.Notification, error)
}

// Session gates polling on credentials and on the structure cache expiry.
type Session interface {
	WaitReady(ctx context.Context, interval time.Duration, attempts int) error
	NextAvailable() time.Time
}

type SnapshotStore interface {
	LoadSnapshot(ctx context.Context) (model.Snapshot, bool, error)
	SaveSnapshot(ctx context.Context, at time.Time, structures []model.Structure) error
}

// Tracker filters notifications down to the ones not alerted before.
type Tracker interface {
	Track(ctx context.Context, all []model.Notification) ([]model.Notification, error)
}

type Dispatcher interface {
	Enqueue(ctx context.Context, target dispatch.Target, cards []transport.Card, leading string) error
}

// Phase is the poller lifecycle: Uninitialized -> AwaitingCredentials -> Polling.
type Phase string

const (
	PhaseUninitialized       Phase = "uninitialized"
	PhaseAwaitingCredentials Phase = "awaiting_credentials"
	PhasePolling             Phase = "polling"
)

// Status is a point-in-time view of the poller.
type Status struct {
	Phase         Phase     `json:"phase"`
	Structures    int       `json:"structures"`
	LastFull      time.Time `json:"last_full,omitempty"`
	LastEvent     time.Time `json:"last_event,omitempty"`
	NextAvailable time.Time `json:"next_available,omitempty"`
	LastError     string    `json:"last_error,omitempty"`
	LastErrorAt   time.Time `json:"last_error_at,omitempty"`
}

// Bus event types published by the poller.
const (
	EventStructures    = "poll.structures"
	EventNotifications = "poll.notifications"
	EventFailed        = "poll.failed"
)

// StructuresPolled is published after every successful structure poll.
type StructuresPolled struct {
	At         time.Time
	Structures []model.Structure
	Alerts     int
}

// NotificationsPolled is published after every successful notification poll.
type NotificationsPolled struct {
	At      time.Time
	Fetched int
	Alerted int
}

// PollFailed is published when a poll is aborted.
type PollFailed struct {
	Kind  string
	Error string
}
