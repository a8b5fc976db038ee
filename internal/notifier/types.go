package notifier

import (
	"context"
	"time"

	"vigil/internal/escalation"
)

// Channel is one delivery target.
type Channel interface {
	Name() string
	Deliver(ctx context.Context, r escalation.Report) error
}

type Config struct {
	Enabled bool

	// MinInterval and Burst form the episode token bucket.
	MinInterval time.Duration
	Burst       int

	// Timeout bounds each channel delivery.
	Timeout time.Duration

	DedupMaxEntries int
}

type HistoryItem struct {
	At        time.Time `json:"at"`
	EpisodeID string    `json:"episode_id"`
	Channel   string    `json:"channel"`
	Error     string    `json:"error,omitempty"`
}

// NotificationEvent is published on the event bus per channel attempt.
type NotificationEvent struct {
	Channel   string    `json:"channel"`
	EpisodeID string    `json:"episode_id"`
	At        time.Time `json:"at"`
	Error     string    `json:"error,omitempty"`
}
