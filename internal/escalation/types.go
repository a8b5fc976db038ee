package escalation

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// State is the escalation mode of the process.
type State int

const (
	Normal State = iota
	Distressed
	Emergency
)

func (s State) String() string {
	switch s {
	case Normal:
		return "normal"
	case Distressed:
		return "distressed"
	case Emergency:
		return "emergency"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *State) UnmarshalText(b []byte) error {
	switch strings.ToLower(string(b)) {
	case "normal":
		*s = Normal
	case "distressed":
		*s = Distressed
	case "emergency":
		*s = Emergency
	default:
		return fmt.Errorf("unknown escalation state %q", b)
	}
	return nil
}

// Thresholds are the trigger limits evaluated while Normal.
type Thresholds struct {
	CPUCritical         float64       `json:"cpu_critical"`
	MemoryCritical      float64       `json:"memory_critical"`
	ResponseTimeout     time.Duration `json:"response_timeout"`
	StuckTimeout        time.Duration `json:"stuck_timeout"` // <0 disables
	ErrorCountThreshold int           `json:"error_count_threshold"`
}

func DefaultThresholds() Thresholds {
	return Thresholds{
		CPUCritical:         95,
		MemoryCritical:      95,
		ResponseTimeout:     300 * time.Second,
		StuckTimeout:        600 * time.Second,
		ErrorCountThreshold: 10,
	}
}

type Config struct {
	Baseline Thresholds

	// TightenedCPU/TightenedMemory replace the baseline limits while in emergency.
	TightenedCPU    float64
	TightenedMemory float64

	// RecoverAbove is the score that must be exceeded to leave emergency.
	RecoverAbove float64

	ErrorWindow   time.Duration
	NotifyTimeout time.Duration
	Host          string
}

func DefaultConfig() Config {
	return Config{
		Baseline:        DefaultThresholds(),
		TightenedCPU:    70,
		TightenedMemory: 70,
		RecoverAbove:    80,
		ErrorWindow:     60 * time.Second,
		NotifyTimeout:   30 * time.Second,
	}
}

// withDefaults fills zero values from DefaultConfig.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Baseline.CPUCritical <= 0 {
		c.Baseline.CPUCritical = d.Baseline.CPUCritical
	}
	if c.Baseline.MemoryCritical <= 0 {
		c.Baseline.MemoryCritical = d.Baseline.MemoryCritical
	}
	if c.Baseline.ResponseTimeout <= 0 {
		c.Baseline.ResponseTimeout = d.Baseline.ResponseTimeout
	}
	if c.Baseline.StuckTimeout == 0 {
		c.Baseline.StuckTimeout = d.Baseline.StuckTimeout
	}
	if c.Baseline.ErrorCountThreshold <= 0 {
		c.Baseline.ErrorCountThreshold = d.Baseline.ErrorCountThreshold
	}
	if c.TightenedCPU <= 0 {
		c.TightenedCPU = d.TightenedCPU
	}
	if c.TightenedMemory <= 0 {
		c.TightenedMemory = d.TightenedMemory
	}
	if c.RecoverAbove <= 0 {
		c.RecoverAbove = d.RecoverAbove
	}
	if c.ErrorWindow <= 0 {
		c.ErrorWindow = d.ErrorWindow
	}
	if c.NotifyTimeout <= 0 {
		c.NotifyTimeout = d.NotifyTimeout
	}
	return c
}

// Observation is one health cycle as seen by the machine.
type Observation struct {
	Time          time.Time
	CPUPercent    float64
	MemoryPercent float64
	LastActivity  time.Time
	SinceActivity time.Duration
	Score         float64
}

type Distress struct {
	Time   time.Time `json:"time"`
	Reason string    `json:"reason"`
}

// Transition is published on the event bus for every state change.
type Transition struct {
	EpisodeID string    `json:"episode_id"`
	From      State     `json:"from"`
	To        State     `json:"to"`
	Time      time.Time `json:"time"`
	Reason    string    `json:"reason"`
	Score     float64   `json:"score"`
}

// Notifier delivers an emergency report. It reports whether delivery succeeded;
// failures are never retried by the machine.
type Notifier interface {
	Send(ctx context.Context, r Report) bool
}

type NotifierFunc func(ctx context.Context, r Report) bool

func (f NotifierFunc) Send(ctx context.Context, r Report) bool { return f(ctx, r) }

// Status is a point-in-time copy of the machine.
type Status struct {
	State           State      `json:"state"`
	Label           string     `json:"label"`
	EpisodeID       string     `json:"episode_id,omitempty"`
	Thresholds      Thresholds `json:"thresholds"`
	LastDistress    *Distress  `json:"last_distress,omitempty"`
	LastStateChange time.Time  `json:"last_state_change"`
	LastScore       float64    `json:"last_score"`
	ErrorCount      int        `json:"error_count"`
	RecentErrors    []string   `json:"recent_errors,omitempty"`
	Notifications   uint64     `json:"notifications"`
}
