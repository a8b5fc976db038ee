package ledger

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"
)

const DefaultMaxRecords = 1000

var (
	ErrClosed           = errors.New("ledger closed")
	ErrUnknownDriver    = errors.New("unknown ledger driver")
	ErrInvalidComponent = errors.New("invalid ledger component")
)

// Well-known components.
const (
	ComponentCognitive = "cognitive"
	ComponentEmergency = "emergency"
	ComponentTasks     = "tasks"
)

// Record is one activity entry.
type Record struct {
	Time        time.Time      `json:"time"`
	Description string         `json:"description"`
	Context     map[string]any `json:"context,omitempty"`
}

// Config configures the ledger.
//
// Driver values: "file" (default), "sqlite", "memory".
type Config struct {
	Driver      string
	Path        string // directory for "file", database file for "sqlite"
	MaxRecords  int    // per component; 0 means DefaultMaxRecords
	BusyTimeout time.Duration
}

// Store is the persistence API behind the ledger.
type Store interface {
	Append(ctx context.Context, component string, r Record) error
	// Records returns up to limit most recent records in append order.
	// limit <= 0 returns everything retained.
	Records(ctx context.Context, component string, limit int) ([]Record, error)
	Components(ctx context.Context) ([]string, error)
	Close() error
}

var reComponent = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]{0,63}$`)

func validComponent(c string) error {
	if !reComponent.MatchString(c) {
		return fmt.Errorf("%w: %q", ErrInvalidComponent, c)
	}
	return nil
}

func tail(recs []Record, limit int) []Record {
	if limit > 0 && len(recs) > limit {
		return recs[len(recs)-limit:]
	}
	return recs
}
