package eventbus

import (
	"sync"
	"sync/atomic"
	"time"
)

// Event types published by the scheduler, monitor and escalation machine.
const (
	TaskFinished = "task.finished"
	TaskFailed   = "task.failed"
	TaskDelayed  = "task.delayed"

	HealthSampled    = "health.sampled"
	HealthHighUsage  = "health.high_usage"
	HealthSampleFail = "health.sample_failed"

	EscalationDistressed = "escalation.distressed"
	EscalationEmergency  = "escalation.emergency"
	EscalationRecovered  = "escalation.recovered"
	NotificationFailed   = "notification.failed"

	NotifierSent       = "notifier.sent"
	NotifierFailed     = "notifier.failed"
	NotifierSuppressed = "notifier.suppressed"
)

// Event is a lightweight, in-memory signal used to decouple components.
//
// Contract:
//   - Publish MUST be non-blocking.
//   - Subscribers MUST use buffered channels.
//   - Slow subscribers may drop events.
type Event struct {
	Type string
	Time time.Time
	Data any
}

type Bus interface {
	Publish(e Event)
	Subscribe(buffer int) (ch <-chan Event, unsubscribe func())
}

// Publish is a nil-safe helper for optional buses.
func Publish(b Bus, typ string, at time.Time, data any) {
	if b == nil {
		return
	}
	b.Publish(Event{Type: typ, Time: at, Data: data})
}

// New returns an in-memory fanout bus. It owns no goroutines.
func New() Bus {
	return &memBus{subs: map[uint64]chan Event{}}
}

type memBus struct {
	mu   sync.RWMutex
	subs map[uint64]chan Event
	seq  atomic.Uint64
}

func (b *memBus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

func (b *memBus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	ch := make(chan Event, buffer)
	id := b.seq.Add(1)

	b.mu.Lock()
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			// Holding the write lock guarantees no Publish is mid-send on ch.
			b.mu.Lock()
			delete(b.subs, id)
			close(ch)
			b.mu.Unlock()
		})
	}
	return ch, unsub
}
