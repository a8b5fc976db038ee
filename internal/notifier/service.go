package notifier

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"vigil/internal/escalation"
	"vigil/internal/eventbus"
	logx "vigil/pkg/logx"
)

var ErrNoChannels = errors.New("no notification channels configured")

// Service fans reports out to channels. It is safe for concurrent use.
type Service struct {
	log      logx.Logger
	bus      eventbus.Bus
	channels []Channel

	mu      sync.Mutex
	cfg     Config
	limiter *rate.Limiter

	// episode id -> first delivery time
	dmu   sync.Mutex
	dedup map[string]time.Time

	hmu     sync.Mutex
	history []HistoryItem
}

func New(cfg Config, log logx.Logger, bus eventbus.Bus, channels ...Channel) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{log: log, bus: bus, dedup: map[string]time.Time{}}
	for _, ch := range channels {
		if ch != nil {
			s.channels = append(s.channels, ch)
		}
	}
	s.applyLocked(cfg)
	return s
}

func (s *Service) applyLocked(cfg Config) {
	if cfg.MinInterval <= 0 {
		cfg.MinInterval = 10 * time.Minute
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 3
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.DedupMaxEntries <= 0 {
		cfg.DedupMaxEntries = 256
	}
	s.cfg = cfg
	s.limiter = rate.NewLimiter(rate.Every(cfg.MinInterval), cfg.Burst)
}

// Channels returns the configured channel names.
func (s *Service) Channels() []string {
	out := make([]string, 0, len(s.channels))
	for _, ch := range s.channels {
		out = append(out, ch.Name())
	}
	return out
}

// Send delivers r to every channel concurrently and reports whether at least
// one succeeded. A report for an already delivered episode returns true
// without sending again.
func (s *Service) Send(ctx context.Context, r escalation.Report) bool {
	s.mu.Lock()
	cfg := s.cfg
	lim := s.limiter
	s.mu.Unlock()

	if !cfg.Enabled {
		s.log.Debug("notification skipped; notifier disabled", logx.String("episode", r.EpisodeID))
		return false
	}
	if len(s.channels) == 0 {
		s.log.Warn("notification dropped", logx.Err(ErrNoChannels))
		return false
	}
	if s.seen(r.EpisodeID) {
		return true
	}
	if !lim.Allow() {
		s.log.Warn("notification suppressed by rate limit", logx.String("episode", r.EpisodeID), logx.Duration("min_interval", cfg.MinInterval))
		s.forget(r.EpisodeID)
		eventbus.Publish(s.bus, eventbus.NotifierSuppressed, time.Now(), NotificationEvent{EpisodeID: r.EpisodeID, At: time.Now()})
		return false
	}

	type result struct {
		channel string
		err     error
	}
	results := make(chan result, len(s.channels))
	var wg sync.WaitGroup
	for _, ch := range s.channels {
		ch := ch
		wg.Add(1)
		go func() {
			defer wg.Done()
			cctx, cancel := context.WithTimeout(ctx, cfg.Timeout)
			defer cancel()
			results <- result{channel: ch.Name(), err: deliver(cctx, ch, r)}
		}()
	}
	wg.Wait()
	close(results)

	delivered := false
	for res := range results {
		now := time.Now()
		ev := NotificationEvent{Channel: res.channel, EpisodeID: r.EpisodeID, At: now}
		item := HistoryItem{At: now, EpisodeID: r.EpisodeID, Channel: res.channel}
		if res.err != nil {
			ev.Error = res.err.Error()
			item.Error = ev.Error
			s.log.Warn("notify channel failed", logx.String("channel", res.channel), logx.String("episode", r.EpisodeID), logx.Err(res.err))
			eventbus.Publish(s.bus, eventbus.NotifierFailed, now, ev)
		} else {
			delivered = true
			s.log.Info("notify channel delivered", logx.String("channel", res.channel), logx.String("episode", r.EpisodeID))
			eventbus.Publish(s.bus, eventbus.NotifierSent, now, ev)
		}
		s.appendHistory(item)
	}
	if !delivered {
		s.forget(r.EpisodeID)
	}
	return delivered
}

func deliver(ctx context.Context, ch Channel, r escalation.Report) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic: %v", rec)
		}
	}()
	return ch.Deliver(ctx, r)
}

// seen marks id as delivered and reports whether it already was.
func (s *Service) seen(id string) bool {
	if id == "" {
		return false
	}
	now := time.Now()
	s.dmu.Lock()
	defer s.dmu.Unlock()
	if _, ok := s.dedup[id]; ok {
		return true
	}
	s.dedup[id] = now
	for len(s.dedup) > s.cfg.DedupMaxEntries {
		var (
			oldKey string
			oldT   time.Time
		)
		for k, t := range s.dedup {
			if oldKey == "" || t.Before(oldT) {
				oldKey, oldT = k, t
			}
		}
		delete(s.dedup, oldKey)
	}
	return false
}

func (s *Service) forget(id string) {
	s.dmu.Lock()
	delete(s.dedup, id)
	s.dmu.Unlock()
}

func (s *Service) History() []HistoryItem {
	s.hmu.Lock()
	out := append([]HistoryItem(nil), s.history...)
	s.hmu.Unlock()
	return out
}

func (s *Service) appendHistory(it HistoryItem) {
	s.hmu.Lock()
	s.history = append(s.history, it)
	if len(s.history) > 300 {
		s.history = s.history[len(s.history)-300:]
	}
	s.hmu.Unlock()
}
