package broadcast

import (
	"sync"
	"sync/atomic"
	"time"

	"clipstream/presence/internal/logging"
	"clipstream/presence/internal/message"
	"clipstream/presence/internal/presence"
)

// Audience is the delivery side of a flush. The public payload goes to every
// session, the admin payload only to admin sessions.
type Audience interface {
	BroadcastPublic(payload []byte)
	BroadcastAdmin(payload []byte)
}

// SummarySource exposes the registry reads a flush needs.
type SummarySource interface {
	Snapshot() map[string]any
	OnlineSummary() ([]presence.UserSummary, []presence.DeviceDetail)
}

// Scheduler drains the staged queue on a fixed interval and refreshes the
// cached presence summary on a slower one. Summaries require a full registry
// scan, so flushes reuse the cache instead of recomputing per tick.
type Scheduler struct {
	queue    *Queue
	enricher *message.Enricher
	audience Audience
	source   SummarySource
	mem      message.MemoryProvider
	log      *logging.Logger

	flushInterval   time.Duration
	summaryInterval time.Duration
	now             func() time.Time

	// flushing is the reentrancy guard: a tick that fires while a prior
	// flush is still delivering must be a no-op, not a second flush.
	flushing atomic.Bool

	cacheMu  sync.RWMutex
	snapshot map[string]any
	users    []presence.UserSummary
	detail   []presence.DeviceDetail
	memHuman string

	stopCh   chan struct{}
	doneCh   chan struct{}
	stopOnce sync.Once
}

// SchedulerOption adjusts scheduler construction.
type SchedulerOption func(*Scheduler)

// WithClock overrides the scheduler's time source.
func WithClock(clock func() time.Time) SchedulerOption {
	return func(s *Scheduler) {
		if clock != nil {
			s.now = clock
		}
	}
}

// NewScheduler wires the scheduler to its queue, registry reads and audience.
// Call Start to run the timers; Flush and RefreshSummary also work standalone.
func NewScheduler(queue *Queue, enricher *message.Enricher, audience Audience, source SummarySource, mem message.MemoryProvider, flushInterval, summaryInterval time.Duration, log *logging.Logger, opts ...SchedulerOption) *Scheduler {
	if log == nil {
		log = logging.L()
	}
	s := &Scheduler{
		queue:           queue,
		enricher:        enricher,
		audience:        audience,
		source:          source,
		mem:             mem,
		log:             log,
		flushInterval:   flushInterval,
		summaryInterval: summaryInterval,
		now:             time.Now,
		memHuman:        "unknown",
		stopCh:          make(chan struct{}),
		doneCh:          make(chan struct{}),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	s.RefreshSummary()
	return s
}

// Start runs the flush and summary timers until Close is called.
func (s *Scheduler) Start() {
	if s == nil {
		return
	}
	go s.loop()
}

func (s *Scheduler) loop() {
	flush := time.NewTicker(s.flushInterval)
	defer flush.Stop()
	summary := time.NewTicker(s.summaryInterval)
	defer summary.Stop()
	defer close(s.doneCh)
	for {
		select {
		case <-flush.C:
			s.Flush()
		case <-summary.C:
			s.RefreshSummary()
		case <-s.stopCh:
			s.Flush()
			return
		}
	}
}

// Close stops the timers after a final flush and waits for the loop to exit.
func (s *Scheduler) Close() {
	if s == nil {
		return
	}
	s.stopOnce.Do(func() { close(s.stopCh) })
	<-s.doneCh
}

// Flush drains the staged queue and delivers one batch to the audience. It
// reports whether a batch went out: an empty queue or an overlapping flush is
// a no-op.
func (s *Scheduler) Flush() bool {
	if s == nil || s.queue.Len() == 0 {
		return false
	}
	if !s.flushing.CompareAndSwap(false, true) {
		return false
	}
	defer s.flushing.Store(false)

	drained := s.queue.Drain()
	if len(drained) == 0 {
		return false
	}

	s.cacheMu.RLock()
	input := message.BatchInput{
		Messages:  drained,
		Timestamp: s.now(),
		Snapshot:  s.snapshot,
		Users:     s.users,
		Detail:    s.detail,
		MemHuman:  s.memHuman,
	}
	s.cacheMu.RUnlock()

	public, err := s.enricher.Batch(input, false)
	if err != nil {
		s.log.Error("render public batch", logging.Error(err))
		return false
	}
	admin, err := s.enricher.Batch(input, true)
	if err != nil {
		s.log.Error("render admin batch", logging.Error(err))
		return false
	}
	s.audience.BroadcastPublic(public)
	s.audience.BroadcastAdmin(admin)
	s.log.Debug("flushed broadcast batch",
		logging.Int("messages", len(drained)),
		logging.Uint64("dropped_total", s.queue.Dropped()))
	return true
}

// RefreshSummary recomputes the cached presence snapshot, per-user summary,
// per-device detail and memory reading.
func (s *Scheduler) RefreshSummary() {
	if s == nil || s.source == nil {
		return
	}
	snapshot := s.source.Snapshot()
	users, detail := s.source.OnlineSummary()
	memHuman := "unknown"
	if s.mem != nil {
		memHuman = s.mem.Human()
	}
	s.cacheMu.Lock()
	s.snapshot = snapshot
	s.users = users
	s.detail = detail
	s.memHuman = memHuman
	s.cacheMu.Unlock()
}

// CachedSnapshot returns the last refreshed counter snapshot.
func (s *Scheduler) CachedSnapshot() map[string]any {
	if s == nil {
		return nil
	}
	s.cacheMu.RLock()
	defer s.cacheMu.RUnlock()
	out := make(map[string]any, len(s.snapshot))
	for k, v := range s.snapshot {
		out[k] = v
	}
	return out
}

// CachedDetail returns the last refreshed per-device detail map.
func (s *Scheduler) CachedDetail() []presence.DeviceDetail {
	if s == nil {
		return nil
	}
	s.cacheMu.RLock()
	defer s.cacheMu.RUnlock()
	return append([]presence.DeviceDetail(nil), s.detail...)
}

// CachedMemHuman returns the last refreshed memory reading.
func (s *Scheduler) CachedMemHuman() string {
	if s == nil {
		return "unknown"
	}
	s.cacheMu.RLock()
	defer s.cacheMu.RUnlock()
	return s.memHuman
}
