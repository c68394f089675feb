package gc

import (
	"sync"
	"sync/atomic"
	"time"
)

// ---------------------------------------------------------------------------
// SliceScheduler: background driver for incremental collection
// ---------------------------------------------------------------------------

// SchedulerStats records one tick of a SliceScheduler.
type SchedulerStats struct {
	MinorGC   bool
	Slice     bool
	Started   bool
	Finished  bool
	Duration  time.Duration
	Timestamp time.Time
}

// SliceScheduler periodically does due collection work on a runtime: minor
// GCs when the nursery is full, slices of a running cycle, and new cycles
// when a memory trigger fires. Every tick holds the runtime's exclusive
// access lock, so mutators must take the same lock.
type SliceScheduler struct {
	rt       *Runtime
	interval time.Duration
	enabled  atomic.Bool
	stop     chan struct{}
	stopped  chan struct{}
	mu       sync.Mutex // protects start/stop lifecycle

	ticks     atomic.Uint64
	slices    atomic.Uint64
	lastStats atomic.Pointer[SchedulerStats]
}

// DefaultSliceInterval is used when the runtime config has no interval.
const DefaultSliceInterval = 10 * time.Millisecond

// NewSliceScheduler creates a stopped scheduler for rt ticking at the
// configured SliceInterval.
func NewSliceScheduler(rt *Runtime) *SliceScheduler {
	interval := rt.cfg.SliceInterval
	if interval <= 0 {
		interval = DefaultSliceInterval
	}
	s := &SliceScheduler{rt: rt, interval: interval}
	s.enabled.Store(true)
	return s
}

// Start begins the background loop. Calling Start on a running scheduler
// does nothing.
func (s *SliceScheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stop != nil {
		return
	}
	s.stop = make(chan struct{})
	s.stopped = make(chan struct{})

	stopCh, stoppedCh := s.stop, s.stopped
	go s.loop(stopCh, stoppedCh)
}

// Stop halts the loop and waits for it to exit. It is safe to call on a
// scheduler that was never started.
func (s *SliceScheduler) Stop() {
	s.mu.Lock()
	stopCh, stoppedCh := s.stop, s.stopped
	s.stop, s.stopped = nil, nil
	s.mu.Unlock()

	if stopCh != nil {
		close(stopCh)
		<-stoppedCh
	}
}

// SetEnabled pauses or resumes collection work without stopping the loop.
func (s *SliceScheduler) SetEnabled(enabled bool) { s.enabled.Store(enabled) }

func (s *SliceScheduler) IsEnabled() bool         { return s.enabled.Load() }
func (s *SliceScheduler) Interval() time.Duration { return s.interval }
func (s *SliceScheduler) Ticks() uint64           { return s.ticks.Load() }
func (s *SliceScheduler) Slices() uint64          { return s.slices.Load() }

// LastStats returns the most recent tick's stats, or nil before the first.
func (s *SliceScheduler) LastStats() *SchedulerStats { return s.lastStats.Load() }

// SliceNow runs one tick immediately regardless of the timer.
func (s *SliceScheduler) SliceNow() *SchedulerStats {
	var stats *SchedulerStats
	s.rt.WithExclusiveAccess(func() { stats = s.tick() })
	return stats
}

func (s *SliceScheduler) loop(stopCh <-chan struct{}, stoppedCh chan struct{}) {
	defer close(stoppedCh)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			if s.enabled.Load() {
				s.SliceNow()
			}
		}
	}
}

func (s *SliceScheduler) tick() *SchedulerStats {
	rt := s.rt
	start := time.Now()
	stats := &SchedulerStats{Timestamp: start}

	if !rt.busy {
		if rt.minorRequested && !rt.IsIncrementalGCInProgress() {
			rt.MinorGC("nursery full")
			stats.MinorGC = true
		}
		if !rt.IsIncrementalGCInProgress() && rt.majorRequested.Load() {
			stats.Started = rt.StartGC("", false)
		}
		if rt.IsIncrementalGCInProgress() {
			stats.Slice = true
			stats.Finished = rt.Slice(rt.cfg.SliceBudget)
			s.slices.Add(1)
		}
	}

	stats.Duration = time.Since(start)
	s.ticks.Add(1)
	s.lastStats.Store(stats)
	return stats
}
