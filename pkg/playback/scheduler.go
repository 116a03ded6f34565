package playback

import "time"

// Clock is the playback timebase. The engine only compares and adds
// durations relative to an opening instant, so any monotonic source works;
// tests substitute a manual clock.
type Clock interface {
	Now() time.Duration
}

type monotonicClock struct {
	start time.Time
}

// NewClock returns a monotonic clock starting at zero.
func NewClock() Clock {
	return &monotonicClock{start: time.Now()}
}

func (c *monotonicClock) Now() time.Duration {
	return time.Since(c.start)
}

// Scheduler tracks where the next audio buffer must begin for gapless
// playback: each buffer starts at max(next-free, now) and the next-free
// mark advances by the buffer's duration, so consecutive buffers neither
// gap nor overlap and the scheduled end never decreases.
type Scheduler struct {
	clock    Clock
	nextFree time.Duration
}

// NewScheduler creates a scheduler whose next-free mark starts at the
// clock's current time.
func NewScheduler(clock Clock) *Scheduler {
	return &Scheduler{clock: clock, nextFree: clock.Now()}
}

// Schedule reserves d of playback time and returns the buffer's start.
func (s *Scheduler) Schedule(d time.Duration) time.Duration {
	start := s.nextFree
	if now := s.clock.Now(); now > start {
		start = now
	}
	s.nextFree = start + d
	return start
}

// End returns the absolute time the last scheduled buffer finishes.
func (s *Scheduler) End() time.Duration {
	return s.nextFree
}
