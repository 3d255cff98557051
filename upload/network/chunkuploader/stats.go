package chunkuploader

import (
	"sync"
	"time"
)

// Stats aggregates per-chunk transfer timings for debug reporting.
type Stats struct {
	mu        sync.Mutex
	durations []time.Duration
}

// NewStats ...
func NewStats() *Stats {
	return &Stats{}
}

// Record stores the duration of one settled chunk transfer.
func (s *Stats) Record(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.durations = append(s.durations, d)
}

// FinishedCount returns the number of settled chunk transfers.
func (s *Stats) FinishedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.durations)
}

// TotalDuration returns the summed transfer time across all chunks. Chunks of
// a wave overlap, so this exceeds the wall-clock time of the session.
func (s *Stats) TotalDuration() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.total()
}

// Average returns the mean chunk transfer duration.
func (s *Stats) Average() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.durations) == 0 {
		return 0
	}
	return s.total() / time.Duration(len(s.durations))
}

// Slowest returns the longest chunk transfer duration.
func (s *Stats) Slowest() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()

	var slowest time.Duration
	for _, d := range s.durations {
		if d > slowest {
			slowest = d
		}
	}
	return slowest
}

func (s *Stats) total() time.Duration {
	var sum time.Duration
	for _, d := range s.durations {
		sum += d
	}
	return sum
}
