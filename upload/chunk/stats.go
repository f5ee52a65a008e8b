package chunk

import (
	"sync"
	"time"
)

// Stats aggregates the timings and volume of acknowledged chunks, for
// progress logging while a recording is still being uploaded.
type Stats struct {
	duration time.Duration
	bytes    int64
	chunks   int64
	mu       sync.Mutex
}

// NewStats creates an empty Stats instance.
func NewStats() *Stats {
	return &Stats{}
}

// Update records one acknowledged chunk of the given size.
func (s *Stats) Update(took time.Duration, size int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.duration += took
	s.bytes += size
	s.chunks++
}

// Average returns the average upload duration of acknowledged chunks.
func (s *Stats) Average() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.chunks == 0 {
		return 0
	}
	return s.duration / time.Duration(s.chunks)
}

// Rate returns the overall upload throughput in bytes per second.
func (s *Stats) Rate() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.duration <= 0 {
		return 0
	}
	return float64(s.bytes) / s.duration.Seconds()
}

// UploadedBytes returns the total size of acknowledged chunks.
func (s *Stats) UploadedBytes() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bytes
}

// FinishedCount returns the number of acknowledged chunks.
func (s *Stats) FinishedCount() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.chunks
}
