package buffer

import "sync/atomic"

// Statistics counts buffer activity. It is safe for concurrent use.
type Statistics struct {
	writes atomic.Int64
	reads  atomic.Int64
	drops  atomic.Int64
	size   atomic.Int64
	peak   atomic.Int64
}

func newStatistics() *Statistics { return &Statistics{} }

func (s *Statistics) wrote(size int) {
	s.writes.Add(1)
	s.resize(int64(size))
}

func (s *Statistics) read(n, size int) {
	s.reads.Add(int64(n))
	s.resize(int64(size))
}

func (s *Statistics) resize(size int64) {
	s.size.Store(size)
	for {
		peak := s.peak.Load()
		if size <= peak || s.peak.CompareAndSwap(peak, size) {
			return
		}
	}
}

// Writes counts accepted items.
func (s *Statistics) Writes() int64 { return s.writes.Load() }

// Reads counts drained items.
func (s *Statistics) Reads() int64 { return s.reads.Load() }

// Drops counts items lost to the overflow policy.
func (s *Statistics) Drops() int64 { return s.drops.Load() }

// Peak is the largest size the buffer has reached.
func (s *Statistics) Peak() int64 { return s.peak.Load() }
