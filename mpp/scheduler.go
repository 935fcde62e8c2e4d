package mpp

import (
	"time"

	cmtsync "github.com/celestiaorg/mppay/libs/sync"
	"github.com/celestiaorg/mppay/types"
)

// timeoutScheduler arms one deadline per aggregate.
type timeoutScheduler struct {
	mtx cmtsync.Mutex

	// timeout is how long after creation an aggregate is failed
	timeout time.Duration

	// timers is a lookup table of armed deadlines by payment hash. There can
	// only be one per hash; seq identifies the aggregate it belongs to.
	timers map[types.PaymentHash]*deadline

	closed bool
}

type deadline struct {
	seq   uint64
	timer *time.Timer
}

func newTimeoutScheduler(timeout time.Duration) *timeoutScheduler {
	return &timeoutScheduler{
		timeout: timeout,
		timers:  make(map[types.PaymentHash]*deadline),
	}
}

// Add arms the deadline for the aggregate (hash, seq). It returns false once
// the scheduler is closed. A deadline still armed for an older aggregate of
// the same hash is stopped.
func (s *timeoutScheduler) Add(hash types.PaymentHash, seq uint64, onTimeout func()) bool {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	if s.closed {
		return false
	}
	if prev, ok := s.timers[hash]; ok {
		prev.timer.Stop()
	}

	timer := time.AfterFunc(s.timeout, func() {
		s.mtx.Lock()
		if d, ok := s.timers[hash]; ok && d.seq == seq {
			delete(s.timers, hash)
		}
		s.mtx.Unlock()

		// the callback is responsible for checking whether the aggregate is
		// still open
		onTimeout()
	})

	s.timers[hash] = &deadline{seq: seq, timer: timer}
	return true
}

// Cancel stops the deadline for (hash, seq). Returns false if it already
// fired or belongs to another aggregate.
func (s *timeoutScheduler) Cancel(hash types.PaymentHash, seq uint64) bool {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	d, ok := s.timers[hash]
	if !ok || d.seq != seq {
		return false
	}
	delete(s.timers, hash)
	return d.timer.Stop()
}

func (s *timeoutScheduler) Has(hash types.PaymentHash) bool {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	_, ok := s.timers[hash]
	return ok
}

func (s *timeoutScheduler) Len() int {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	return len(s.timers)
}

// Close stops all timers. Add fails after Close.
func (s *timeoutScheduler) Close() {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	for hash, d := range s.timers {
		d.timer.Stop()
		delete(s.timers, hash)
	}
	s.closed = true
}
