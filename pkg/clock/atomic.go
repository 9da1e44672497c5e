package clock

import (
	"sync/atomic"
	"time"

	"lsmkv/pkg/types"
)

// AtomicClock hands out strictly increasing microsecond timestamps.
// It follows the wall clock and only steps ahead of it when two calls
// land in the same microsecond.
type AtomicClock struct {
	atomic.Int64

	wall func() time.Time
}

func NewAtomic(init types.Timestamp) *AtomicClock {
	ac := AtomicClock{wall: time.Now}
	ac.Set(init)
	return &ac
}

func (ac *AtomicClock) Val() types.Timestamp {
	return ac.Load()
}

func (ac *AtomicClock) Next() types.Timestamp {
	for {
		last := ac.Load()
		now := ac.wall().UnixMicro()
		if now <= last {
			now = last + 1
		}
		if ac.CompareAndSwap(last, now) {
			return now
		}
	}
}

// Set moves the clock forward to t. It never moves it back.
func (ac *AtomicClock) Set(t types.Timestamp) {
	for {
		last := ac.Load()
		if t <= last || ac.CompareAndSwap(last, t) {
			return
		}
	}
}
