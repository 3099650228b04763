package api

import (
	"sync/atomic"
	"time"
)

// eventClock hands out unix-nano timestamps that never repeat or go
// backwards within the process. The zero value reads the wall clock.
type eventClock struct {
	last atomic.Int64
	now  func() time.Time
}

func (c *eventClock) next() int64 {
	wall := time.Now
	if c.now != nil {
		wall = c.now
	}
	for {
		prev := c.last.Load()
		ts := max(wall().UnixNano(), prev+1)
		if c.last.CompareAndSwap(prev, ts) {
			return ts
		}
	}
}
