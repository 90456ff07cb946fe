package server

import "sync/atomic"

// Clock is a monotonic logical clock for event ordering.
//
// Every applied request and lifecycle change is stamped with a strictly
// increasing sequence number. Wall-clock time never orders events, so a
// journal replays in exactly the order the server applied it.
type Clock struct {
	seq atomic.Int64
}

// NewClock creates a clock starting at 0.
func NewClock() *Clock {
	return &Clock{}
}

// NewClockAt creates a clock whose next value is start+1.
func NewClockAt(start int64) *Clock {
	c := &Clock{}
	c.seq.Store(start)
	return c
}

// Next increments the clock and returns the new value.
func (c *Clock) Next() int64 {
	return c.seq.Add(1)
}

// Current returns the last value handed out.
func (c *Clock) Current() int64 {
	return c.seq.Load()
}
