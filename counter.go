package main

import "sync/atomic"

// RequestCounter counts fully logged requests across all workers. It only
// ever goes up, and it is the only state the workers share.
type RequestCounter struct {
	n atomic.Int64
}

// Inc records one completed request and returns the new total.
func (c *RequestCounter) Inc() int64 {
	return c.n.Add(1)
}

func (c *RequestCounter) Load() int64 {
	return c.n.Load()
}
