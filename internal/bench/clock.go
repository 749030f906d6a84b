package bench

import "time"

// Clock is the time source used to measure configurations. Now returns
// seconds as a float and must be monotonic.
type Clock interface {
	Now() float64
}

// WallClock reads the monotonic clock relative to its construction.
type WallClock struct {
	origin time.Time
}

// NewWallClock returns a WallClock starting at zero.
func NewWallClock() *WallClock {
	return &WallClock{origin: time.Now()}
}

// Now returns the seconds elapsed since the clock was created.
func (c *WallClock) Now() float64 {
	return time.Since(c.origin).Seconds()
}
