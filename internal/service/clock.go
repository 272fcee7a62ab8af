package service

import "time"

// Clock is the wall-clock source. Operations read it once and reuse the
// value for every timestamp they set.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// SystemClock returns the real UTC clock.
func SystemClock() Clock { return systemClock{} }
