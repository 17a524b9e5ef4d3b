package model

import "time"

// Clock is the single time source for the engine. Everything that compares
// "now" against auction timing takes a Clock so tests can pin time.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock in UTC.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }
