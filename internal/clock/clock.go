package clock

import "time"

// Clock abstracts time.Now so batch jobs stay deterministic under test.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time {
	return time.Now().UTC()
}

// NewSystemClock returns the wall clock, normalized to UTC.
func NewSystemClock() Clock {
	return systemClock{}
}
