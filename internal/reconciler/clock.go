package reconciler

import "time"

// Clock abstracts wall-clock reads so tests can drive the tick phases
// deterministically.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now().UTC() }

// RealClock returns the system clock in UTC.
func RealClock() Clock { return realClock{} }
