package escalation

import "time"

// Clock abstracts time so escalation deadlines can be driven
// deterministically in tests.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func NewRealClock() Clock { return realClock{} }
