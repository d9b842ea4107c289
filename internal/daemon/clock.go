package daemon

import "time"

// Clock is the injectable time source for internal/runtime.Engine.Now
// and the IPC handler's StartedAt. The supervisor's idle-grace and
// activity timing read the wall clock directly and do not use it.
type Clock interface {
	Now() time.Time
}

// systemClock is the default Clock, backed by time.Now.
type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock is the Clock every production daemon uses.
var SystemClock Clock = systemClock{}
