package schedule

import "prayerbot/internal/prayer"

// Firing is the immutable payload handed to the dispatcher when a pending
// timer reaches its instant.
type Firing struct {
	Event prayer.Event
	Day   string
}

// Dispatcher receives fired events. Implementations must not block for long;
// the scheduler calls Dispatch outside its lock but from the timer goroutine.
type Dispatcher interface {
	Dispatch(f Firing)
}

// DispatchFunc adapts a plain function to the Dispatcher interface.
type DispatchFunc func(f Firing)

func (fn DispatchFunc) Dispatch(f Firing) { fn(f) }
