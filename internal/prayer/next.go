package prayer

import "time"

// nextWindow bounds how far ahead Next will look. It guards against a table
// whose instants belong to a wrong date selecting a stale event.
const nextWindow = 24 * time.Hour

// Next returns the first notifiable event whose start is strictly after now
// and within the next 24 hours. ok is false when nothing remains today (now
// is past the Isha start); the caller decides how to roll over to tomorrow.
//
// Events are scanned in canonical order, so two events with equal start
// instants (malformed data) resolve to the earlier-declared one.
func Next(now time.Time, t Table) (Event, bool) {
	limit := now.Add(nextWindow)
	for _, name := range Order {
		if !name.Notifiable() {
			continue
		}
		e, ok := t.Get(name)
		if !ok {
			continue
		}
		if e.Start.After(now) && e.Start.Before(limit) {
			return e, true
		}
	}
	return Event{}, false
}
