package prayer

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrMalformedTime means a required time string did not match the
	// 12-hour "H:MM AM/PM" clock pattern.
	ErrMalformedTime = errors.New("malformed time")

	// ErrIncomplete means a required event is missing from the raw rows.
	ErrIncomplete = errors.New("incomplete schedule")

	// ErrOutOfOrder means start instants violate the canonical event order.
	// A corrupt ordering indicates an upstream markup change; the whole
	// table is rejected rather than risking misfired notifications.
	ErrOutOfOrder = errors.New("schedule out of order")
)

const clockLayout = "3:04 PM"

// ParseClock converts a 12-hour wall-clock string ("5:42 AM") into an instant
// anchored to day's calendar date in loc. Pure; no side effects.
func ParseClock(raw string, day time.Time, loc *time.Location) (time.Time, error) {
	s := strings.ToUpper(strings.TrimSpace(raw))
	t, err := time.Parse(clockLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q", ErrMalformedTime, raw)
	}
	y, m, d := day.In(loc).Date()
	return time.Date(y, m, d, t.Hour(), t.Minute(), 0, 0, loc), nil
}
