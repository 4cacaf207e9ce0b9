package prayer

import (
	"fmt"
	"time"
)

// Remaining renders a duration as "H hour(s) and M min(s)", dropping the
// hour clause when zero and the "and" when either side is zero. Any leftover
// seconds round the minute up.
func Remaining(d time.Duration) string {
	total := int(d.Seconds())
	if total < 0 {
		total = 0
	}
	if total%60 > 0 {
		total += 60
	}

	hours := total / 3600
	mins := (total % 3600) / 60

	switch {
	case hours > 0 && mins > 0:
		return fmt.Sprintf("%s and %s", plural(hours, "hour"), plural(mins, "min"))
	case hours > 0:
		return plural(hours, "hour")
	default:
		return plural(mins, "min")
	}
}

func plural(n int, unit string) string {
	if n == 1 {
		return fmt.Sprintf("1 %s", unit)
	}
	return fmt.Sprintf("%d %ss", n, unit)
}
