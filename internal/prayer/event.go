package prayer

import (
	"strings"
	"time"
)

// Name identifies one of the canonical daily events.
type Name string

const (
	Fajr    Name = "Fajr"
	Sunrise Name = "Sunrise"
	Dhuhr   Name = "Dhuhr"
	Asr     Name = "Asr"
	Maghrib Name = "Maghrib"
	Isha    Name = "Isha"
)

// Order is the canonical event order within one day.
var Order = []Name{Fajr, Sunrise, Dhuhr, Asr, Maghrib, Isha}

// Required lists the events a table must contain to be valid.
// Sunrise is informational and may be missing from the source.
var Required = []Name{Fajr, Dhuhr, Asr, Maghrib, Isha}

var icons = map[Name]string{
	Fajr:    "🌄",
	Sunrise: "🌅",
	Dhuhr:   "🌞",
	Asr:     "🌤",
	Maghrib: "🌇",
	Isha:    "🌙",
}

const defaultIcon = "🕌"

// Icon returns the display icon for the event.
func (n Name) Icon() string {
	if ic, ok := icons[n]; ok {
		return ic
	}
	return defaultIcon
}

// Notifiable reports whether the event triggers subscriber notifications.
// Sunrise never notifies.
func (n Name) Notifiable() bool { return n != Sunrise }

// JamaatAllowed reports whether the event may carry a congregation time.
// Sunrise and Maghrib never do.
func (n Name) JamaatAllowed() bool { return n != Sunrise && n != Maghrib }

// Canonical maps a raw, case-insensitive name onto the canonical set.
func Canonical(raw string) (Name, bool) {
	raw = strings.TrimSpace(raw)
	for _, n := range Order {
		if strings.EqualFold(string(n), raw) {
			return n, true
		}
	}
	return "", false
}

// Event is one prayer occurrence for one calendar date. Jamaat is the zero
// time when the congregation time is absent.
type Event struct {
	Name   Name
	Start  time.Time
	Jamaat time.Time
}

func (e Event) HasJamaat() bool { return !e.Jamaat.IsZero() }
