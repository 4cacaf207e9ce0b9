package prayer

import (
	"fmt"
	"time"
)

// RawRow is one scraped row: textual start and congregation times.
// An empty Jamaat is the "absent" sentinel, legal only where
// Name.JamaatAllowed() is false or the source simply omits it.
type RawRow struct {
	Start  string
	Jamaat string
}

// Table is the validated, immutable per-day schedule. A new fetch produces a
// new table; tables are never mutated in place.
type Table struct {
	day    time.Time // midnight of the calendar date in loc
	loc    *time.Location
	events map[Name]Event
}

// Day returns the table's calendar date formatted as YYYY-MM-DD.
func (t Table) Day() string { return t.day.Format(time.DateOnly) }

// Location returns the table's timezone.
func (t Table) Location() *time.Location { return t.loc }

// Get returns the event for name, if present.
func (t Table) Get(name Name) (Event, bool) {
	e, ok := t.events[name]
	return e, ok
}

// Events returns the table's events in canonical order.
func (t Table) Events() []Event {
	out := make([]Event, 0, len(t.events))
	for _, n := range Order {
		if e, ok := t.events[n]; ok {
			out = append(out, e)
		}
	}
	return out
}

// BuildTable parses and validates raw rows into a Table for day in loc.
// Validation is all-or-nothing: every required event must be present with a
// parseable start, and start instants must be non-decreasing in canonical
// order. Unknown row names are ignored.
func BuildTable(rows map[Name]RawRow, day time.Time, loc *time.Location) (Table, error) {
	if loc == nil {
		loc = time.UTC
	}
	events := make(map[Name]Event, len(Order))

	for _, name := range Order {
		row, ok := rows[name]
		if !ok {
			continue
		}
		start, err := ParseClock(row.Start, day, loc)
		if err != nil {
			return Table{}, fmt.Errorf("%s start: %w", name, err)
		}
		ev := Event{Name: name, Start: start}

		if name.JamaatAllowed() && row.Jamaat != "" {
			jamaat, err := ParseClock(row.Jamaat, day, loc)
			if err != nil {
				return Table{}, fmt.Errorf("%s jamaat: %w", name, err)
			}
			ev.Jamaat = jamaat
		}
		events[name] = ev
	}

	for _, name := range Required {
		if _, ok := events[name]; !ok {
			return Table{}, fmt.Errorf("%w: missing %s", ErrIncomplete, name)
		}
	}

	var prev *Event
	for _, name := range Order {
		e, ok := events[name]
		if !ok {
			continue
		}
		if prev != nil && e.Start.Before(prev.Start) {
			return Table{}, fmt.Errorf("%w: %s (%s) before %s (%s)",
				ErrOutOfOrder, name, e.Start.Format(time.Kitchen), prev.Name, prev.Start.Format(time.Kitchen))
		}
		p := e
		prev = &p
	}

	y, m, d := day.In(loc).Date()
	return Table{
		day:    time.Date(y, m, d, 0, 0, 0, 0, loc),
		loc:    loc,
		events: events,
	}, nil
}

// Restore rebuilds a Table from already-parsed events (e.g. loaded from the
// repository), running the same completeness and ordering validation as
// BuildTable.
func Restore(day time.Time, loc *time.Location, events []Event) (Table, error) {
	rows := make(map[Name]RawRow, len(events))
	for _, e := range events {
		row := RawRow{Start: e.Start.In(loc).Format(clockLayout)}
		if e.HasJamaat() {
			row.Jamaat = e.Jamaat.In(loc).Format(clockLayout)
		}
		rows[e.Name] = row
	}
	return BuildTable(rows, day, loc)
}
