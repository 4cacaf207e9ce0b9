package prayer

import (
	"errors"
	"testing"
	"time"
)

func TestParseClockVariants(t *testing.T) {
	t.Parallel()
	loc := time.UTC
	day := time.Date(2026, time.March, 14, 0, 0, 0, 0, loc)

	tests := []struct {
		name string
		raw  string
		hour int
		min  int
	}{
		{name: "morning", raw: "5:42 AM", hour: 5, min: 42},
		{name: "leading zero", raw: "05:42 AM", hour: 5, min: 42},
		{name: "afternoon", raw: "3:30 PM", hour: 15, min: 30},
		{name: "lowercase marker", raw: "7:35 pm", hour: 19, min: 35},
		{name: "surrounding space", raw: "  12:15 PM ", hour: 12, min: 15},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseClock(tt.raw, day, loc)
			if err != nil {
				t.Fatalf("ParseClock(%q) error: %v", tt.raw, err)
			}
			if got.Hour() != tt.hour || got.Minute() != tt.min {
				t.Fatalf("got %02d:%02d, want %02d:%02d", got.Hour(), got.Minute(), tt.hour, tt.min)
			}
			if got.Year() != 2026 || got.Month() != time.March || got.Day() != 14 {
				t.Fatalf("instant not anchored to day: %v", got)
			}
		})
	}
}

func TestParseClockMalformed(t *testing.T) {
	t.Parallel()
	loc := time.UTC
	day := time.Date(2026, time.March, 14, 0, 0, 0, 0, loc)

	for _, raw := range []string{"", "25:00 AM", "5:42", "half past five", "17:30"} {
		if _, err := ParseClock(raw, day, loc); !errors.Is(err, ErrMalformedTime) {
			t.Fatalf("ParseClock(%q) = %v, want ErrMalformedTime", raw, err)
		}
	}
}

func TestParseClockTimezone(t *testing.T) {
	t.Parallel()
	loc, err := time.LoadLocation("Europe/London")
	if err != nil {
		t.Fatalf("LoadLocation: %v", err)
	}
	day := time.Date(2026, time.July, 1, 0, 0, 0, 0, loc)

	got, err := ParseClock("1:30 PM", day, loc)
	if err != nil {
		t.Fatalf("ParseClock error: %v", err)
	}
	if got.Location() != loc {
		t.Fatalf("location = %v, want %v", got.Location(), loc)
	}
	// BST in July: 13:30 local is 12:30 UTC.
	if got.UTC().Hour() != 12 {
		t.Fatalf("UTC hour = %d, want 12", got.UTC().Hour())
	}
}
