package prayer

import (
	"testing"
	"time"
)

func TestRemaining(t *testing.T) {
	t.Parallel()
	tests := []struct {
		d    time.Duration
		want string
	}{
		{d: 61 * time.Second, want: "2 mins"},
		{d: 60 * time.Second, want: "1 min"},
		{d: 3600 * time.Second, want: "1 hour"},
		{d: 3661 * time.Second, want: "1 hour and 2 mins"},
		{d: 2 * time.Hour, want: "2 hours"},
		{d: 90 * time.Minute, want: "1 hour and 30 mins"},
		{d: 5 * time.Minute, want: "5 mins"},
		{d: 30 * time.Second, want: "1 min"},
		{d: 0, want: "0 mins"},
	}

	for _, tt := range tests {
		if got := Remaining(tt.d); got != tt.want {
			t.Errorf("Remaining(%v) = %q, want %q", tt.d, got, tt.want)
		}
	}
}
