package schedule

import (
	"testing"
	"time"

	"prayerbot/internal/prayer"
	logx "prayerbot/pkg/logx"
)

type captureDispatcher struct {
	ch chan Firing
}

func newCapture() *captureDispatcher {
	return &captureDispatcher{ch: make(chan Firing, 16)}
}

func (c *captureDispatcher) Dispatch(f Firing) { c.ch <- f }

func (c *captureDispatcher) wait(t *testing.T, d time.Duration) Firing {
	t.Helper()
	select {
	case f := <-c.ch:
		return f
	case <-time.After(d):
		t.Fatal("no firing within deadline")
		return Firing{}
	}
}

func (c *captureDispatcher) none(t *testing.T, d time.Duration) {
	t.Helper()
	select {
	case f := <-c.ch:
		t.Fatalf("unexpected firing: %s", f.Event.Name)
	case <-time.After(d):
	}
}

func buildTestTable(t *testing.T) prayer.Table {
	t.Helper()
	day := time.Date(2026, time.March, 14, 0, 0, 0, 0, time.UTC)
	tbl, err := prayer.BuildTable(map[prayer.Name]prayer.RawRow{
		prayer.Fajr:    {Start: "5:42 AM", Jamaat: "6:15 AM"},
		prayer.Sunrise: {Start: "7:01 AM"},
		prayer.Dhuhr:   {Start: "12:15 PM"},
		prayer.Asr:     {Start: "3:30 PM"},
		prayer.Maghrib: {Start: "6:05 PM"},
		prayer.Isha:    {Start: "7:35 PM"},
	}, day, time.UTC)
	if err != nil {
		t.Fatalf("BuildTable: %v", err)
	}
	return tbl
}

// anchor pins the service clock so that event's start is delta away.
func anchor(s *Service, tbl prayer.Table, event prayer.Name, delta time.Duration) {
	e, _ := tbl.Get(event)
	at := e.Start.Add(-delta)
	s.now = func() time.Time { return at }
}

func TestRefreshInstallsFutureOnly(t *testing.T) {
	t.Parallel()
	disp := newCapture()
	s := New(disp, logx.Nop())
	defer s.Stop()

	tbl := buildTestTable(t)
	// Clock between Asr and Maghrib: only Maghrib and Isha remain.
	anchor(s, tbl, prayer.Maghrib, time.Hour)
	s.Refresh(tbl)

	got := s.Pending()
	want := []prayer.Name{prayer.Maghrib, prayer.Isha}
	if len(got) != len(want) {
		t.Fatalf("pending = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("pending = %v, want %v", got, want)
		}
	}
}

func TestRefreshSkipsSunrise(t *testing.T) {
	t.Parallel()
	disp := newCapture()
	s := New(disp, logx.Nop())
	defer s.Stop()

	tbl := buildTestTable(t)
	anchor(s, tbl, prayer.Fajr, time.Hour)
	s.Refresh(tbl)

	for _, n := range s.Pending() {
		if n == prayer.Sunrise {
			t.Fatal("Sunrise must never be scheduled")
		}
	}
	if len(s.Pending()) != 5 {
		t.Fatalf("pending = %v, want 5 notifiable events", s.Pending())
	}
}

func TestFireExactlyOnce(t *testing.T) {
	t.Parallel()
	disp := newCapture()
	s := New(disp, logx.Nop())
	defer s.Stop()

	tbl := buildTestTable(t)
	anchor(s, tbl, prayer.Maghrib, 30*time.Millisecond)
	s.Refresh(tbl)

	f := disp.wait(t, 2*time.Second)
	if f.Event.Name != prayer.Maghrib {
		t.Fatalf("fired %s, want Maghrib", f.Event.Name)
	}
	if f.Day != tbl.Day() {
		t.Fatalf("day = %s, want %s", f.Day, tbl.Day())
	}

	// Fired event leaves the pending set; only Isha remains.
	got := s.Pending()
	if len(got) != 1 || got[0] != prayer.Isha {
		t.Fatalf("pending after fire = %v, want [Isha]", got)
	}
	disp.none(t, 100*time.Millisecond)
}

func TestRefreshSupersedesPendingTimers(t *testing.T) {
	t.Parallel()
	disp := newCapture()
	s := New(disp, logx.Nop())
	defer s.Stop()

	tbl := buildTestTable(t)
	anchor(s, tbl, prayer.Maghrib, 50*time.Millisecond)
	s.Refresh(tbl)

	// Second refresh with the clock after Isha: every old timer is cancelled
	// and nothing remains in the future.
	anchor(s, tbl, prayer.Isha, -time.Minute)
	s.Refresh(tbl)

	if n := len(s.Pending()); n != 0 {
		t.Fatalf("pending = %d, want 0", n)
	}
	disp.none(t, 200*time.Millisecond)
}

func TestRefreshIdempotent(t *testing.T) {
	t.Parallel()
	disp := newCapture()
	s := New(disp, logx.Nop())
	defer s.Stop()

	tbl := buildTestTable(t)
	anchor(s, tbl, prayer.Maghrib, 40*time.Millisecond)
	s.Refresh(tbl)
	s.Refresh(tbl)
	s.Refresh(tbl)

	if n := len(s.Pending()); n != 2 {
		t.Fatalf("pending = %d, want 2", n)
	}

	f := disp.wait(t, 2*time.Second)
	if f.Event.Name != prayer.Maghrib {
		t.Fatalf("fired %s, want Maghrib", f.Event.Name)
	}
	// No duplicate firing from the superseded generations.
	disp.none(t, 150*time.Millisecond)
}

func TestStopCancelsEverything(t *testing.T) {
	t.Parallel()
	disp := newCapture()
	s := New(disp, logx.Nop())

	tbl := buildTestTable(t)
	anchor(s, tbl, prayer.Fajr, 30*time.Millisecond)
	s.Refresh(tbl)
	s.Stop()

	if n := len(s.Pending()); n != 0 {
		t.Fatalf("pending = %d, want 0", n)
	}
	disp.none(t, 150*time.Millisecond)

	// Refresh after Stop is a no-op.
	s.Refresh(tbl)
	if n := len(s.Pending()); n != 0 {
		t.Fatalf("pending after stopped refresh = %d, want 0", n)
	}
}

func TestCurrentTable(t *testing.T) {
	t.Parallel()
	s := New(newCapture(), logx.Nop())
	defer s.Stop()

	if _, ok := s.Current(); ok {
		t.Fatal("expected no current table before first refresh")
	}

	tbl := buildTestTable(t)
	anchor(s, tbl, prayer.Fajr, time.Hour)
	s.Refresh(tbl)

	got, ok := s.Current()
	if !ok || got.Day() != tbl.Day() {
		t.Fatalf("current = %v (%v), want %s", got.Day(), ok, tbl.Day())
	}
}
