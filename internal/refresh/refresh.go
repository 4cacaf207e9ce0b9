// Package refresh keeps the scheduler's table current. It fetches the day's
// schedule from the mosque site at fixed wall-clock times, persists it, and
// hands it to the timer scheduler. Fetch failures leave the previous table
// authoritative.
package refresh

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"prayerbot/internal/prayer"
	logx "prayerbot/pkg/logx"
)

// Fetcher pulls the raw per-event rows from the upstream source.
type Fetcher interface {
	Fetch(ctx context.Context) (map[prayer.Name]prayer.RawRow, error)
}

// TableSink receives each freshly built table.
type TableSink interface {
	Refresh(table prayer.Table)
}

// ScheduleStore persists tables across restarts. May be nil when storage is
// disabled.
type ScheduleStore interface {
	UpsertSchedule(ctx context.Context, table prayer.Table) error
	GetSchedule(ctx context.Context, day string, loc *time.Location) (prayer.Table, error)
}

type Config struct {
	Timezone     string
	RefreshTimes []string // "HH:MM" wall-clock times in Timezone
}

const (
	defaultTimezone = "Europe/London"
	jobTimeout      = 60 * time.Second
)

// The second slot backstops the first across DST transitions and slow
// site-side updates shortly after midnight.
var defaultRefreshTimes = []string{"00:01", "01:30"}

type Service struct {
	log   logx.Logger
	fetch Fetcher
	sink  TableSink
	store ScheduleStore

	loc   *time.Location
	specs []string
	now   func() time.Time

	mu       sync.Mutex
	cron     *cron.Cron
	started  bool
	failures int
}

func New(cfg Config, fetch Fetcher, sink TableSink, store ScheduleStore, log logx.Logger) (*Service, error) {
	if fetch == nil || sink == nil {
		return nil, errors.New("fetcher and sink are required")
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	tz := strings.TrimSpace(cfg.Timezone)
	if tz == "" {
		tz = defaultTimezone
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", tz, err)
	}

	specs, err := buildSpecs(cfg.RefreshTimes)
	if err != nil {
		return nil, err
	}

	return &Service{
		log:   log,
		fetch: fetch,
		sink:  sink,
		store: store,
		loc:   loc,
		specs: specs,
		now:   time.Now,
	}, nil
}

func buildSpecs(times []string) ([]string, error) {
	if len(times) == 0 {
		times = defaultRefreshTimes
	}
	specs := make([]string, 0, len(times))
	for _, t := range times {
		spec, err := clockSpec(t)
		if err != nil {
			return nil, err
		}
		specs = append(specs, spec)
	}
	return specs, nil
}

// clockSpec converts "HH:MM" into a daily cron spec.
func clockSpec(raw string) (string, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(raw))
	if err != nil {
		return "", fmt.Errorf("refresh time %q: want HH:MM: %w", raw, err)
	}
	return fmt.Sprintf("%d %d * * *", t.Minute(), t.Hour()), nil
}

// Location returns the schedule timezone.
func (s *Service) Location() *time.Location { return s.loc }

// Start seeds the scheduler and registers the daily refresh slots. The seed
// prefers a live fetch; if that fails and a persisted table exists for today
// it is used instead, so a restart does not lose the day's timers.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = true
	c := cron.New(cron.WithLocation(s.loc))
	s.cron = c
	s.mu.Unlock()

	if err := s.RunNow(ctx); err != nil {
		s.log.Warn("initial fetch failed, trying persisted schedule", logx.Err(err))
		s.seedFromStore(ctx)
	}

	for _, spec := range s.specs {
		spec := spec
		if _, err := c.AddFunc(spec, func() { s.runJob(spec) }); err != nil {
			return fmt.Errorf("register refresh %q: %w", spec, err)
		}
	}
	c.Start()
	s.log.Info("refresh slots registered",
		logx.Int("slots", len(s.specs)),
		logx.String("tz", s.loc.String()))
	return nil
}

func (s *Service) seedFromStore(ctx context.Context) {
	if s.store == nil {
		return
	}
	day := s.now().In(s.loc).Format(time.DateOnly)
	tbl, err := s.store.GetSchedule(ctx, day, s.loc)
	if err != nil {
		s.log.Warn("no persisted schedule for today", logx.String("day", day), logx.Err(err))
		return
	}
	s.sink.Refresh(tbl)
	s.log.Info("scheduler seeded from persisted schedule", logx.String("day", day))
}

func (s *Service) runJob(spec string) {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()
	if err := s.RunNow(ctx); err != nil {
		s.log.Error("scheduled refresh failed, previous table stays active",
			logx.String("slot", spec),
			logx.Int("consecutive_failures", s.SourceErrors()),
			logx.Err(err))
	}
}

// RunNow performs one fetch-build-persist-install cycle. Any failure leaves
// the scheduler's current table untouched.
func (s *Service) RunNow(ctx context.Context) error {
	rows, err := s.fetch.Fetch(ctx)
	if err != nil {
		s.recordFailure()
		return err
	}

	day := s.now().In(s.loc)
	tbl, err := prayer.BuildTable(rows, day, s.loc)
	if err != nil {
		s.recordFailure()
		return fmt.Errorf("build table for %s: %w", day.Format(time.DateOnly), err)
	}

	if s.store != nil {
		if err := s.store.UpsertSchedule(ctx, tbl); err != nil {
			// Persistence is best-effort; the live table still installs.
			s.log.Warn("schedule persist failed", logx.String("day", tbl.Day()), logx.Err(err))
		}
	}

	s.sink.Refresh(tbl)
	s.resetFailures()
	s.log.Info("schedule refreshed", logx.String("day", tbl.Day()))
	return nil
}

func (s *Service) recordFailure() {
	s.mu.Lock()
	s.failures++
	s.mu.Unlock()
}

func (s *Service) resetFailures() {
	s.mu.Lock()
	s.failures = 0
	s.mu.Unlock()
}

// SourceErrors returns the number of consecutive failed refresh cycles.
func (s *Service) SourceErrors() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failures
}

// Apply updates the refresh slots live. A timezone change is ignored with a
// warning; it needs a restart.
func (s *Service) Apply(cfg Config) error {
	if tz := strings.TrimSpace(cfg.Timezone); tz != "" && tz != s.loc.String() {
		s.log.Warn("timezone change requires a restart",
			logx.String("active", s.loc.String()), logx.String("requested", tz))
	}
	specs, err := buildSpecs(cfg.RefreshTimes)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if slices.Equal(s.specs, specs) {
		return nil
	}
	s.specs = specs
	if !s.started {
		return nil
	}

	c := cron.New(cron.WithLocation(s.loc))
	for _, spec := range specs {
		spec := spec
		if _, err := c.AddFunc(spec, func() { s.runJob(spec) }); err != nil {
			// Keep the old entries running on a bad update.
			return fmt.Errorf("register refresh %q: %w", spec, err)
		}
	}
	old := s.cron
	s.cron = c
	c.Start()
	if old != nil {
		old.Stop()
	}
	s.log.Info("refresh slots updated", logx.Int("slots", len(specs)))
	return nil
}

// Stop halts the cron entries and waits for a running job to finish, bounded
// by ctx.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	s.started = false
	s.mu.Unlock()
	if c == nil {
		return
	}
	done := c.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
	}
}
