package schedule

import (
	"sync"
	"time"

	"prayerbot/internal/prayer"
	logx "prayerbot/pkg/logx"
)

// Service owns the pending one-shot timer set for the current day's table.
//
// All state is guarded by one mutex. Per timer the lifecycle is
// Scheduled -> Fired or Scheduled -> Cancelled (via a superseding Refresh);
// there are no retries and no re-fires. A timer that has passed its
// generation check fires to completion even if a Refresh runs concurrently;
// a timer that lost the generation race is a silent no-op.
type Service struct {
	mu sync.Mutex

	log      logx.Logger
	dispatch Dispatcher
	now      func() time.Time

	table   *prayer.Table
	pending map[prayer.Name]*time.Timer
	gen     uint64
	stopped bool
}

func New(d Dispatcher, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		log:      log,
		dispatch: d,
		now:      time.Now,
		pending:  map[prayer.Name]*time.Timer{},
	}
}

// Refresh atomically replaces the pending timer set with timers for every
// notifiable event in table whose start is strictly in the future. Old timers
// are cancelled before any new one is installed, so two live timers for the
// same event never coexist. Calling Refresh twice with the same table yields
// the same resulting set.
func (s *Service) Refresh(table prayer.Table) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}

	s.cancelAllLocked()
	s.gen++
	gen := s.gen
	t := table
	s.table = &t

	now := s.now()
	installed, skipped := 0, 0
	for _, e := range table.Events() {
		if !e.Name.Notifiable() {
			continue
		}
		if !e.Start.After(now) {
			// Past-due (late refresh, clock skew): a stale notification is
			// worse than a missed one.
			s.log.Debug("skipping past event", logx.String("event", string(e.Name)), logx.Time("start", e.Start))
			skipped++
			continue
		}
		name := e.Name
		s.pending[name] = time.AfterFunc(e.Start.Sub(now), func() {
			s.fire(gen, name)
		})
		installed++
	}

	s.log.Info("timers refreshed",
		logx.String("day", table.Day()),
		logx.Int("installed", installed),
		logx.Int("skipped_past", skipped))
}

func (s *Service) fire(gen uint64, name prayer.Name) {
	s.mu.Lock()
	if s.stopped || gen != s.gen {
		// Superseded by a Refresh (or Stop) after this timer was armed.
		s.mu.Unlock()
		return
	}
	if _, ok := s.pending[name]; !ok {
		s.mu.Unlock()
		return
	}
	delete(s.pending, name)

	var f Firing
	if s.table != nil {
		if e, ok := s.table.Get(name); ok {
			f = Firing{Event: e, Day: s.table.Day()}
		}
	}
	d := s.dispatch
	s.mu.Unlock()

	if f.Event.Name == "" || d == nil {
		return
	}
	s.log.Info("prayer time reached", logx.String("event", string(name)), logx.String("day", f.Day))
	d.Dispatch(f)
}

// Current returns the table installed by the last successful Refresh.
func (s *Service) Current() (prayer.Table, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.table == nil {
		return prayer.Table{}, false
	}
	return *s.table, true
}

// Pending returns the names of not-yet-fired timers in canonical order.
func (s *Service) Pending() []prayer.Name {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]prayer.Name, 0, len(s.pending))
	for _, n := range prayer.Order {
		if _, ok := s.pending[n]; ok {
			out = append(out, n)
		}
	}
	return out
}

// Stop cancels every pending timer. The service accepts no further Refresh
// calls afterwards.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	s.stopped = true
	s.cancelAllLocked()
	s.gen++
}

func (s *Service) cancelAllLocked() {
	for name, t := range s.pending {
		t.Stop()
		delete(s.pending, name)
	}
}
