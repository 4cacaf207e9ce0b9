// Package notifier turns fired schedule events into Telegram broadcasts.
// It runs an async pipeline: bounded queue, one worker, rate limit, fan-out
// to the current subscriber set.
package notifier

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"prayerbot/internal/prayer"
	"prayerbot/internal/schedule"
	kit "prayerbot/internal/transport"
	logx "prayerbot/pkg/logx"
)

var (
	ErrQueueFull = errors.New("notifier queue full")
	ErrStopped   = errors.New("notifier stopped")
)

// SubscriberSource yields the chat IDs a broadcast fans out to.
type SubscriberSource interface {
	Subscribers(ctx context.Context) ([]int64, error)
}

type Config struct {
	RatePerSec float64
	QueueSize  int
}

type Service struct {
	mu sync.Mutex

	log     logx.Logger
	adapter kit.Adapter
	subs    SubscriberSource

	cfg     Config
	limiter *rate.Limiter
	// markup is attached to every broadcast (Telegram inline keyboard).
	markup any

	accepting bool
	queue     chan schedule.Firing
	workerWG  sync.WaitGroup
	runCtx    context.Context
	runCancel context.CancelFunc
}

func New(cfg Config, adapter kit.Adapter, subs SubscriberSource, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{log: log, adapter: adapter, subs: subs}
	s.applyLocked(cfg)
	return s
}

// SetMarkup sets the reply markup attached to broadcasts. Call before Start.
func (s *Service) SetMarkup(markup any) {
	s.mu.Lock()
	s.markup = markup
	s.mu.Unlock()
}

func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.applyLocked(cfg)
	s.mu.Unlock()
}

func (s *Service) applyLocked(cfg Config) {
	if cfg.RatePerSec <= 0 {
		// Telegram allows ~30 messages/sec for broadcasts; stay well under.
		cfg.RatePerSec = 20
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 16
	}
	s.cfg = cfg
	s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), 1)
}

func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.queue != nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	s.runCtx, s.runCancel = context.WithCancel(ctx)
	s.queue = make(chan schedule.Firing, s.cfg.QueueSize)
	s.accepting = true

	s.workerWG.Add(1)
	go s.workerLoop(s.runCtx, s.queue)
	return nil
}

func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	q := s.queue
	cancel := s.runCancel
	s.accepting = false
	s.queue = nil
	s.runCancel = nil
	s.runCtx = nil
	s.mu.Unlock()

	if q == nil {
		return
	}
	close(q)

	done := make(chan struct{})
	go func() {
		s.workerWG.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		if cancel != nil {
			cancel()
		}
		<-done
	}
	if cancel != nil {
		cancel()
	}
}

// Enqueue offers a firing to the pipeline without blocking. It returns
// ErrStopped when the pipeline is not running and ErrQueueFull when the
// worker has fallen behind.
func (s *Service) Enqueue(f schedule.Firing) error {
	// The send stays under the mutex so Stop cannot close the queue between
	// the state check and the send.
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.accepting || s.queue == nil {
		return ErrStopped
	}
	select {
	case s.queue <- f:
		return nil
	default:
		return ErrQueueFull
	}
}

// Dispatch implements schedule.Dispatcher. It never blocks the timer
// goroutine: a full or stopped queue drops the firing with a log entry.
func (s *Service) Dispatch(f schedule.Firing) {
	switch err := s.Enqueue(f); {
	case err == nil:
	case errors.Is(err, ErrStopped):
		s.log.Warn("firing dropped, notifier stopped", logx.String("prayer", string(f.Event.Name)))
	default:
		s.log.Error("firing dropped, queue full", logx.String("prayer", string(f.Event.Name)))
	}
}

func (s *Service) workerLoop(ctx context.Context, q <-chan schedule.Firing) {
	defer s.workerWG.Done()
	for f := range q {
		if ctx.Err() != nil {
			return
		}
		s.broadcast(ctx, f)
	}
}

func (s *Service) broadcast(ctx context.Context, f schedule.Firing) {
	s.mu.Lock()
	lim := s.limiter
	markup := s.markup
	s.mu.Unlock()

	ids, err := s.subs.Subscribers(ctx)
	if err != nil {
		s.log.Error("subscriber list unavailable, firing dropped",
			logx.String("prayer", string(f.Event.Name)), logx.Err(err))
		return
	}
	if len(ids) == 0 {
		s.log.Debug("no subscribers", logx.String("prayer", string(f.Event.Name)))
		return
	}

	text := MessageText(f.Event)
	opt := &kit.SendOptions{ReplyMarkup: markup}
	sent := 0
	for _, id := range ids {
		if err := lim.Wait(ctx); err != nil {
			return
		}
		callCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		_, err := s.adapter.SendText(callCtx, kit.ChatTarget{ChatID: id}, text, opt)
		cancel()
		if err != nil {
			// A blocked bot or deleted chat only affects that subscriber.
			s.log.Warn("broadcast send failed", logx.Int64("chat_id", id), logx.Err(err))
			continue
		}
		sent++
	}
	s.log.Info("prayer announced",
		logx.String("prayer", string(f.Event.Name)),
		logx.String("day", f.Day),
		logx.Int("sent", sent),
		logx.Int("subscribers", len(ids)))
}

// MessageText renders the announcement for one prayer event.
func MessageText(e prayer.Event) string {
	text := fmt.Sprintf("It's time for %s prayer. %s", e.Name, e.Name.Icon())
	if e.Name.JamaatAllowed() && e.HasJamaat() {
		text += fmt.Sprintf(" Jamat at %s.", e.Jamaat.Format("3:04 PM"))
	}
	return text
}
