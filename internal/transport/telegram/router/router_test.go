package router

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"prayerbot/internal/prayer"
	kit "prayerbot/internal/transport"
	logx "prayerbot/pkg/logx"
)

type sentMsg struct {
	ChatID int64
	MsgID  int
	Text   string
	Photo  string
	HTML   bool
	Edited bool
	Markup any
}

type fakeAdapter struct {
	mu       sync.Mutex
	answered []string
	editErr  error
	ch       chan sentMsg
}

func newFakeAdapter() *fakeAdapter { return &fakeAdapter{ch: make(chan sentMsg, 16)} }

func (f *fakeAdapter) Start(context.Context, chan<- kit.Update) error { return nil }
func (f *fakeAdapter) Stop(context.Context) error                     { return nil }

func (f *fakeAdapter) EditText(_ context.Context, ref kit.MessageRef, text string, opt *kit.SendOptions) error {
	f.mu.Lock()
	err := f.editErr
	f.mu.Unlock()
	if err != nil {
		return err
	}
	m := sentMsg{ChatID: ref.ChatID, MsgID: ref.MessageID, Text: text, Edited: true}
	if opt != nil {
		m.HTML = opt.ParseMode == "HTML"
		m.Markup = opt.ReplyMarkup
	}
	f.ch <- m
	return nil
}

func (f *fakeAdapter) AnswerCallback(_ context.Context, id, _ string) error {
	f.mu.Lock()
	f.answered = append(f.answered, id)
	f.mu.Unlock()
	return nil
}

func (f *fakeAdapter) SendText(_ context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	m := sentMsg{ChatID: to.ChatID, Text: text}
	if opt != nil {
		m.HTML = opt.ParseMode == "HTML"
		m.Markup = opt.ReplyMarkup
	}
	f.ch <- m
	return kit.MessageRef{ChatID: to.ChatID, MessageID: 1}, nil
}

func (f *fakeAdapter) SendPhoto(_ context.Context, to kit.ChatTarget, url, caption string, _ *kit.SendOptions) (kit.MessageRef, error) {
	f.ch <- sentMsg{ChatID: to.ChatID, Photo: url, Text: caption}
	return kit.MessageRef{ChatID: to.ChatID, MessageID: 1}, nil
}

func (f *fakeAdapter) wait(t *testing.T) sentMsg {
	t.Helper()
	select {
	case m := <-f.ch:
		return m
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for reply")
		return sentMsg{}
	}
}

type fakeStore struct {
	mu    sync.Mutex
	subs  map[int64]bool
	usage []string
}

func newFakeStore() *fakeStore { return &fakeStore{subs: map[int64]bool{}} }

func (f *fakeStore) AddSubscriber(_ context.Context, id int64) error {
	f.mu.Lock()
	f.subs[id] = true
	f.mu.Unlock()
	return nil
}

func (f *fakeStore) RemoveSubscriber(_ context.Context, id int64) error {
	f.mu.Lock()
	delete(f.subs, id)
	f.mu.Unlock()
	return nil
}

func (f *fakeStore) IsSubscriber(_ context.Context, id int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.subs[id], nil
}

func (f *fakeStore) LogUsage(_ context.Context, cmd string, _ int64) error {
	f.mu.Lock()
	f.usage = append(f.usage, cmd)
	f.mu.Unlock()
	return nil
}

type fakeSched struct {
	tbl prayer.Table
	ok  bool
}

func (f fakeSched) Current() (prayer.Table, bool) { return f.tbl, f.ok }

func routerTable(t *testing.T) prayer.Table {
	t.Helper()
	day := time.Date(2026, time.March, 14, 0, 0, 0, 0, time.UTC)
	tbl, err := prayer.BuildTable(map[prayer.Name]prayer.RawRow{
		prayer.Fajr:    {Start: "5:42 AM", Jamaat: "6:15 AM"},
		prayer.Sunrise: {Start: "7:10 AM"},
		prayer.Dhuhr:   {Start: "12:15 PM", Jamaat: "12:45 PM"},
		prayer.Asr:     {Start: "3:30 PM", Jamaat: "4:00 PM"},
		prayer.Maghrib: {Start: "6:05 PM"},
		prayer.Isha:    {Start: "7:35 PM", Jamaat: "8:00 PM"},
	}, day, time.UTC)
	if err != nil {
		t.Fatalf("BuildTable: %v", err)
	}
	return tbl
}

type testRig struct {
	router  *Router
	adapter *fakeAdapter
	store   *fakeStore
	updates chan kit.Update
	cancel  context.CancelFunc
	done    chan struct{}
}

func startRouter(t *testing.T, sched ScheduleSource, at time.Time) *testRig {
	t.Helper()
	ad := newFakeAdapter()
	st := newFakeStore()
	r := New(ad, st, sched, logx.Nop())
	r.now = func() time.Time { return at }

	ctx, cancel := context.WithCancel(context.Background())
	updates := make(chan kit.Update, 8)
	done := make(chan struct{})
	go func() {
		_ = r.Run(ctx, updates)
		close(done)
	}()
	rig := &testRig{router: r, adapter: ad, store: st, updates: updates, cancel: cancel, done: done}
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Error("router did not stop")
		}
	})
	return rig
}

func msgUpdate(chatID int64, text string) kit.Update {
	return kit.Update{
		Kind:    kit.UpdateMessage,
		Message: &kit.Message{ID: 1, ChatID: chatID, FromID: chatID, Text: text},
	}
}

func TestParseCommand(t *testing.T) {
	t.Parallel()
	cases := []struct {
		in   string
		want string
		ok   bool
	}{
		{in: "/start", want: "start", ok: true},
		{in: "/Today@PrayerBot", want: "today", ok: true},
		{in: "/nextprayer now please", want: "nextprayer", ok: true},
		{in: "hello", ok: false},
		{in: "", ok: false},
		{in: "/", ok: false},
	}
	for _, tc := range cases {
		got, ok := parseCommand(tc.in)
		if ok != tc.ok || got != tc.want {
			t.Errorf("parseCommand(%q) = %q, %v; want %q, %v", tc.in, got, ok, tc.want, tc.ok)
		}
	}
}

func TestStartCommand(t *testing.T) {
	t.Parallel()
	rig := startRouter(t, fakeSched{}, time.Now())

	rig.updates <- msgUpdate(42, "/start")
	m := rig.adapter.wait(t)
	if !strings.Contains(m.Text, "Welcome to the Prayer Times Bot!") {
		t.Fatalf("unexpected welcome: %q", m.Text)
	}
	if m.Markup == nil {
		t.Fatal("welcome missing keyboard")
	}
}

func TestTodayCommand(t *testing.T) {
	t.Parallel()
	tbl := routerTable(t)
	rig := startRouter(t, fakeSched{tbl: tbl, ok: true}, time.Now())

	rig.updates <- msgUpdate(42, "/today")
	m := rig.adapter.wait(t)
	if !m.HTML {
		t.Fatal("today reply not HTML")
	}
	for _, want := range []string{"Today's Prayer Times:", "Fajr", "Start: 5:42 AM", "Jamat: 6:15 AM", "Maghrib"} {
		if !strings.Contains(m.Text, want) {
			t.Fatalf("today reply missing %q: %q", want, m.Text)
		}
	}
	if strings.Contains(m.Text, "Sunrise") {
		t.Fatalf("today reply lists Sunrise: %q", m.Text)
	}
	if strings.Contains(m.Text, "Jamat: 6:05 PM") {
		t.Fatalf("maghrib must not list a jamat: %q", m.Text)
	}
}

func TestTodayWithoutTable(t *testing.T) {
	t.Parallel()
	rig := startRouter(t, fakeSched{}, time.Now())

	rig.updates <- msgUpdate(42, "/today")
	m := rig.adapter.wait(t)
	if !strings.Contains(m.Text, "unable to fetch") {
		t.Fatalf("expected unavailable notice, got %q", m.Text)
	}
}

func TestNextPrayerCommand(t *testing.T) {
	t.Parallel()
	tbl := routerTable(t)
	// 18:00, five minutes before Maghrib.
	at := time.Date(2026, time.March, 14, 18, 0, 0, 0, time.UTC)
	rig := startRouter(t, fakeSched{tbl: tbl, ok: true}, at)

	rig.updates <- msgUpdate(42, "/nextprayer")
	m := rig.adapter.wait(t)
	if !strings.Contains(m.Text, "Next prayer is Maghrib at 6:05 PM") {
		t.Fatalf("unexpected next-prayer reply: %q", m.Text)
	}
	if !strings.Contains(m.Text, "Time remaining: 5 mins") {
		t.Fatalf("remaining wrong: %q", m.Text)
	}
	if strings.Contains(m.Text, "Jamat") {
		t.Fatalf("maghrib reply mentions jamat: %q", m.Text)
	}
}

func TestNextPrayerAfterIsha(t *testing.T) {
	t.Parallel()
	tbl := routerTable(t)
	at := time.Date(2026, time.March, 14, 23, 0, 0, 0, time.UTC)
	rig := startRouter(t, fakeSched{tbl: tbl, ok: true}, at)

	rig.updates <- msgUpdate(42, "/nextprayer")
	m := rig.adapter.wait(t)
	if !strings.Contains(m.Text, "The start time for Isha has passed.") {
		t.Fatalf("expected after-Isha reply, got %q", m.Text)
	}
	// 23:00 -> 05:42 next day is 6h42m.
	if !strings.Contains(m.Text, "6 hours and 42 mins") {
		t.Fatalf("time until fajr wrong: %q", m.Text)
	}
}

func TestSubscribeFlow(t *testing.T) {
	t.Parallel()
	rig := startRouter(t, fakeSched{}, time.Now())

	rig.updates <- msgUpdate(42, "/notify")
	if m := rig.adapter.wait(t); !strings.Contains(m.Text, "You've subscribed") {
		t.Fatalf("subscribe reply: %q", m.Text)
	}
	if ok, _ := rig.store.IsSubscriber(context.Background(), 42); !ok {
		t.Fatal("chat not stored as subscriber")
	}

	rig.updates <- msgUpdate(42, "/notify")
	if m := rig.adapter.wait(t); !strings.Contains(m.Text, "already subscribed") {
		t.Fatalf("repeat subscribe reply: %q", m.Text)
	}

	rig.updates <- msgUpdate(42, "/stop")
	if m := rig.adapter.wait(t); !strings.Contains(m.Text, "You've unsubscribed") {
		t.Fatalf("unsubscribe reply: %q", m.Text)
	}
	if ok, _ := rig.store.IsSubscriber(context.Background(), 42); ok {
		t.Fatal("chat still subscribed")
	}

	rig.updates <- msgUpdate(42, "/stop")
	if m := rig.adapter.wait(t); !strings.Contains(m.Text, "not currently subscribed") {
		t.Fatalf("repeat unsubscribe reply: %q", m.Text)
	}
}

func TestCallbackDispatch(t *testing.T) {
	t.Parallel()
	rig := startRouter(t, fakeSched{}, time.Now())

	rig.updates <- kit.Update{
		Kind:     kit.UpdateCallback,
		Callback: &kit.Callback{ID: "cb1", ChatID: 42, FromID: 42, Data: "\fprayer:start"},
	}
	m := rig.adapter.wait(t)
	if !strings.Contains(m.Text, "Welcome to the Prayer Times Bot!") {
		t.Fatalf("callback start reply: %q", m.Text)
	}
	rig.adapter.mu.Lock()
	answered := len(rig.adapter.answered)
	rig.adapter.mu.Unlock()
	if answered != 1 {
		t.Fatalf("callback not answered (%d)", answered)
	}
}

func TestCallbackEditsInPlace(t *testing.T) {
	t.Parallel()
	tbl := routerTable(t)
	rig := startRouter(t, fakeSched{tbl: tbl, ok: true}, time.Now())

	rig.updates <- kit.Update{
		Kind:     kit.UpdateCallback,
		Callback: &kit.Callback{ID: "cb1", ChatID: 42, FromID: 42, MessageID: 7, Data: "\fprayer:today"},
	}
	m := rig.adapter.wait(t)
	if !m.Edited || m.MsgID != 7 {
		t.Fatalf("expected in-place edit of message 7, got %+v", m)
	}
	if !strings.Contains(m.Text, "Today's Prayer Times:") {
		t.Fatalf("edited text: %q", m.Text)
	}
	if m.Markup == nil {
		t.Fatal("edited message missing keyboard")
	}
}

func TestCallbackEditFallsBackToSend(t *testing.T) {
	t.Parallel()
	rig := startRouter(t, fakeSched{}, time.Now())
	rig.adapter.mu.Lock()
	rig.adapter.editErr = context.DeadlineExceeded
	rig.adapter.mu.Unlock()

	rig.updates <- kit.Update{
		Kind:     kit.UpdateCallback,
		Callback: &kit.Callback{ID: "cb1", ChatID: 42, FromID: 42, MessageID: 7, Data: "\fprayer:start"},
	}
	m := rig.adapter.wait(t)
	if m.Edited {
		t.Fatalf("expected fresh send after rejected edit, got %+v", m)
	}
	if !strings.Contains(m.Text, "Welcome to the Prayer Times Bot!") {
		t.Fatalf("fallback reply: %q", m.Text)
	}
}

func TestStartSendsWelcomePhoto(t *testing.T) {
	t.Parallel()
	rig := startRouter(t, fakeSched{}, time.Now())
	rig.router.SetWelcomeImage("https://example.com/welcome.jpg")

	rig.updates <- msgUpdate(42, "/start")
	photo := rig.adapter.wait(t)
	if photo.Photo != "https://example.com/welcome.jpg" {
		t.Fatalf("expected welcome photo first, got %+v", photo)
	}
	greeting := rig.adapter.wait(t)
	if !strings.Contains(greeting.Text, "Welcome to the Prayer Times Bot!") {
		t.Fatalf("greeting after photo: %q", greeting.Text)
	}
	if greeting.Markup == nil {
		t.Fatal("greeting missing keyboard")
	}
}

func TestUsageLogged(t *testing.T) {
	t.Parallel()
	rig := startRouter(t, fakeSched{}, time.Now())

	rig.updates <- msgUpdate(42, "/start")
	rig.adapter.wait(t)

	rig.store.mu.Lock()
	defer rig.store.mu.Unlock()
	if len(rig.store.usage) != 1 || rig.store.usage[0] != "start" {
		t.Fatalf("usage = %v", rig.store.usage)
	}
}
