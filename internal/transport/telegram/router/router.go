// Package router dispatches incoming Telegram updates to the bot's command
// handlers. Commands and inline-keyboard callbacks share the same handlers.
package router

import (
	"context"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"prayerbot/internal/prayer"
	rtsup "prayerbot/internal/runtime/supervisor"
	kit "prayerbot/internal/transport"
	logx "prayerbot/pkg/logx"
	"prayerbot/pkg/tgui"
)

const (
	cbScope = "prayer"

	cmdStart      = "start"
	cmdToday      = "today"
	cmdNextPrayer = "nextprayer"
	cmdNotify     = "notify"
	cmdStop       = "stop"
	cmdHelp       = "help"
)

const handlerTimeout = 15 * time.Second

// SubscriberStore is the slice of the storage layer the router needs. Nil
// when storage is disabled; subscription commands then report that.
type SubscriberStore interface {
	AddSubscriber(ctx context.Context, chatID int64) error
	RemoveSubscriber(ctx context.Context, chatID int64) error
	IsSubscriber(ctx context.Context, chatID int64) (bool, error)
	LogUsage(ctx context.Context, command string, chatID int64) error
}

// ScheduleSource exposes the currently installed day table.
type ScheduleSource interface {
	Current() (prayer.Table, bool)
}

type Router struct {
	log     logx.Logger
	adapter kit.Adapter
	store   SubscriberStore
	sched   ScheduleSource
	now     func() time.Time

	// welcomeImage, when set, is sent as a photo ahead of the /start greeting.
	welcomeImage string
}

func New(adapter kit.Adapter, store SubscriberStore, sched ScheduleSource, log logx.Logger) *Router {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Router{
		log:     log,
		adapter: adapter,
		store:   store,
		sched:   sched,
		now:     time.Now,
	}
}

// SetWelcomeImage sets the photo URL sent before the /start greeting. Call
// before Run.
func (r *Router) SetWelcomeImage(url string) { r.welcomeImage = strings.TrimSpace(url) }

// Run consumes updates until ctx is done. Each update is handled on a small
// supervised worker pool so one slow handler does not stall the stream.
func (r *Router) Run(ctx context.Context, updates <-chan kit.Update) error {
	const workers = 2
	jobs := make(chan kit.Update, 32)

	sup := rtsup.New(ctx,
		rtsup.WithLogger(r.log.With(logx.String("comp", "telegram.router"))),
		rtsup.WithCancelOnError(false),
	)
	for i := 0; i < workers; i++ {
		sup.Go0(fmt.Sprintf("router.worker.%d", i), func(c context.Context) {
			for {
				select {
				case <-c.Done():
					return
				case up, ok := <-jobs:
					if !ok {
						return
					}
					r.handle(c, up)
				}
			}
		})
	}

	r.log.Info("command dispatcher started", logx.Int("workers", workers))
loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case up, ok := <-updates:
			if !ok {
				break loop
			}
			select {
			case jobs <- up:
			case <-ctx.Done():
				break loop
			}
		}
	}

	close(jobs)
	sup.Cancel()
	wctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = sup.Wait(wctx)
	return nil
}

func (r *Router) handle(ctx context.Context, up kit.Update) {
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error("panic in update handler", logx.Any("panic", rec), logx.String("stack", string(debug.Stack())))
		}
	}()

	hctx, cancel := context.WithTimeout(ctx, handlerTimeout)
	defer cancel()

	switch up.Kind {
	case kit.UpdateMessage:
		if up.Message == nil {
			return
		}
		cmd, ok := parseCommand(up.Message.Text)
		if !ok {
			return
		}
		r.dispatch(hctx, cmd, up.Message.ChatID, nil)
	case kit.UpdateCallback:
		if up.Callback == nil {
			return
		}
		scope, action := tgui.SplitData(up.Callback.Data)
		if scope != cbScope {
			r.log.Debug("unhandled callback", logx.String("data", up.Callback.Data))
			return
		}
		_ = r.adapter.AnswerCallback(hctx, up.Callback.ID, "")
		// Button presses refresh the message that carried the keyboard.
		ref := &kit.MessageRef{ChatID: up.Callback.ChatID, MessageID: up.Callback.MessageID}
		r.dispatch(hctx, action, up.Callback.ChatID, ref)
	}
}

// parseCommand extracts the command token from "/cmd", "/cmd@BotName" or
// "/cmd args". Non-command text is ignored.
func parseCommand(text string) (string, bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return "", false
	}
	tok := strings.Fields(text)[0]
	tok = strings.TrimPrefix(tok, "/")
	tok, _, _ = strings.Cut(tok, "@")
	tok = strings.ToLower(tok)
	if tok == "" {
		return "", false
	}
	return tok, true
}

func (r *Router) dispatch(ctx context.Context, cmd string, chatID int64, ref *kit.MessageRef) {
	r.logUsage(ctx, cmd, chatID)

	var err error
	switch cmd {
	case cmdStart, cmdHelp:
		err = r.handleStart(ctx, chatID, ref)
	case cmdToday:
		err = r.handleToday(ctx, chatID, ref)
	case cmdNextPrayer:
		err = r.handleNextPrayer(ctx, chatID, ref)
	case cmdNotify:
		err = r.handleSubscribe(ctx, chatID, ref)
	case cmdStop:
		err = r.handleUnsubscribe(ctx, chatID, ref)
	default:
		r.log.Debug("unknown command", logx.String("command", cmd), logx.Int64("chat_id", chatID))
		return
	}
	if err != nil {
		r.log.Warn("command failed", logx.String("command", cmd), logx.Int64("chat_id", chatID), logx.Err(err))
	}
}

func (r *Router) logUsage(ctx context.Context, cmd string, chatID int64) {
	if r.store == nil {
		return
	}
	if err := r.store.LogUsage(ctx, cmd, chatID); err != nil {
		r.log.Debug("usage log failed", logx.Err(err))
	}
}

// Menu builds the inline keyboard. The last button flips between subscribe
// and unsubscribe based on the chat's current state.
func Menu(subscribed bool) any {
	kb := tgui.NewInline().
		Row(
			tgui.Btn("Start", tgui.Data(cbScope, cmdStart)),
			tgui.Btn("Today's Prayer Times", tgui.Data(cbScope, cmdToday)),
		)
	sub := tgui.Btn("Notify Me!", tgui.Data(cbScope, cmdNotify))
	if subscribed {
		sub = tgui.Btn("Stop Notifications", tgui.Data(cbScope, cmdStop))
	}
	kb.Row(tgui.Btn("Next Prayer", tgui.Data(cbScope, cmdNextPrayer)), sub)
	return kb.Markup()
}

func (r *Router) menuFor(ctx context.Context, chatID int64) any {
	subscribed := false
	if r.store != nil {
		if ok, err := r.store.IsSubscriber(ctx, chatID); err == nil {
			subscribed = ok
		}
	}
	return Menu(subscribed)
}

// reply answers a command. When ref points at the message a button press came
// from, the reply edits that message in place so the chat does not fill up
// with menus; anything else (or a rejected edit) goes out as a fresh send.
func (r *Router) reply(ctx context.Context, chatID int64, ref *kit.MessageRef, text string, html bool) error {
	opt := &kit.SendOptions{
		DisablePreview: true,
		ReplyMarkup:    r.menuFor(ctx, chatID),
	}
	if html {
		opt.ParseMode = "HTML"
	}
	if ref != nil && ref.MessageID != 0 {
		err := r.adapter.EditText(ctx, *ref, text, opt)
		if err == nil {
			return nil
		}
		// Telegram rejects edits of old or unchanged messages.
		r.log.Debug("edit rejected, sending a new message", logx.Err(err))
	}
	_, err := r.adapter.SendText(ctx, kit.ChatTarget{ChatID: chatID}, text, opt)
	return err
}

const welcomeText = "Assalamu Aleykum! 🌙\n\n" +
	"Welcome to the Prayer Times Bot! 🕌\n\n" +
	"This bot provides prayer times from Green Lane Masjid. You can easily interact with me using the buttons below. Here are some things you can do:\n\n" +
	"👉 Check today's prayer times\n" +
	"👉 Find out the time remaining until the next prayer\n" +
	"👉 Subscribe or unsubscribe from real-time prayer notifications\n\n" +
	"Just tap on one of the buttons below to get started! 🤖"

const unavailableText = "Sorry, I'm unable to fetch prayer times right now. Please try again later."

func (r *Router) handleStart(ctx context.Context, chatID int64, ref *kit.MessageRef) error {
	if r.welcomeImage != "" {
		// Greeting photo first; the text message carries the keyboard.
		if _, err := r.adapter.SendPhoto(ctx, kit.ChatTarget{ChatID: chatID}, r.welcomeImage, "", nil); err != nil {
			r.log.Warn("welcome image failed", logx.Int64("chat_id", chatID), logx.Err(err))
		}
	}
	return r.reply(ctx, chatID, ref, welcomeText, false)
}

func (r *Router) handleToday(ctx context.Context, chatID int64, ref *kit.MessageRef) error {
	tbl, ok := r.sched.Current()
	if !ok {
		return r.reply(ctx, chatID, ref, unavailableText, false)
	}

	var b strings.Builder
	b.WriteString("<b>Today's Prayer Times:</b>\n\n")
	for _, e := range tbl.Events() {
		if e.Name == prayer.Sunrise {
			continue
		}
		fmt.Fprintf(&b, "<b>%s %s:</b>\n   Start: %s\n", e.Name.Icon(), e.Name, e.Start.Format("3:04 PM"))
		if e.HasJamaat() {
			fmt.Fprintf(&b, "   Jamat: %s\n", e.Jamaat.Format("3:04 PM"))
		}
		b.WriteString("\n")
	}
	return r.reply(ctx, chatID, ref, b.String(), true)
}

func (r *Router) handleNextPrayer(ctx context.Context, chatID int64, ref *kit.MessageRef) error {
	tbl, ok := r.sched.Current()
	if !ok {
		return r.reply(ctx, chatID, ref, unavailableText, false)
	}

	now := r.now().In(tbl.Location())
	next, ok := prayer.Next(now, tbl)
	if !ok {
		// Past Isha: point at tomorrow's Fajr, assuming it starts around the
		// same time as today's.
		fajr, ok := tbl.Get(prayer.Fajr)
		if !ok {
			return r.reply(ctx, chatID, ref, unavailableText, false)
		}
		until := prayer.Remaining(fajr.Start.AddDate(0, 0, 1).Sub(now))
		text := fmt.Sprintf("🌙 The start time for Isha has passed. \nNext is Fajr in roughly %s. See you tomorrow for Fajr, in shaa Allah!", until)
		return r.reply(ctx, chatID, ref, text, false)
	}

	text := fmt.Sprintf("%s Next prayer is %s at %s. Time remaining: %s",
		next.Name.Icon(), next.Name, next.Start.Format("3:04 PM"), prayer.Remaining(next.Start.Sub(now)))
	if next.HasJamaat() {
		text += fmt.Sprintf("\n\nJamat is at %s.", next.Jamaat.Format("3:04 PM"))
	}
	return r.reply(ctx, chatID, ref, text, false)
}

func (r *Router) handleSubscribe(ctx context.Context, chatID int64, ref *kit.MessageRef) error {
	if r.store == nil {
		return r.reply(ctx, chatID, ref, "Notifications are not available right now.", false)
	}
	already, err := r.store.IsSubscriber(ctx, chatID)
	if err != nil {
		return err
	}
	if already {
		return r.reply(ctx, chatID, ref, "You are already subscribed.", false)
	}
	if err := r.store.AddSubscriber(ctx, chatID); err != nil {
		return err
	}
	r.log.Info("subscriber added", logx.Int64("chat_id", chatID))
	return r.reply(ctx, chatID, ref, "📣✅🕌 - You've subscribed to prayer time notifications.", false)
}

func (r *Router) handleUnsubscribe(ctx context.Context, chatID int64, ref *kit.MessageRef) error {
	if r.store == nil {
		return r.reply(ctx, chatID, ref, "Notifications are not available right now.", false)
	}
	subscribed, err := r.store.IsSubscriber(ctx, chatID)
	if err != nil {
		return err
	}
	if !subscribed {
		return r.reply(ctx, chatID, ref, "You are not currently subscribed.", false)
	}
	if err := r.store.RemoveSubscriber(ctx, chatID); err != nil {
		return err
	}
	r.log.Info("subscriber removed", logx.Int64("chat_id", chatID))
	return r.reply(ctx, chatID, ref, "🔕❌🕌 - You've unsubscribed from prayer time notifications.", false)
}
