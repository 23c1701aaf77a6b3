package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/digkill/ThumbnailBot/internal/service"
)

// Handler consumes inbound conversation events.
type Handler interface {
	Handle(ctx context.Context, ev service.Event) error
}

// Bot receives updates by long polling, or through ServeHTTP when a webhook
// URL is configured, and hands each one to the handler on its own goroutine.
type Bot struct {
	api        *tgbotapi.BotAPI
	handler    Handler
	log        *slog.Logger
	webhookURL string
	wg         sync.WaitGroup
}

func NewBot(api *tgbotapi.BotAPI, handler Handler, log *slog.Logger, webhookURL string) *Bot {
	return &Bot{
		api:        api,
		handler:    handler,
		log:        log,
		webhookURL: webhookURL,
	}
}

func (b *Bot) Run(ctx context.Context) error {
	if b.webhookURL != "" {
		return b.runWebhook(ctx)
	}

	if _, err := b.api.Request(tgbotapi.DeleteWebhookConfig{}); err != nil {
		b.log.Warn("delete webhook", "err", err)
	}

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := b.api.GetUpdatesChan(u)
	b.log.Info("telegram bot started", "mode", "polling", "username", b.api.Self.UserName)

	for {
		select {
		case update := <-updates:
			b.dispatch(ctx, update)
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			return ctx.Err()
		}
	}
}

func (b *Bot) runWebhook(ctx context.Context) error {
	wh, err := tgbotapi.NewWebhook(b.webhookURL)
	if err != nil {
		return fmt.Errorf("build webhook: %w", err)
	}
	if _, err := b.api.Request(wh); err != nil {
		return fmt.Errorf("register webhook: %w", err)
	}
	b.log.Info("telegram bot started", "mode", "webhook", "username", b.api.Self.UserName)

	<-ctx.Done()
	return ctx.Err()
}

// ServeHTTP accepts webhook deliveries. Processing continues after the
// response is written.
func (b *Bot) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	update, err := b.api.HandleUpdate(r)
	if err != nil {
		b.log.Warn("decode telegram update", "err", err)
		http.Error(w, "bad update", http.StatusBadRequest)
		return
	}
	b.dispatch(r.Context(), *update)
	w.WriteHeader(http.StatusOK)
}

// Wait blocks until in-flight updates are processed.
func (b *Bot) Wait() {
	b.wg.Wait()
}

// dispatch runs the handler on a context detached from ctx, so shutdown or a
// finished webhook request does not abort an update midway. Wait drains them.
func (b *Bot) dispatch(ctx context.Context, update tgbotapi.Update) {
	ev, ok := eventFromUpdate(update)
	if !ok {
		return
	}
	ctx = context.WithoutCancel(ctx)
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				b.log.Error("update handler panicked", "user_id", ev.UserID, "panic", r)
			}
		}()
		if err := b.handler.Handle(ctx, ev); err != nil {
			b.log.Debug("update handled with error", "user_id", ev.UserID, "err", err)
		}
	}()
}

// eventFromUpdate keeps private-chat messages only.
func eventFromUpdate(update tgbotapi.Update) (service.Event, bool) {
	msg := update.Message
	if msg == nil || msg.Chat == nil || !msg.Chat.IsPrivate() {
		return service.Event{}, false
	}

	userID := msg.Chat.ID
	if msg.From != nil {
		userID = msg.From.ID
	}

	ev := service.Event{
		UserID:    strconv.FormatInt(userID, 10),
		ChatID:    msg.Chat.ID,
		MessageID: msg.MessageID,
	}
	if msg.IsCommand() {
		ev.Command = msg.Command()
	} else {
		ev.Text = msg.Text
	}
	return ev, true
}
