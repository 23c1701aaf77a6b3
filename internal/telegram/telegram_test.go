package telegram

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/digkill/ThumbnailBot/internal/service"
)

type fakeAPI struct {
	sent []tgbotapi.Chattable
	err  error
}

func (f *fakeAPI) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.sent = append(f.sent, c)
	return tgbotapi.Message{}, f.err
}

func newTestSender(api *fakeAPI) *Sender {
	return NewSender(api, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func privateMessage(text string) *tgbotapi.Message {
	return &tgbotapi.Message{
		MessageID: 42,
		From:      &tgbotapi.User{ID: 1001},
		Chat:      &tgbotapi.Chat{ID: 1001, Type: "private"},
		Text:      text,
	}
}

func TestEventFromUpdateText(t *testing.T) {
	ev, ok := eventFromUpdate(tgbotapi.Update{Message: privateMessage("はい")})
	require.True(t, ok)
	assert.Equal(t, service.Event{UserID: "1001", ChatID: 1001, MessageID: 42, Text: "はい"}, ev)
}

func TestEventFromUpdateCommand(t *testing.T) {
	msg := privateMessage("/start")
	msg.Entities = []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: 6}}

	ev, ok := eventFromUpdate(tgbotapi.Update{Message: msg})
	require.True(t, ok)
	assert.Equal(t, "start", ev.Command)
	assert.Empty(t, ev.Text)
}

func TestEventFromUpdateSkipsGroupsAndNonMessages(t *testing.T) {
	_, ok := eventFromUpdate(tgbotapi.Update{})
	assert.False(t, ok)

	msg := privateMessage("hi")
	msg.Chat.Type = "group"
	_, ok = eventFromUpdate(tgbotapi.Update{Message: msg})
	assert.False(t, ok)
}

func TestEventFromUpdatePhotoHasEmptyText(t *testing.T) {
	msg := privateMessage("")
	msg.Photo = []tgbotapi.PhotoSize{{FileID: "f"}}

	ev, ok := eventFromUpdate(tgbotapi.Update{Message: msg})
	require.True(t, ok)
	assert.Empty(t, ev.Text)
}

func TestSenderReplyWithChoices(t *testing.T) {
	api := &fakeAPI{}
	s := newTestSender(api)

	err := s.Reply(context.Background(), service.Event{ChatID: 1001, MessageID: 42}, service.Message{
		Text:    "confirm?",
		Choices: []string{"はい", "いいえ"},
	})
	require.NoError(t, err)

	require.Len(t, api.sent, 1)
	msg, ok := api.sent[0].(tgbotapi.MessageConfig)
	require.True(t, ok)
	assert.Equal(t, int64(1001), msg.ChatID)
	assert.Equal(t, 42, msg.ReplyToMessageID)
	assert.Equal(t, "confirm?", msg.Text)

	keyboard, ok := msg.ReplyMarkup.(tgbotapi.ReplyKeyboardMarkup)
	require.True(t, ok)
	assert.True(t, keyboard.OneTimeKeyboard)
	require.Len(t, keyboard.Keyboard, 1)
	require.Len(t, keyboard.Keyboard[0], 2)
	assert.Equal(t, "はい", keyboard.Keyboard[0][0].Text)
	assert.Equal(t, "いいえ", keyboard.Keyboard[0][1].Text)
}

func TestSenderPushTextThenImage(t *testing.T) {
	api := &fakeAPI{}
	s := newTestSender(api)

	err := s.Push(context.Background(), "1001", service.Message{Text: "done", ImageURL: "https://cdn/a.png"})
	require.NoError(t, err)

	require.Len(t, api.sent, 2)
	text, ok := api.sent[0].(tgbotapi.MessageConfig)
	require.True(t, ok)
	assert.Equal(t, "done", text.Text)
	assert.Zero(t, text.ReplyToMessageID)

	photo, ok := api.sent[1].(tgbotapi.PhotoConfig)
	require.True(t, ok)
	assert.Equal(t, int64(1001), photo.ChatID)
	assert.Equal(t, tgbotapi.FileURL("https://cdn/a.png"), photo.File)
}

func TestSenderErrors(t *testing.T) {
	s := newTestSender(&fakeAPI{err: errors.New("blocked")})

	err := s.Push(context.Background(), "not-a-number", service.Message{Text: "x"})
	require.Error(t, err)

	err = s.Push(context.Background(), "1001", service.Message{Text: "x"})
	require.ErrorContains(t, err, "blocked")
}

type ctxRecorder struct {
	errs []error
}

func (h *ctxRecorder) Handle(ctx context.Context, _ service.Event) error {
	h.errs = append(h.errs, ctx.Err())
	return nil
}

func TestDispatchOutlivesShutdown(t *testing.T) {
	h := &ctxRecorder{}
	b := NewBot(nil, h, slog.New(slog.NewTextHandler(io.Discard, nil)), "")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	b.dispatch(ctx, tgbotapi.Update{Message: privateMessage("はい")})
	b.Wait()

	require.Len(t, h.errs, 1)
	assert.NoError(t, h.errs[0])
}
