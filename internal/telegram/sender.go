package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/digkill/ThumbnailBot/internal/service"
)

type botAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Sender delivers service messages through the Bot API. Users talk to the bot
// in private chats, so a user id doubles as the chat id for pushes.
type Sender struct {
	api botAPI
	log *slog.Logger
}

func NewSender(api botAPI, log *slog.Logger) *Sender {
	return &Sender{api: api, log: log}
}

func (s *Sender) Reply(ctx context.Context, ev service.Event, msgs ...service.Message) error {
	for i, msg := range msgs {
		replyTo := 0
		if i == 0 {
			replyTo = ev.MessageID
		}
		if err := s.send(ctx, ev.ChatID, replyTo, msg); err != nil {
			return err
		}
	}
	return nil
}

func (s *Sender) Push(ctx context.Context, userID string, msgs ...service.Message) error {
	chatID, err := strconv.ParseInt(userID, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid telegram user id %q: %w", userID, err)
	}
	for _, msg := range msgs {
		if err := s.send(ctx, chatID, 0, msg); err != nil {
			return err
		}
	}
	return nil
}

func (s *Sender) send(ctx context.Context, chatID int64, replyTo int, msg service.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if msg.Text != "" {
		text := tgbotapi.NewMessage(chatID, msg.Text)
		text.ReplyToMessageID = replyTo
		if len(msg.Choices) > 0 {
			buttons := make([]tgbotapi.KeyboardButton, 0, len(msg.Choices))
			for _, choice := range msg.Choices {
				buttons = append(buttons, tgbotapi.NewKeyboardButton(choice))
			}
			keyboard := tgbotapi.NewOneTimeReplyKeyboard(tgbotapi.NewKeyboardButtonRow(buttons...))
			keyboard.ResizeKeyboard = true
			text.ReplyMarkup = keyboard
		}
		if _, err := s.api.Send(text); err != nil {
			return fmt.Errorf("send text: %w", err)
		}
	}

	if msg.ImageURL != "" {
		photo := tgbotapi.NewPhoto(chatID, tgbotapi.FileURL(msg.ImageURL))
		if _, err := s.api.Send(photo); err != nil {
			return fmt.Errorf("send image: %w", err)
		}
	}
	return nil
}
