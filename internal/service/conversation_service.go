package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/digkill/ThumbnailBot/internal/lock"
	"github.com/digkill/ThumbnailBot/internal/models"
	"github.com/digkill/ThumbnailBot/internal/repository"
)

// CheckoutLinker creates payment links for a user.
type CheckoutLinker interface {
	CheckoutURL(ctx context.Context, userID string) (string, error)
	PriceLabel() string
	Credits() int
}

// ConversationService drives the prompt, confirm and generate dialogue.
type ConversationService struct {
	log        *slog.Logger
	ledger     *repository.LedgerRepository
	users      *UserService
	generation *GenerationService
	payments   CheckoutLinker
	messenger  Messenger
	locker     lock.Locker
	tokens     Tokens
}

func NewConversationService(log *slog.Logger, ledger *repository.LedgerRepository, users *UserService, generation *GenerationService, payments CheckoutLinker, messenger Messenger, locker lock.Locker, tokens Tokens) *ConversationService {
	return &ConversationService{
		log:        log,
		ledger:     ledger,
		users:      users,
		generation: generation,
		payments:   payments,
		messenger:  messenger,
		locker:     locker,
		tokens:     tokens,
	}
}

// Handle processes one inbound event. Events for the same user never run
// concurrently; a second event while one is in flight is answered with a busy
// notice and changes nothing.
func (s *ConversationService) Handle(ctx context.Context, ev Event) error {
	release, ok, err := s.locker.TryLock(ctx, ev.UserID)
	if err != nil {
		s.log.Error("acquire user lock", "user_id", ev.UserID, "err", err)
		s.reply(ctx, ev, Message{Text: textGenericError})
		return err
	}
	if !ok {
		s.reply(ctx, ev, Message{Text: textBusy})
		return nil
	}
	defer release()

	if ev.Command != "" {
		err = s.handleCommand(ctx, ev)
	} else {
		err = s.handleText(ctx, ev)
	}
	if err != nil {
		s.log.Error("handle event", "user_id", ev.UserID, "err", err)
	}
	return err
}

func (s *ConversationService) handleCommand(ctx context.Context, ev Event) error {
	switch ev.Command {
	case "start":
		return s.handleFollow(ctx, ev)
	case "balance":
		account, err := s.ensure(ctx, ev)
		if err != nil {
			return err
		}
		s.reply(ctx, ev, Message{Text: fmt.Sprintf(textBalance, account.Credits)})
		return nil
	case "buy":
		if _, err := s.ensure(ctx, ev); err != nil {
			return err
		}
		url, err := s.payments.CheckoutURL(ctx, ev.UserID)
		if err != nil {
			s.reply(ctx, ev, Message{Text: textPaymentUnavailable})
			return err
		}
		s.reply(ctx, ev, Message{Text: fmt.Sprintf(textBuy, s.payments.PriceLabel(), s.payments.Credits(), url)})
		return nil
	case "cancel":
		account, err := s.ensure(ctx, ev)
		if err != nil {
			return err
		}
		return s.cancel(ctx, ev, account)
	default:
		s.reply(ctx, ev, Message{Text: textHint})
		return nil
	}
}

// handleFollow registers the user on first contact. Repeated follows keep the
// existing balance.
func (s *ConversationService) handleFollow(ctx context.Context, ev Event) error {
	account, err := s.ensure(ctx, ev)
	if err != nil {
		return err
	}
	s.reply(ctx, ev, Message{Text: fmt.Sprintf(textWelcome, account.Credits)})
	return nil
}

func (s *ConversationService) handleText(ctx context.Context, ev Event) error {
	text := strings.TrimSpace(ev.Text)
	if text == "" {
		s.reply(ctx, ev, Message{Text: textHint})
		return nil
	}

	account, err := s.ensure(ctx, ev)
	if err != nil {
		return err
	}

	switch s.tokens.Classify(text) {
	case InputAffirmative:
		return s.confirm(ctx, ev, account)
	case InputNegative:
		return s.cancel(ctx, ev, account)
	default:
		if err := s.ledger.SetPendingPrompt(ctx, ev.UserID, &text); err != nil {
			s.reply(ctx, ev, Message{Text: textGenericError})
			return err
		}
		s.reply(ctx, ev, Message{
			Text:    fmt.Sprintf(textConfirm, text, s.tokens.Affirmative, s.tokens.Negative),
			Choices: []string{s.tokens.Affirmative, s.tokens.Negative},
		})
		return nil
	}
}

func (s *ConversationService) confirm(ctx context.Context, ev Event, account *models.Account) error {
	awaiting, ok := DecodeState(account).(AwaitingConfirmation)
	if !ok {
		s.reply(ctx, ev, Message{Text: textNothingToGenerate})
		return nil
	}

	if account.Credits <= 0 {
		url, err := s.payments.CheckoutURL(ctx, ev.UserID)
		if err != nil {
			s.reply(ctx, ev, Message{Text: textPaymentUnavailable})
			return err
		}
		s.reply(ctx, ev, Message{Text: fmt.Sprintf(textPaymentRequired, s.payments.PriceLabel(), s.payments.Credits(), url)})
		return nil
	}

	return s.generation.Run(ctx, ev, awaiting.Prompt)
}

func (s *ConversationService) cancel(ctx context.Context, ev Event, account *models.Account) error {
	if _, pending := DecodeState(account).(AwaitingConfirmation); pending {
		if err := s.ledger.SetPendingPrompt(ctx, ev.UserID, nil); err != nil {
			s.reply(ctx, ev, Message{Text: textGenericError})
			return err
		}
	}
	s.reply(ctx, ev, Message{Text: textCancelled})
	return nil
}

func (s *ConversationService) ensure(ctx context.Context, ev Event) (*models.Account, error) {
	account, err := s.users.Ensure(ctx, ev.UserID)
	if err != nil {
		s.reply(ctx, ev, Message{Text: textGenericError})
		return nil, err
	}
	return account, nil
}

func (s *ConversationService) reply(ctx context.Context, ev Event, msg Message) {
	if err := s.messenger.Reply(ctx, ev, msg); err != nil {
		s.log.Error("send reply", "user_id", ev.UserID, "err", err)
	}
}
