package service

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/digkill/ThumbnailBot/internal/events"
	"github.com/digkill/ThumbnailBot/internal/models"
	"github.com/digkill/ThumbnailBot/internal/repository"
	"github.com/digkill/ThumbnailBot/internal/retry"
)

// ImageGenerator turns a prompt into image bytes.
type ImageGenerator interface {
	Generate(ctx context.Context, prompt string) ([]byte, error)
}

// Publisher stores image bytes and returns a public URL.
type Publisher interface {
	Publish(ctx context.Context, data []byte, contentType string) (string, error)
}

type GenerationService struct {
	log         *slog.Logger
	ledger      *repository.LedgerRepository
	generator   ImageGenerator
	publisher   Publisher
	messenger   Messenger
	events      events.Publisher
	retry       retry.Policy
	affirmative string
}

func NewGenerationService(log *slog.Logger, ledger *repository.LedgerRepository, generator ImageGenerator, publisher Publisher, messenger Messenger, evts events.Publisher, policy retry.Policy, affirmative string) *GenerationService {
	if evts == nil {
		evts = events.Noop{}
	}
	return &GenerationService{
		log:         log,
		ledger:      ledger,
		generator:   generator,
		publisher:   publisher,
		messenger:   messenger,
		events:      evts,
		retry:       policy,
		affirmative: affirmative,
	}
}

// Run generates, publishes and charges for one image. The credit is taken only
// after the image has a public URL; any earlier failure leaves the account
// untouched. Every outcome ends in a message to the user.
func (s *GenerationService) Run(ctx context.Context, ev Event, prompt string) (err error) {
	log := s.log.With("user_id", ev.UserID)

	defer func() {
		if r := recover(); r != nil {
			log.Error("generation panicked", "panic", r)
			s.notify(ctx, ev.UserID, textGenericError)
			err = fmt.Errorf("generation panic: %v", r)
		}
	}()

	if err := s.messenger.Reply(ctx, ev, Message{Text: textGenerating}); err != nil {
		log.Warn("send generation ack", "err", err)
	}

	data, err := s.generator.Generate(ctx, prompt)
	if err != nil {
		log.Error("image generation failed", "err", err)
		s.notify(ctx, ev.UserID, fmt.Sprintf(textGenerationFailed, s.affirmative))
		return &models.GatewayError{Gateway: "image generation", Err: err}
	}

	contentType := detectImageType(data)
	var url string
	err = s.retry.Do(ctx, func(ctx context.Context) error {
		u, err := s.publisher.Publish(ctx, data, contentType)
		if err != nil {
			log.Warn("publish attempt failed", "err", err)
			return err
		}
		url = u
		return nil
	})
	if err != nil {
		log.Error("publish failed", "err", err)
		s.notify(ctx, ev.UserID, fmt.Sprintf(textPublishFailed, s.affirmative))
		return &models.GatewayError{Gateway: "publish", Err: err}
	}

	remaining, err := s.ledger.DebitOneCredit(ctx, ev.UserID)
	if err != nil {
		log.Error("debit credit failed", "url", url, "err", err)
		s.notify(ctx, ev.UserID, textGenericError)
		return err
	}
	log.Info("image published", "url", url, "remaining_credits", remaining)

	if err := s.messenger.Push(ctx, ev.UserID, Message{
		Text:     fmt.Sprintf(textGenerated, remaining),
		ImageURL: url,
	}); err != nil {
		log.Error("deliver image", "url", url, "err", err)
	}

	if err := s.events.Publish(ctx, events.Event{
		Type:      events.TypeImagePublished,
		UserID:    ev.UserID,
		Credits:   remaining,
		Reference: url,
	}); err != nil {
		log.Warn("emit image event", "err", err)
	}
	return nil
}

// notify pushes a failure notice. It detaches from ctx so the notice still
// goes out when the failure was caused by cancellation.
func (s *GenerationService) notify(ctx context.Context, userID, text string) {
	if err := s.messenger.Push(context.WithoutCancel(ctx), userID, Message{Text: text}); err != nil {
		s.log.Error("push notification", "user_id", userID, "err", err)
	}
}

func detectImageType(data []byte) string {
	ct := http.DetectContentType(data)
	if idx := strings.Index(ct, ";"); idx > 0 {
		ct = ct[:idx]
	}
	if !strings.HasPrefix(ct, "image/") {
		return "image/png"
	}
	return ct
}
