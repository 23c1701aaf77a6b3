package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/client"
	"github.com/stripe/stripe-go/v82/webhook"

	"github.com/digkill/ThumbnailBot/internal/config"
	"github.com/digkill/ThumbnailBot/internal/events"
	"github.com/digkill/ThumbnailBot/internal/models"
	"github.com/digkill/ThumbnailBot/internal/repository"
)

// PaymentOptions describes the credit pack sold through Stripe Checkout.
type PaymentOptions struct {
	WebhookSecret string
	Currency      string
	Price         int
	Credits       int
	ProductName   string
	SuccessURL    string
	CancelURL     string
}

func PaymentOptionsFromConfig(cfg config.Config) PaymentOptions {
	return PaymentOptions{
		WebhookSecret: cfg.StripeWebhookSecret,
		Currency:      cfg.PaymentCurrency,
		Price:         cfg.PaymentPrice,
		Credits:       cfg.PaymentCredits,
		ProductName:   cfg.PaymentProductName,
		SuccessURL:    cfg.PaymentSuccessURL,
		CancelURL:     cfg.PaymentCancelURL,
	}
}

type PaymentService struct {
	opts      PaymentOptions
	log       *slog.Logger
	ledger    *repository.LedgerRepository
	stripe    *client.API
	messenger Messenger
	events    events.Publisher
}

func NewPaymentService(opts PaymentOptions, log *slog.Logger, ledger *repository.LedgerRepository, sc *client.API, messenger Messenger, evts events.Publisher) *PaymentService {
	if evts == nil {
		evts = events.Noop{}
	}
	return &PaymentService{
		opts:      opts,
		log:       log,
		ledger:    ledger,
		stripe:    sc,
		messenger: messenger,
		events:    evts,
	}
}

// PriceLabel renders the pack price for user messages.
func (s *PaymentService) PriceLabel() string {
	return priceLabel(s.opts.Price, s.opts.Currency)
}

func (s *PaymentService) Credits() int { return s.opts.Credits }

// CheckoutURL creates a one-off Checkout Session for userID.
func (s *PaymentService) CheckoutURL(ctx context.Context, userID string) (string, error) {
	params := &stripe.CheckoutSessionParams{
		Mode:               stripe.String(string(stripe.CheckoutSessionModePayment)),
		PaymentMethodTypes: stripe.StringSlice([]string{"card"}),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency: stripe.String(s.opts.Currency),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name: stripe.String(s.opts.ProductName),
					},
					UnitAmount: stripe.Int64(int64(s.opts.Price)),
				},
				Quantity: stripe.Int64(1),
			},
		},
		SuccessURL:        stripe.String(s.opts.SuccessURL),
		CancelURL:         stripe.String(s.opts.CancelURL),
		ClientReferenceID: stripe.String(userID),
	}
	params.AddMetadata("user_id", userID)
	params.Context = ctx

	session, err := s.stripe.CheckoutSessions.New(params)
	if err != nil {
		return "", &models.GatewayError{Gateway: "stripe", Err: err}
	}
	if session.URL == "" {
		return "", &models.GatewayError{Gateway: "stripe", Err: errors.New("checkout session without url")}
	}
	s.log.Info("checkout session created", "user_id", userID, "session_id", session.ID)
	return session.URL, nil
}

// HandleWebhook verifies and applies a Stripe notification. Completed
// checkouts credit the user once per session id; replays are no-ops.
func (s *PaymentService) HandleWebhook(ctx context.Context, payload []byte, signature string) error {
	event, err := webhook.ConstructEventWithOptions(payload, signature, s.opts.WebhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return fmt.Errorf("%w: %v", models.ErrAuthentication, err)
	}

	if event.Type != stripe.EventTypeCheckoutSessionCompleted {
		s.log.Debug("stripe event ignored", "type", event.Type, "event_id", event.ID)
		return nil
	}

	var session stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
		return fmt.Errorf("parse checkout session: %w", err)
	}
	userID := session.ClientReferenceID
	if userID == "" {
		s.log.Warn("checkout session without client reference", "session_id", session.ID)
		return nil
	}

	amount := int(session.AmountTotal)
	if amount <= 0 {
		amount = s.opts.Price
	}

	credited := false
	err = s.ledger.Transaction(ctx, func(tx *repository.LedgerRepository) error {
		recorded, err := tx.RecordTransaction(ctx, models.Transaction{
			ID:           session.ID,
			UserID:       userID,
			Amount:       amount,
			CreditsAdded: s.opts.Credits,
			Status:       models.TransactionStatusCompleted,
		})
		if err != nil || !recorded {
			return err
		}
		if err := tx.Create(ctx, userID); err != nil {
			return err
		}
		if err := tx.AddCredits(ctx, userID, s.opts.Credits); err != nil {
			return err
		}
		credited = true
		return nil
	})
	if err != nil {
		return err
	}
	if !credited {
		s.log.Info("checkout session already processed", "session_id", session.ID, "user_id", userID)
		return nil
	}
	s.log.Info("credits purchased", "session_id", session.ID, "user_id", userID, "credits", s.opts.Credits)

	s.afterPurchase(ctx, userID, session.ID)
	return nil
}

func (s *PaymentService) afterPurchase(ctx context.Context, userID, sessionID string) {
	balance := s.opts.Credits
	if account, err := s.ledger.Get(ctx, userID); err == nil && account != nil {
		balance = account.Credits
	}

	if s.messenger != nil {
		if err := s.messenger.Push(ctx, userID, Message{Text: fmt.Sprintf(textCreditsAdded, s.opts.Credits, balance)}); err != nil {
			s.log.Warn("notify purchase", "user_id", userID, "err", err)
		}
	}
	if err := s.events.Publish(ctx, events.Event{
		Type:      events.TypeCreditsPurchased,
		UserID:    userID,
		Credits:   s.opts.Credits,
		Reference: sessionID,
	}); err != nil {
		s.log.Warn("emit purchase event", "err", err)
	}
}
