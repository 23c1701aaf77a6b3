package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/digkill/ThumbnailBot/internal/models"
	"github.com/digkill/ThumbnailBot/internal/repository"
)

type UserService struct {
	log       *slog.Logger
	ledger    *repository.LedgerRepository
	messenger Messenger
}

func NewUserService(log *slog.Logger, ledger *repository.LedgerRepository, messenger Messenger) *UserService {
	return &UserService{log: log, ledger: ledger, messenger: messenger}
}

// Ensure creates the account on first contact and returns its current row.
func (s *UserService) Ensure(ctx context.Context, userID string) (*models.Account, error) {
	if err := s.ledger.Create(ctx, userID); err != nil {
		return nil, fmt.Errorf("ensure user: %w", err)
	}
	account, err := s.ledger.Get(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("ensure user: %w", err)
	}
	if account == nil {
		return nil, models.ErrAccountNotFound
	}
	return account, nil
}

// Get returns models.ErrAccountNotFound for unknown users.
func (s *UserService) Get(ctx context.Context, userID string) (*models.Account, error) {
	account, err := s.ledger.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	if account == nil {
		return nil, models.ErrAccountNotFound
	}
	return account, nil
}

// Grant adds credits manually, for support cases.
func (s *UserService) Grant(ctx context.Context, userID string, amount int) (*models.Account, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("amount must be positive")
	}
	if err := s.ledger.AddCredits(ctx, userID, amount); err != nil {
		return nil, err
	}
	s.log.Info("credits granted", "user_id", userID, "amount", amount)
	return s.Get(ctx, userID)
}

func (s *UserService) Transactions(ctx context.Context, userID string) ([]models.Transaction, error) {
	if _, err := s.Get(ctx, userID); err != nil {
		return nil, err
	}
	return s.ledger.ListTransactions(ctx, userID)
}

// Broadcast pushes text to every known user and reports how many deliveries
// failed.
func (s *UserService) Broadcast(ctx context.Context, text string) (sent, failed int, err error) {
	ids, err := s.ledger.ListUserIDs(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("list user ids: %w", err)
	}
	for _, id := range ids {
		if ctx.Err() != nil {
			return sent, failed, ctx.Err()
		}
		if err := s.messenger.Push(ctx, id, Message{Text: text}); err != nil {
			failed++
			s.log.Error("broadcast send failed", "user_id", id, "err", err)
			continue
		}
		sent++
	}
	return sent, failed, nil
}
