package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/digkill/ThumbnailBot/internal/models"
)

const initialCredits = 1

// LedgerRepository persists accounts and payment transactions. Every mutation
// of an account row is a single UPDATE statement.
type LedgerRepository struct {
	db  *gorm.DB
	now func() time.Time
}

func NewLedgerRepository(db *gorm.DB) *LedgerRepository {
	return &LedgerRepository{db: db, now: time.Now}
}

// WithTx returns a copy bound to tx.
func (r *LedgerRepository) WithTx(tx *gorm.DB) *LedgerRepository {
	return &LedgerRepository{db: tx, now: r.now}
}

// Transaction runs fn inside a database transaction. fn receives a repository
// bound to that transaction.
func (r *LedgerRepository) Transaction(ctx context.Context, fn func(tx *LedgerRepository) error) error {
	var fnErr error
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		fnErr = fn(r.WithTx(tx))
		return fnErr
	})
	if fnErr != nil {
		return fnErr
	}
	if err != nil {
		return &models.PersistenceError{Op: "transaction", Err: err}
	}
	return nil
}

func (r *LedgerRepository) Get(ctx context.Context, userID string) (*models.Account, error) {
	var account models.Account
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).Take(&account).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, &models.PersistenceError{Op: "get account", Err: err}
	}
	return &account, nil
}

// Create inserts a fresh account with the free trial credit. An existing row
// is left untouched.
func (r *LedgerRepository) Create(ctx context.Context, userID string) error {
	account := models.Account{
		UserID:    userID,
		Credits:   initialCredits,
		CreatedAt: r.now().UTC(),
	}
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}},
			DoNothing: true,
		}).
		Create(&account).Error
	if err != nil {
		return &models.PersistenceError{Op: "create account", Err: err}
	}
	return nil
}

// SetPendingPrompt overwrites the pending prompt slot. A nil prompt clears it.
func (r *LedgerRepository) SetPendingPrompt(ctx context.Context, userID string, prompt *string) error {
	res := r.db.WithContext(ctx).
		Model(&models.Account{}).
		Where("user_id = ?", userID).
		Update("pending_prompt", prompt)
	if res.Error != nil {
		return &models.PersistenceError{Op: "set pending prompt", Err: res.Error}
	}
	if res.RowsAffected == 0 {
		return r.missingOr(ctx, userID, nil)
	}
	return nil
}

// DebitOneCredit charges one generation: decrements credits, marks the free
// trial used and clears the pending prompt in one statement. Returns the
// remaining balance.
func (r *LedgerRepository) DebitOneCredit(ctx context.Context, userID string) (int, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Account{}).
		Where("user_id = ? AND credits > 0", userID).
		Updates(map[string]any{
			"credits":         gorm.Expr("credits - 1"),
			"free_trial_used": true,
			"pending_prompt":  nil,
		})
	if res.Error != nil {
		return 0, &models.PersistenceError{Op: "debit credit", Err: res.Error}
	}
	if res.RowsAffected == 0 {
		return 0, r.missingOr(ctx, userID, models.ErrInsufficientCredits)
	}

	account, err := r.Get(ctx, userID)
	if err != nil {
		return 0, err
	}
	if account == nil {
		return 0, models.ErrAccountNotFound
	}
	return account.Credits, nil
}

func (r *LedgerRepository) AddCredits(ctx context.Context, userID string, amount int) error {
	if amount <= 0 {
		return errors.New("credit amount must be positive")
	}
	res := r.db.WithContext(ctx).
		Model(&models.Account{}).
		Where("user_id = ?", userID).
		Update("credits", gorm.Expr("credits + ?", amount))
	if res.Error != nil {
		return &models.PersistenceError{Op: "add credits", Err: res.Error}
	}
	if res.RowsAffected == 0 {
		return models.ErrAccountNotFound
	}
	return nil
}

// RecordTransaction stores a payment record. It reports false without error
// when a record with the same ID already exists.
func (r *LedgerRepository) RecordTransaction(ctx context.Context, txn models.Transaction) (bool, error) {
	if txn.CreatedAt.IsZero() {
		txn.CreatedAt = r.now().UTC()
	}
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoNothing: true,
		}).
		Create(&txn)
	if res.Error != nil {
		return false, &models.PersistenceError{Op: "record transaction", Err: res.Error}
	}
	return res.RowsAffected > 0, nil
}

func (r *LedgerRepository) ListUserIDs(ctx context.Context) ([]string, error) {
	var ids []string
	if err := r.db.WithContext(ctx).Model(&models.Account{}).Order("created_at ASC").Pluck("user_id", &ids).Error; err != nil {
		return nil, &models.PersistenceError{Op: "list user ids", Err: err}
	}
	return ids, nil
}

func (r *LedgerRepository) ListTransactions(ctx context.Context, userID string) ([]models.Transaction, error) {
	var txns []models.Transaction
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Find(&txns).Error
	if err != nil {
		return nil, &models.PersistenceError{Op: "list transactions", Err: err}
	}
	return txns, nil
}

// missingOr distinguishes an absent account from a failed guard after an
// UPDATE touched no rows.
func (r *LedgerRepository) missingOr(ctx context.Context, userID string, guardErr error) error {
	account, err := r.Get(ctx, userID)
	if err != nil {
		return err
	}
	if account == nil {
		return models.ErrAccountNotFound
	}
	return guardErr
}
