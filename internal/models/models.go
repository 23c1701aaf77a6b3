package models

import "time"

// Account is the per-user credit ledger row. UserID is the opaque messaging
// platform identifier.
type Account struct {
	UserID        string    `gorm:"primaryKey;size:64" json:"user_id"`
	Credits       int       `gorm:"not null" json:"credits"`
	FreeTrialUsed bool      `gorm:"not null" json:"free_trial_used"`
	PendingPrompt *string   `gorm:"type:text" json:"pending_prompt,omitempty"`
	CreatedAt     time.Time `gorm:"not null" json:"created_at"`
}

func (Account) TableName() string { return "users" }

// Transaction records one completed payment event. ID is the provider's
// session or event identifier and is never reused.
type Transaction struct {
	ID           string    `gorm:"primaryKey;size:255" json:"id"`
	UserID       string    `gorm:"size:64;not null;index" json:"user_id"`
	Amount       int       `gorm:"not null" json:"amount"`
	CreditsAdded int       `gorm:"not null" json:"credits_added"`
	Status       string    `gorm:"size:32;not null" json:"status"`
	CreatedAt    time.Time `gorm:"not null" json:"created_at"`
}

func (Transaction) TableName() string { return "transactions" }

const TransactionStatusCompleted = "completed"
