package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Account statuses
const (
	AccountStatusActive    = "active"
	AccountStatusSuspended = "suspended"
	AccountStatusClosed    = "closed"
)

// Ledger entry types
const (
	EntryTypeDeposit  = "deposit"
	EntryTypeWithdraw = "withdraw"
	EntryTypeBuy      = "buy"
	EntryTypeSell     = "sell"
	EntryTypeAdjust   = "adjust"
)

// Ledger entry statuses
const (
	EntryStatusCompleted = "completed"
	EntryStatusFailed    = "failed"
)

// Account represents a user's cash account. There is exactly one account per
// user; accounts are never deleted, only status-transitioned.
type Account struct {
	ID        uuid.UUID       `json:"id" gorm:"primaryKey;type:uuid"`
	UserID    uuid.UUID       `json:"user_id" gorm:"type:uuid;uniqueIndex"`
	Available decimal.Decimal `json:"available" gorm:"type:decimal(32,18)"`
	Locked    decimal.Decimal `json:"locked" gorm:"type:decimal(32,18)"`
	Status    string          `json:"status" gorm:"default:active"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Wallet is a named grouping of positions under an account. The first
// position-affecting operation provisions a single default wallet.
type Wallet struct {
	ID        uuid.UUID `json:"id" gorm:"primaryKey;type:uuid"`
	AccountID uuid.UUID `json:"account_id" gorm:"type:uuid;uniqueIndex:idx_wallets_account_name"`
	Name      string    `json:"name" gorm:"uniqueIndex:idx_wallets_account_name"`
	IsDefault bool      `json:"is_default" gorm:"default:false"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Position is the aggregate net holding of one currency within one wallet,
// with a blended weighted-average acquisition price. Invariant: Amount equals
// the sum of RemainingAmount across the currency's lots in the same wallet
// (verified by the consistency checker, not enforced by the schema).
type Position struct {
	ID        uuid.UUID       `json:"id" gorm:"primaryKey;type:uuid"`
	WalletID  uuid.UUID       `json:"wallet_id" gorm:"type:uuid;uniqueIndex:idx_positions_wallet_currency"`
	Currency  string          `json:"currency" gorm:"uniqueIndex:idx_positions_wallet_currency"`
	Amount    decimal.Decimal `json:"amount" gorm:"type:decimal(32,18)"`
	AvgPrice  decimal.Decimal `json:"avg_price" gorm:"type:decimal(32,18)"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// PositionLot is one discrete acquisition batch of a currency. RemainingAmount
// is monotonically non-increasing; fully consumed lots are retained for
// realized-gain history. The auto-increment ID doubles as the deterministic
// FIFO tie-break for lots sharing an acquisition timestamp.
type PositionLot struct {
	ID              uint            `json:"id" gorm:"primaryKey;autoIncrement"`
	WalletID        uuid.UUID       `json:"wallet_id" gorm:"type:uuid;index:idx_lots_wallet_currency"`
	Currency        string          `json:"currency" gorm:"index:idx_lots_wallet_currency"`
	OriginalAmount  decimal.Decimal `json:"original_amount" gorm:"type:decimal(32,18)"`
	RemainingAmount decimal.Decimal `json:"remaining_amount" gorm:"type:decimal(32,18)"`
	AvgPrice        decimal.Decimal `json:"avg_price" gorm:"type:decimal(32,18)"`
	CreatedAt       time.Time       `json:"created_at"`
}

// LedgerEntry is the immutable audit record of a single balance-affecting
// event. Exactly one entry is appended per successful mutation, inside the
// same database transaction as the balance and lot writes. Entries are never
// updated or deleted.
type LedgerEntry struct {
	ID           uuid.UUID       `json:"id" gorm:"primaryKey;type:uuid"`
	AccountID    uuid.UUID       `json:"account_id" gorm:"type:uuid;index"`
	UserID       uuid.UUID       `json:"user_id" gorm:"type:uuid;index:idx_ledger_user_asset"`
	Asset        string          `json:"asset" gorm:"index:idx_ledger_user_asset"`
	Amount       decimal.Decimal `json:"amount" gorm:"type:decimal(32,18)"` // signed
	Type         string          `json:"type"`
	Status       string          `json:"status"`
	PriceAt      decimal.Decimal `json:"price_at" gorm:"type:decimal(32,18)"`
	RealizedGain decimal.Decimal `json:"realized_gain" gorm:"type:decimal(32,18)"`
	CreatedAt    time.Time       `json:"created_at"`
}

// MarketPrice is the read model served by the price collaborator.
type MarketPrice struct {
	Symbol    string          `json:"symbol" gorm:"primaryKey"`
	Price     decimal.Decimal `json:"price" gorm:"type:decimal(32,18)"`
	Change24h decimal.Decimal `json:"change_24h" gorm:"type:decimal(32,18)"`
	Volume24h decimal.Decimal `json:"volume_24h" gorm:"type:decimal(32,18)"`
	High24h   decimal.Decimal `json:"high_24h" gorm:"type:decimal(32,18)"`
	Low24h    decimal.Decimal `json:"low_24h" gorm:"type:decimal(32,18)"`
	UpdatedAt time.Time       `json:"updated_at"`
}
