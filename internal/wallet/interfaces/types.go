// Package interfaces provides types and interfaces for the wallet module
package interfaces

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/coinpulse/walletcore/pkg/models"
)

// Error taxonomy for the balance ledger. Failures inside the transactional
// boundary always roll back the whole mutation; nothing is retried here.
var (
	// ErrInsufficientFunds indicates a debit or disposal cannot be satisfied
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrInvalidAsset indicates an empty or malformed asset symbol
	ErrInvalidAsset = errors.New("invalid asset")

	// ErrUnknownAsset indicates the referenced asset has never been acquired
	ErrUnknownAsset = errors.New("unknown asset")

	// ErrUnknownAccount indicates no account exists and none can be provisioned
	ErrUnknownAccount = errors.New("unknown account")

	// ErrAccountNotActive indicates the account is suspended or closed
	ErrAccountNotActive = errors.New("account not active")

	// ErrInconsistentLotState indicates lot remainders do not sum to the
	// aggregate position amount
	ErrInconsistentLotState = errors.New("inconsistent lot state")

	// ErrPriceUnavailable indicates the price collaborator has no quote for
	// the requested symbol
	ErrPriceUnavailable = errors.New("price unavailable")
)

// AdjustResult is the success payload of a balance mutation
type AdjustResult struct {
	Asset      string          `json:"asset"`
	NewBalance decimal.Decimal `json:"new_balance"`
	EntryID    uuid.UUID       `json:"entry_id"`
	AppliedAt  time.Time       `json:"applied_at"`
}

// TradeResult is the success payload of a buy or sell leg
type TradeResult struct {
	Currency     string          `json:"currency"`
	Amount       decimal.Decimal `json:"amount"`
	UnitPrice    decimal.Decimal `json:"unit_price"`
	CashDelta    decimal.Decimal `json:"cash_delta"`
	NewPosition  decimal.Decimal `json:"new_position"`
	NewAvgPrice  decimal.Decimal `json:"new_avg_price"`
	RealizedGain decimal.Decimal `json:"realized_gain"`
	AppliedAt    time.Time       `json:"applied_at"`
}

// LotView is a reporting view of one acquisition lot, persisted or
// reconstructed from the ledger
type LotView struct {
	LotID           uint            `json:"lot_id,omitempty"`
	Currency        string          `json:"currency"`
	OriginalAmount  decimal.Decimal `json:"original_amount"`
	RemainingAmount decimal.Decimal `json:"remaining_amount"`
	AvgPrice        decimal.Decimal `json:"avg_price"`
	UnrealizedGain  decimal.Decimal `json:"unrealized_gain"`
	AcquiredAt      time.Time       `json:"acquired_at"`
	Reconstructed   bool            `json:"reconstructed"`
}

// HoldingSummary is the per-currency roll-up inside a portfolio summary
type HoldingSummary struct {
	Currency      string          `json:"currency"`
	Amount        decimal.Decimal `json:"amount"`
	AvgPrice      decimal.Decimal `json:"avg_price"`
	CurrentPrice  decimal.Decimal `json:"current_price"`
	Value         decimal.Decimal `json:"value"`
	Cost          decimal.Decimal `json:"cost"`
	GainPercent   decimal.Decimal `json:"gain_percent"`
	Change24h     decimal.Decimal `json:"change_24h"`
	PriceAvailable bool           `json:"price_available"`
}

// PortfolioSummary is the account-level report produced by the aggregator.
// Monetary fields are rounded to 2 decimal places for display.
type PortfolioSummary struct {
	TotalValue       decimal.Decimal  `json:"total_value"`
	TotalCost        decimal.Decimal  `json:"total_cost"`
	ROIPercent       decimal.Decimal  `json:"roi_percent"`
	DayChange        decimal.Decimal  `json:"day_change"`
	DayChangePercent decimal.Decimal  `json:"day_change_percent"`
	BestPerformer    string           `json:"best_performer"`
	Holdings         []HoldingSummary `json:"holdings"`
	GeneratedAt      time.Time        `json:"generated_at"`
}

// ConsistencyReport describes one detected lot/position mismatch
type ConsistencyReport struct {
	WalletID       uuid.UUID       `json:"wallet_id"`
	Currency       string          `json:"currency"`
	PositionAmount decimal.Decimal `json:"position_amount"`
	LotRemaining   decimal.Decimal `json:"lot_remaining"`
}

// LedgerEvent is published after a ledger entry commits
type LedgerEvent struct {
	EntryID   uuid.UUID       `json:"entry_id"`
	UserID    uuid.UUID       `json:"user_id"`
	Asset     string          `json:"asset"`
	Amount    decimal.Decimal `json:"amount"`
	Type      string          `json:"type"`
	Status    string          `json:"status"`
	Timestamp time.Time       `json:"timestamp"`
}

// WalletService is the caller-facing operation surface of the core
type WalletService interface {
	// Adjust applies a signed delta to the user's balance for the asset.
	// Positive deltas credit (creating balance rows and lots as needed),
	// negative deltas debit and fail with ErrInsufficientFunds when the
	// available balance cannot cover them.
	Adjust(ctx context.Context, userID uuid.UUID, asset string, delta decimal.Decimal, unitPrice *decimal.Decimal) (*AdjustResult, error)

	// Buy debits the cash account and credits the currency position plus a
	// new acquisition lot, atomically.
	Buy(ctx context.Context, userID uuid.UUID, currency string, amount, unitPrice decimal.Decimal) (*TradeResult, error)

	// Sell disposes lots oldest-first, debits the position and credits the
	// cash account with the proceeds, atomically.
	Sell(ctx context.Context, userID uuid.UUID, currency string, amount, unitPrice decimal.Decimal) (*TradeResult, error)

	// GetBalances returns the cash balance and all positions for the user
	GetBalances(ctx context.Context, userID uuid.UUID) (*BalanceResponse, error)

	// GetLots reports the user's lots for a currency with unrealized gains,
	// reconstructing from the ledger when no persisted lots exist
	GetLots(ctx context.Context, userID uuid.UUID, currency string) ([]LotView, error)

	// Summarize rolls up all positions under the account into a portfolio
	// summary using live prices
	Summarize(ctx context.Context, userID uuid.UUID) (*PortfolioSummary, error)

	// GetTransactions returns the user's ledger history, newest first
	GetTransactions(ctx context.Context, userID uuid.UUID, asset string, limit, offset int) ([]*models.LedgerEntry, error)

	// CheckConsistency verifies the lot/position invariant for every
	// position under the user's account
	CheckConsistency(ctx context.Context, userID uuid.UUID) ([]ConsistencyReport, error)
}

// BalanceResponse reports the cash balance and positions for a user
type BalanceResponse struct {
	UserID    uuid.UUID          `json:"user_id"`
	Cash      CashBalance        `json:"cash"`
	Positions []*models.Position `json:"positions"`
	UpdatedAt time.Time          `json:"updated_at"`
}

// CashBalance is the cash side of an account
type CashBalance struct {
	Currency  string          `json:"currency"`
	Available decimal.Decimal `json:"available"`
	Locked    decimal.Decimal `json:"locked"`
}

// PriceSource is the consumed price collaborator. Implementations return
// ErrPriceUnavailable (or a wrapped form of it) when no quote exists; the
// aggregator substitutes zero values rather than failing the summary.
type PriceSource interface {
	GetMarketPrice(ctx context.Context, symbol string) (*models.MarketPrice, error)
}

// BalanceCache caches per-user cash balances and positions. It must be
// invalidated after every raw balance update so later reads never observe
// stale values.
type BalanceCache interface {
	GetBalances(ctx context.Context, userID uuid.UUID) (*BalanceResponse, error)
	SetBalances(ctx context.Context, userID uuid.UUID, resp *BalanceResponse, ttl time.Duration) error
	InvalidateBalances(ctx context.Context, userID uuid.UUID) error
}

// EventPublisher publishes committed ledger events. Publishing is
// fire-and-forget: failures never affect the already-committed mutation.
type EventPublisher interface {
	PublishLedgerEvent(ctx context.Context, event *LedgerEvent) error
}
