package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/coinpulse/walletcore/internal/wallet/interfaces"
	"github.com/coinpulse/walletcore/pkg/metrics"
	"github.com/coinpulse/walletcore/pkg/models"
)

// Adjust applies a signed delta to the user's balance for the asset. The cash
// currency is adjusted on the account row; every other asset is adjusted on
// the default wallet's position, maintaining the weighted-average price and
// the acquisition lots. The balance write, the lot writes and the ledger
// append commit in one transaction; on any failure the whole mutation rolls
// back.
func (s *Service) Adjust(ctx context.Context, userID uuid.UUID, asset string, delta decimal.Decimal, unitPrice *decimal.Decimal) (*interfaces.AdjustResult, error) {
	if asset == "" {
		return nil, interfaces.ErrInvalidAsset
	}

	start := time.Now()
	entryType := models.EntryTypeDeposit
	if delta.IsNegative() {
		entryType = models.EntryTypeWithdraw
	}

	result, err := s.adjust(ctx, userID, asset, delta, unitPrice, entryType)
	s.observeMutation(entryType, start, err)
	return result, err
}

func (s *Service) adjust(ctx context.Context, userID uuid.UUID, asset string, delta decimal.Decimal, unitPrice *decimal.Decimal, entryType string) (*interfaces.AdjustResult, error) {
	accountID, walletID, err := s.ensureProvisioned(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to provision account: %w", err)
	}

	if delta.IsZero() {
		balance, err := s.currentBalance(ctx, accountID, walletID, asset)
		if err != nil {
			return nil, err
		}
		return &interfaces.AdjustResult{Asset: asset, NewBalance: balance, AppliedAt: time.Now()}, nil
	}

	entry := &models.LedgerEntry{
		ID:        uuid.New(),
		AccountID: accountID,
		UserID:    userID,
		Asset:     asset,
		Amount:    delta,
		Type:      entryType,
		Status:    models.EntryStatusCompleted,
		PriceAt:   priceOrZero(unitPrice),
		CreatedAt: time.Now(),
	}

	var newBalance decimal.Decimal
	err = s.db.Transaction(func(tx *gorm.DB) error {
		if asset == s.config.CashCurrency {
			if err := s.adjustCashInTx(ctx, tx, accountID, delta); err != nil {
				return err
			}
		} else {
			if err := s.adjustPositionInTx(ctx, tx, walletID, asset, delta, unitPrice); err != nil {
				return err
			}
		}

		// The conditional update bypassed the cache; drop it before anything
		// rereads within this unit of work.
		s.invalidateBalanceCache(userID)

		if err := s.repo.AppendLedgerInTx(ctx, tx, entry); err != nil {
			return fmt.Errorf("failed to append ledger entry: %w", err)
		}

		balance, err := s.balanceInTx(ctx, tx, accountID, walletID, asset)
		if err != nil {
			return err
		}
		newBalance = balance
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("balance adjusted",
		zap.String("user_id", userID.String()),
		zap.String("asset", asset),
		zap.String("delta", delta.String()),
		zap.String("new_balance", newBalance.String()),
	)

	s.publishLedgerEvent(ctx, &interfaces.LedgerEvent{
		EntryID:   entry.ID,
		UserID:    userID,
		Asset:     asset,
		Amount:    delta,
		Type:      entry.Type,
		Status:    entry.Status,
		Timestamp: entry.CreatedAt,
	})

	return &interfaces.AdjustResult{
		Asset:      asset,
		NewBalance: newBalance,
		EntryID:    entry.ID,
		AppliedAt:  entry.CreatedAt,
	}, nil
}

// adjustCashInTx applies the delta to the account's available cash. The
// repository update is a single conditional statement, so a losing concurrent
// debit sees zero rows affected and fails cleanly.
func (s *Service) adjustCashInTx(ctx context.Context, tx *gorm.DB, accountID uuid.UUID, delta decimal.Decimal) error {
	rows, err := s.repo.AdjustCashInTx(ctx, tx, accountID, delta)
	if err != nil {
		return fmt.Errorf("failed to adjust cash balance: %w", err)
	}
	if rows == 0 {
		if delta.IsNegative() {
			return interfaces.ErrInsufficientFunds
		}
		// The account was provisioned above, so a zero-row credit means it
		// is no longer active.
		return interfaces.ErrAccountNotActive
	}
	return nil
}

// adjustPositionInTx applies the delta to the wallet's position for the
// currency, maintaining avgPrice and lots alongside the amount.
func (s *Service) adjustPositionInTx(ctx context.Context, tx *gorm.DB, walletID uuid.UUID, currency string, delta decimal.Decimal, unitPrice *decimal.Decimal) error {
	rows, err := s.repo.AdjustPositionAmountInTx(ctx, tx, walletID, currency, delta)
	if err != nil {
		return fmt.Errorf("failed to adjust position: %w", err)
	}

	if rows == 0 {
		if delta.IsPositive() {
			// First acquisition of this currency in this wallet
			pos := &models.Position{
				ID:        uuid.New(),
				WalletID:  walletID,
				Currency:  currency,
				Amount:    decimal.Zero,
				AvgPrice:  decimal.Zero,
				UpdatedAt: time.Now(),
			}
			applyPositionDelta(pos, delta, unitPrice)
			if err := s.repo.CreatePositionInTx(ctx, tx, pos); err != nil {
				return fmt.Errorf("failed to create position: %w", err)
			}
			return s.acquireLotInTx(ctx, tx, walletID, currency, delta, unitPrice)
		}

		// Debit rejected: distinguish a never-acquired asset from an
		// insufficient holding
		if _, err := s.repo.GetPositionInTx(ctx, tx, walletID, currency); err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return interfaces.ErrUnknownAsset
			}
			return fmt.Errorf("failed to read position: %w", err)
		}
		return interfaces.ErrInsufficientFunds
	}

	if delta.IsPositive() {
		if unitPrice != nil {
			if err := s.recalcAvgPriceInTx(ctx, tx, walletID, currency, delta, *unitPrice); err != nil {
				return err
			}
		}
		return s.acquireLotInTx(ctx, tx, walletID, currency, delta, unitPrice)
	}

	_, err = s.disposeLotsInTx(ctx, tx, walletID, currency, delta.Neg(), unitPrice)
	return err
}

// recalcAvgPriceInTx recomputes the weighted-average price after the amount
// column has already been adjusted. The pre-acquisition amount is recovered
// from the post-update row, so the computation stays consistent with the
// value the conditional update actually applied.
func (s *Service) recalcAvgPriceInTx(ctx context.Context, tx *gorm.DB, walletID uuid.UUID, currency string, delta, unitPrice decimal.Decimal) error {
	pos, err := s.repo.GetPositionInTx(ctx, tx, walletID, currency)
	if err != nil {
		return fmt.Errorf("failed to reread position: %w", err)
	}
	oldAmount := pos.Amount.Sub(delta)
	pos.AvgPrice = weightedAvgPrice(oldAmount, pos.AvgPrice, delta, unitPrice)
	pos.UpdatedAt = time.Now()
	if err := s.repo.SavePositionInTx(ctx, tx, pos); err != nil {
		return fmt.Errorf("failed to save position: %w", err)
	}
	return nil
}

// LockFunds moves cash from available to locked
func (s *Service) LockFunds(ctx context.Context, userID uuid.UUID, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return fmt.Errorf("lock amount must be positive")
	}
	account, err := s.repo.GetAccountByUserID(ctx, userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return interfaces.ErrUnknownAccount
		}
		return fmt.Errorf("failed to find account: %w", err)
	}
	return s.db.Transaction(func(tx *gorm.DB) error {
		rows, err := s.repo.LockCashInTx(ctx, tx, account.ID, amount)
		if err != nil {
			return fmt.Errorf("failed to lock funds: %w", err)
		}
		if rows == 0 {
			return interfaces.ErrInsufficientFunds
		}
		s.invalidateBalanceCache(userID)
		return nil
	})
}

// UnlockFunds moves cash from locked back to available
func (s *Service) UnlockFunds(ctx context.Context, userID uuid.UUID, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return fmt.Errorf("unlock amount must be positive")
	}
	account, err := s.repo.GetAccountByUserID(ctx, userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return interfaces.ErrUnknownAccount
		}
		return fmt.Errorf("failed to find account: %w", err)
	}
	return s.db.Transaction(func(tx *gorm.DB) error {
		rows, err := s.repo.UnlockCashInTx(ctx, tx, account.ID, amount)
		if err != nil {
			return fmt.Errorf("failed to unlock funds: %w", err)
		}
		if rows == 0 {
			return interfaces.ErrInsufficientFunds
		}
		s.invalidateBalanceCache(userID)
		return nil
	})
}

// currentBalance reads the balance for an asset outside any transaction
func (s *Service) currentBalance(ctx context.Context, accountID, walletID uuid.UUID, asset string) (decimal.Decimal, error) {
	return s.balanceInTx(ctx, s.db, accountID, walletID, asset)
}

func (s *Service) balanceInTx(ctx context.Context, tx *gorm.DB, accountID, walletID uuid.UUID, asset string) (decimal.Decimal, error) {
	if asset == s.config.CashCurrency {
		var account models.Account
		if err := tx.WithContext(ctx).Where("id = ?", accountID).First(&account).Error; err != nil {
			return decimal.Zero, fmt.Errorf("failed to read account: %w", err)
		}
		return account.Available, nil
	}
	pos, err := s.repo.GetPositionInTx(ctx, tx, walletID, asset)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return decimal.Zero, nil
		}
		return decimal.Zero, fmt.Errorf("failed to read position: %w", err)
	}
	return pos.Amount, nil
}

func (s *Service) observeMutation(entryType string, start time.Time, err error) {
	outcome := "ok"
	switch {
	case err == nil:
	case errors.Is(err, interfaces.ErrInsufficientFunds):
		outcome = "insufficient_funds"
	case errors.Is(err, interfaces.ErrUnknownAsset), errors.Is(err, interfaces.ErrUnknownAccount):
		outcome = "unknown_entity"
	default:
		outcome = "error"
	}
	metrics.MutationsProcessed.WithLabelValues(entryType, outcome).Inc()
	metrics.MutationLatency.Observe(time.Since(start).Seconds())
}

func priceOrZero(p *decimal.Decimal) decimal.Decimal {
	if p == nil {
		return decimal.Zero
	}
	return *p
}
