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
	"github.com/coinpulse/walletcore/pkg/models"
)

// Buy debits the cash account by amount*unitPrice and credits the default
// wallet's position for the currency, creating an acquisition lot and
// recomputing the weighted-average price. Both legs and the ledger append
// commit in one transaction.
func (s *Service) Buy(ctx context.Context, userID uuid.UUID, currency string, amount, unitPrice decimal.Decimal) (*interfaces.TradeResult, error) {
	if err := validateTrade(currency, s.config.CashCurrency, amount, unitPrice); err != nil {
		return nil, err
	}

	start := time.Now()
	result, err := s.buy(ctx, userID, currency, amount, unitPrice)
	s.observeMutation(models.EntryTypeBuy, start, err)
	return result, err
}

func (s *Service) buy(ctx context.Context, userID uuid.UUID, currency string, amount, unitPrice decimal.Decimal) (*interfaces.TradeResult, error) {
	accountID, walletID, err := s.ensureProvisioned(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to provision account: %w", err)
	}

	cost := amount.Mul(unitPrice)
	entry := &models.LedgerEntry{
		ID:        uuid.New(),
		AccountID: accountID,
		UserID:    userID,
		Asset:     currency,
		Amount:    amount,
		Type:      models.EntryTypeBuy,
		Status:    models.EntryStatusCompleted,
		PriceAt:   unitPrice,
		CreatedAt: time.Now(),
	}

	var position *models.Position
	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := s.adjustCashInTx(ctx, tx, accountID, cost.Neg()); err != nil {
			return err
		}
		if err := s.adjustPositionInTx(ctx, tx, walletID, currency, amount, &unitPrice); err != nil {
			return err
		}

		s.invalidateBalanceCache(userID)

		if err := s.repo.AppendLedgerInTx(ctx, tx, entry); err != nil {
			return fmt.Errorf("failed to append ledger entry: %w", err)
		}

		pos, err := s.repo.GetPositionInTx(ctx, tx, walletID, currency)
		if err != nil {
			return fmt.Errorf("failed to reread position: %w", err)
		}
		position = pos
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("buy applied",
		zap.String("user_id", userID.String()),
		zap.String("currency", currency),
		zap.String("amount", amount.String()),
		zap.String("unit_price", unitPrice.String()),
		zap.String("cost", cost.String()),
	)

	s.publishLedgerEvent(ctx, &interfaces.LedgerEvent{
		EntryID:   entry.ID,
		UserID:    userID,
		Asset:     currency,
		Amount:    amount,
		Type:      entry.Type,
		Status:    entry.Status,
		Timestamp: entry.CreatedAt,
	})

	return &interfaces.TradeResult{
		Currency:    currency,
		Amount:      amount,
		UnitPrice:   unitPrice,
		CashDelta:   cost.Neg(),
		NewPosition: position.Amount,
		NewAvgPrice: position.AvgPrice,
		AppliedAt:   entry.CreatedAt,
	}, nil
}

// Sell disposes the currency oldest-lot-first, debits the position and
// credits the cash account with the proceeds, atomically. Realized gain is
// computed per consumed lot segment against the sale price; the position's
// average price is left unchanged by disposals.
func (s *Service) Sell(ctx context.Context, userID uuid.UUID, currency string, amount, unitPrice decimal.Decimal) (*interfaces.TradeResult, error) {
	if err := validateTrade(currency, s.config.CashCurrency, amount, unitPrice); err != nil {
		return nil, err
	}

	start := time.Now()
	result, err := s.sell(ctx, userID, currency, amount, unitPrice)
	s.observeMutation(models.EntryTypeSell, start, err)
	return result, err
}

func (s *Service) sell(ctx context.Context, userID uuid.UUID, currency string, amount, unitPrice decimal.Decimal) (*interfaces.TradeResult, error) {
	account, err := s.repo.GetAccountByUserID(ctx, userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, interfaces.ErrUnknownAccount
		}
		return nil, fmt.Errorf("failed to find account: %w", err)
	}
	if account.Status != models.AccountStatusActive {
		return nil, interfaces.ErrAccountNotActive
	}

	wallet, err := s.defaultWallet(ctx, account.ID)
	if err != nil {
		return nil, err
	}

	proceeds := amount.Mul(unitPrice)
	entry := &models.LedgerEntry{
		ID:        uuid.New(),
		AccountID: account.ID,
		UserID:    userID,
		Asset:     currency,
		Amount:    amount.Neg(),
		Type:      models.EntryTypeSell,
		Status:    models.EntryStatusCompleted,
		PriceAt:   unitPrice,
		CreatedAt: time.Now(),
	}

	var position *models.Position
	var realized decimal.Decimal
	err = s.db.Transaction(func(tx *gorm.DB) error {
		// The conditional position debit is the authoritative funds gate;
		// lot consumption below trusts it.
		rows, err := s.repo.AdjustPositionAmountInTx(ctx, tx, wallet.ID, currency, amount.Neg())
		if err != nil {
			return fmt.Errorf("failed to adjust position: %w", err)
		}
		if rows == 0 {
			if _, err := s.repo.GetPositionInTx(ctx, tx, wallet.ID, currency); err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return interfaces.ErrUnknownAsset
				}
				return fmt.Errorf("failed to read position: %w", err)
			}
			return interfaces.ErrInsufficientFunds
		}

		gain, err := s.disposeLotsInTx(ctx, tx, wallet.ID, currency, amount, &unitPrice)
		if err != nil {
			return err
		}
		realized = gain
		entry.RealizedGain = gain

		if err := s.adjustCashInTx(ctx, tx, account.ID, proceeds); err != nil {
			return err
		}

		s.invalidateBalanceCache(userID)

		if err := s.repo.AppendLedgerInTx(ctx, tx, entry); err != nil {
			return fmt.Errorf("failed to append ledger entry: %w", err)
		}

		pos, err := s.repo.GetPositionInTx(ctx, tx, wallet.ID, currency)
		if err != nil {
			return fmt.Errorf("failed to reread position: %w", err)
		}
		position = pos
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("sell applied",
		zap.String("user_id", userID.String()),
		zap.String("currency", currency),
		zap.String("amount", amount.String()),
		zap.String("unit_price", unitPrice.String()),
		zap.String("realized_gain", realized.String()),
	)

	s.publishLedgerEvent(ctx, &interfaces.LedgerEvent{
		EntryID:   entry.ID,
		UserID:    userID,
		Asset:     currency,
		Amount:    amount.Neg(),
		Type:      entry.Type,
		Status:    entry.Status,
		Timestamp: entry.CreatedAt,
	})

	return &interfaces.TradeResult{
		Currency:     currency,
		Amount:       amount,
		UnitPrice:    unitPrice,
		CashDelta:    proceeds,
		NewPosition:  position.Amount,
		NewAvgPrice:  position.AvgPrice,
		RealizedGain: realized,
		AppliedAt:    entry.CreatedAt,
	}, nil
}

func (s *Service) defaultWallet(ctx context.Context, accountID uuid.UUID) (*models.Wallet, error) {
	wallets, err := s.repo.GetWalletsByAccount(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to load wallets: %w", err)
	}
	for _, w := range wallets {
		if w.IsDefault {
			return w, nil
		}
	}
	if len(wallets) > 0 {
		return wallets[0], nil
	}
	return nil, interfaces.ErrUnknownAsset
}

func validateTrade(currency, cashCurrency string, amount, unitPrice decimal.Decimal) error {
	if currency == "" || currency == cashCurrency {
		return interfaces.ErrInvalidAsset
	}
	if !amount.IsPositive() {
		return fmt.Errorf("trade amount must be positive")
	}
	if !unitPrice.IsPositive() {
		return fmt.Errorf("unit price must be positive")
	}
	return nil
}
