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

// acquireLotInTx records one acquisition batch. Unpriced acquisitions (e.g.
// inbound transfers with no known cost) are recorded at zero cost so the
// holding still reconciles against the position amount.
func (s *Service) acquireLotInTx(ctx context.Context, tx *gorm.DB, walletID uuid.UUID, currency string, amount decimal.Decimal, unitPrice *decimal.Decimal) error {
	lot := &models.PositionLot{
		WalletID:        walletID,
		Currency:        currency,
		OriginalAmount:  amount,
		RemainingAmount: amount,
		AvgPrice:        priceOrZero(unitPrice),
		CreatedAt:       time.Now(),
	}
	if err := s.repo.CreateLotInTx(ctx, tx, lot); err != nil {
		return fmt.Errorf("failed to create lot: %w", err)
	}
	return nil
}

// disposeLotsInTx consumes lots for the currency oldest-acquisition-first
// until the disposal amount is covered, returning the realized gain summed
// across every consumed segment:
//
//	realized = Σ (salePrice - lot.avgPrice) * takenFromLot
//
// The disposal is all-or-nothing: when the open lots cannot cover it, nothing
// is consumed and ErrInconsistentLotState is returned, because the balance
// gate already admitted the debit so the lots are out of step with the
// position. A currency with no lot rows at all (data predating lot tracking)
// is logged and tolerated; its history can still be reconstructed from the
// ledger for reporting.
func (s *Service) disposeLotsInTx(ctx context.Context, tx *gorm.DB, walletID uuid.UUID, currency string, amount decimal.Decimal, salePrice *decimal.Decimal) (decimal.Decimal, error) {
	lots, err := s.repo.GetOpenLotsInTx(ctx, tx, walletID, currency)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to load lots: %w", err)
	}

	if len(lots) == 0 {
		all, err := s.lotCount(ctx, tx, walletID, currency)
		if err != nil {
			return decimal.Zero, err
		}
		if all == 0 {
			s.logger.Warn("disposal against currency with no lot history",
				zap.String("wallet_id", walletID.String()),
				zap.String("currency", currency),
				zap.String("amount", amount.String()),
			)
			return decimal.Zero, nil
		}
	}

	total := decimal.Zero
	for _, lot := range lots {
		total = total.Add(lot.RemainingAmount)
	}
	if total.LessThan(amount) {
		metrics.ConsistencyMismatches.Inc()
		s.logger.Error("lot remainders cannot cover disposal",
			zap.String("wallet_id", walletID.String()),
			zap.String("currency", currency),
			zap.String("requested", amount.String()),
			zap.String("remaining", total.String()),
		)
		return decimal.Zero, interfaces.ErrInconsistentLotState
	}

	realized := decimal.Zero
	need := amount
	for _, lot := range lots {
		if !need.IsPositive() {
			break
		}
		take := decimal.Min(lot.RemainingAmount, need)
		lot.RemainingAmount = lot.RemainingAmount.Sub(take)
		need = need.Sub(take)

		if salePrice != nil {
			realized = realized.Add(salePrice.Sub(lot.AvgPrice).Mul(take))
		}

		if err := s.repo.SaveLotInTx(ctx, tx, lot); err != nil {
			return decimal.Zero, fmt.Errorf("failed to update lot: %w", err)
		}
		metrics.LotsConsumed.Inc()
	}

	return realized, nil
}

func (s *Service) lotCount(ctx context.Context, tx *gorm.DB, walletID uuid.UUID, currency string) (int64, error) {
	var count int64
	err := tx.WithContext(ctx).
		Model(&models.PositionLot{}).
		Where("wallet_id = ? AND currency = ?", walletID, currency).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count lots: %w", err)
	}
	return count, nil
}

// GetLots reports the user's lots for a currency with unrealized gains
// against the current market price. When no persisted lots exist the report
// falls back to a read-only reconstruction from the buy/sell ledger; nothing
// is ever written back, so absent history is never fabricated into rows.
func (s *Service) GetLots(ctx context.Context, userID uuid.UUID, currency string) ([]interfaces.LotView, error) {
	if currency == "" {
		return nil, interfaces.ErrInvalidAsset
	}

	account, err := s.repo.GetAccountByUserID(ctx, userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, interfaces.ErrUnknownAccount
		}
		return nil, fmt.Errorf("failed to find account: %w", err)
	}

	currentPrice := s.lookupPrice(ctx, currency)

	wallets, err := s.repo.GetWalletsByAccount(ctx, account.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load wallets: %w", err)
	}

	var views []interfaces.LotView
	for _, wallet := range wallets {
		lots, err := s.repo.GetLots(ctx, wallet.ID, currency)
		if err != nil {
			return nil, fmt.Errorf("failed to load lots: %w", err)
		}
		for _, lot := range lots {
			views = append(views, interfaces.LotView{
				LotID:           lot.ID,
				Currency:        lot.Currency,
				OriginalAmount:  lot.OriginalAmount,
				RemainingAmount: lot.RemainingAmount,
				AvgPrice:        lot.AvgPrice,
				UnrealizedGain:  unrealizedGain(lot.RemainingAmount, lot.AvgPrice, currentPrice),
				AcquiredAt:      lot.CreatedAt,
			})
		}
	}

	if len(views) > 0 {
		return views, nil
	}

	entries, err := s.repo.GetLedgerEntriesChronological(ctx, userID, currency)
	if err != nil {
		return nil, fmt.Errorf("failed to load ledger for reconstruction: %w", err)
	}
	return reconstructLots(entries, currentPrice), nil
}

// reconstructLots rebuilds lot state from the raw ledger: every positive
// entry becomes a synthetic acquisition lot in chronological order and every
// negative entry is replayed against them FIFO. Purely derived; the synthetic
// lots carry no row IDs.
func reconstructLots(entries []*models.LedgerEntry, currentPrice decimal.Decimal) []interfaces.LotView {
	var lots []interfaces.LotView
	for _, entry := range entries {
		if entry.Amount.IsPositive() {
			lots = append(lots, interfaces.LotView{
				Currency:        entry.Asset,
				OriginalAmount:  entry.Amount,
				RemainingAmount: entry.Amount,
				AvgPrice:        entry.PriceAt,
				AcquiredAt:      entry.CreatedAt,
				Reconstructed:   true,
			})
			continue
		}
		if entry.Amount.IsZero() {
			continue
		}

		need := entry.Amount.Neg()
		for i := range lots {
			if !need.IsPositive() {
				break
			}
			take := decimal.Min(lots[i].RemainingAmount, need)
			lots[i].RemainingAmount = lots[i].RemainingAmount.Sub(take)
			need = need.Sub(take)
		}
	}

	for i := range lots {
		lots[i].UnrealizedGain = unrealizedGain(lots[i].RemainingAmount, lots[i].AvgPrice, currentPrice)
	}
	return lots
}

// unrealizedGain is the paper gain on a still-held lot remainder:
// (currentPrice - avgPrice) * remaining
func unrealizedGain(remaining, avgPrice, currentPrice decimal.Decimal) decimal.Decimal {
	return currentPrice.Sub(avgPrice).Mul(remaining)
}

// lookupPrice resolves the current price, substituting zero when the price
// collaborator has no quote or is unreachable
func (s *Service) lookupPrice(ctx context.Context, symbol string) decimal.Decimal {
	if s.prices == nil {
		return decimal.Zero
	}
	price, err := s.prices.GetMarketPrice(ctx, symbol)
	if err != nil {
		if !errors.Is(err, interfaces.ErrPriceUnavailable) {
			s.logger.Warn("price lookup failed",
				zap.String("symbol", symbol),
				zap.Error(err),
			)
		}
		return decimal.Zero
	}
	return price.Price
}
