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

var oneHundred = decimal.NewFromInt(100)

// GetBalances returns the cash balance and all positions for the user
func (s *Service) GetBalances(ctx context.Context, userID uuid.UUID) (*interfaces.BalanceResponse, error) {
	if s.cache != nil {
		if cached, err := s.cache.GetBalances(ctx, userID); err == nil && cached != nil {
			return cached, nil
		}
	}

	account, err := s.repo.GetAccountByUserID(ctx, userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, interfaces.ErrUnknownAccount
		}
		return nil, fmt.Errorf("failed to find account: %w", err)
	}

	positions, err := s.repo.GetPositionsByAccount(ctx, account.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load positions: %w", err)
	}

	resp := &interfaces.BalanceResponse{
		UserID: userID,
		Cash: interfaces.CashBalance{
			Currency:  s.config.CashCurrency,
			Available: account.Available,
			Locked:    account.Locked,
		},
		Positions: positions,
		UpdatedAt: time.Now(),
	}

	if s.cache != nil {
		if err := s.cache.SetBalances(ctx, userID, resp, s.config.BalanceCacheTTL); err != nil {
			s.logger.Warn("failed to cache balances", zap.Error(err))
		}
	}

	return resp, nil
}

// GetTransactions returns the user's ledger history, newest first
func (s *Service) GetTransactions(ctx context.Context, userID uuid.UUID, asset string, limit, offset int) ([]*models.LedgerEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	if limit > 500 {
		limit = 500
	}
	if offset < 0 {
		offset = 0
	}
	return s.repo.GetLedgerEntries(ctx, userID, asset, limit, offset)
}

// Summarize rolls up every position under the user's account into a
// portfolio summary. Positions of the same currency across wallets are
// grouped with an amount-weighted blended average price. Price lookups are
// partial-failure tolerant: an unavailable quote contributes zero value and
// zero 24h change instead of failing the summary. Monetary outputs are
// rounded to 2 decimal places; internal math keeps full precision.
func (s *Service) Summarize(ctx context.Context, userID uuid.UUID) (*interfaces.PortfolioSummary, error) {
	account, err := s.repo.GetAccountByUserID(ctx, userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, interfaces.ErrUnknownAccount
		}
		return nil, fmt.Errorf("failed to find account: %w", err)
	}

	positions, err := s.repo.GetPositionsByAccount(ctx, account.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load positions: %w", err)
	}

	type group struct {
		amount   decimal.Decimal
		avgPrice decimal.Decimal
	}
	groups := make(map[string]*group)
	var order []string
	for _, pos := range positions {
		g, ok := groups[pos.Currency]
		if !ok {
			groups[pos.Currency] = &group{amount: pos.Amount, avgPrice: pos.AvgPrice}
			order = append(order, pos.Currency)
			continue
		}
		g.avgPrice = weightedAvgPrice(g.amount, g.avgPrice, pos.Amount, pos.AvgPrice)
		g.amount = g.amount.Add(pos.Amount)
	}

	summary := &interfaces.PortfolioSummary{
		Holdings:    make([]interfaces.HoldingSummary, 0, len(order)),
		GeneratedAt: time.Now(),
	}

	bestGain := decimal.Zero
	bestGainCurrency := ""
	bestChange := decimal.Zero
	bestChangeCurrency := ""

	totalValue := decimal.Zero
	totalCost := decimal.Zero
	dayChange := decimal.Zero

	for _, currency := range order {
		g := groups[currency]

		price, change, available := s.lookupPriceAndChange(ctx, currency)

		value := g.amount.Mul(price)
		cost := g.amount.Mul(g.avgPrice)

		gainPercent := decimal.Zero
		if available && g.avgPrice.IsPositive() {
			gainPercent = price.Sub(g.avgPrice).Div(g.avgPrice).Mul(oneHundred)
		}

		holdingDayChange := value.Mul(change).Div(oneHundred)

		totalValue = totalValue.Add(value)
		totalCost = totalCost.Add(cost)
		dayChange = dayChange.Add(holdingDayChange)

		if gainPercent.GreaterThan(bestGain) {
			bestGain = gainPercent
			bestGainCurrency = currency
		}
		if bestChangeCurrency == "" || change.GreaterThan(bestChange) {
			bestChange = change
			bestChangeCurrency = currency
		}

		summary.Holdings = append(summary.Holdings, interfaces.HoldingSummary{
			Currency:       currency,
			Amount:         g.amount,
			AvgPrice:       g.avgPrice,
			CurrentPrice:   price,
			Value:          value.Round(2),
			Cost:           cost.Round(2),
			GainPercent:    gainPercent.Round(2),
			Change24h:      change,
			PriceAvailable: available,
		})
	}

	summary.TotalValue = totalValue.Round(2)
	summary.TotalCost = totalCost.Round(2)
	summary.DayChange = dayChange.Round(2)

	if totalCost.IsPositive() {
		summary.ROIPercent = totalValue.Sub(totalCost).Div(totalCost).Mul(oneHundred).Round(2)
	}
	if totalValue.IsPositive() {
		prevValue := totalValue.Sub(dayChange)
		if prevValue.IsPositive() {
			summary.DayChangePercent = dayChange.Div(prevValue).Mul(oneHundred).Round(2)
		}
	}

	// Best performer: highest gain since purchase, falling back to the
	// highest 24h change when no currency shows a gain
	if bestGainCurrency != "" && bestGain.IsPositive() {
		summary.BestPerformer = bestGainCurrency
	} else {
		summary.BestPerformer = bestChangeCurrency
	}

	return summary, nil
}

// lookupPriceAndChange resolves price and 24h change, substituting zeros on
// unavailability
func (s *Service) lookupPriceAndChange(ctx context.Context, symbol string) (price, change decimal.Decimal, available bool) {
	if s.prices == nil {
		return decimal.Zero, decimal.Zero, false
	}
	mp, err := s.prices.GetMarketPrice(ctx, symbol)
	if err != nil {
		if !errors.Is(err, interfaces.ErrPriceUnavailable) {
			s.logger.Warn("price lookup failed",
				zap.String("symbol", symbol),
				zap.Error(err),
			)
		}
		return decimal.Zero, decimal.Zero, false
	}
	return mp.Price, mp.Change24h, true
}
