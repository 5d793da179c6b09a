package services

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coinpulse/walletcore/internal/wallet/interfaces"
	"github.com/coinpulse/walletcore/pkg/models"
)

func TestGetLotsReportsUnrealizedGains(t *testing.T) {
	svc, prices, _ := setupTestService(t)
	ctx := context.Background()
	userID := uuid.New()
	seedCash(t, svc, userID, "1000")

	_, err := svc.Buy(ctx, userID, "BTC", dec("1"), dec("100"))
	require.NoError(t, err)
	_, err = svc.Buy(ctx, userID, "BTC", dec("1"), dec("200"))
	require.NoError(t, err)
	_, err = svc.Sell(ctx, userID, "BTC", dec("0.5"), dec("250"))
	require.NoError(t, err)

	prices.set("BTC", 300, 0)

	lots, err := svc.GetLots(ctx, userID, "BTC")
	require.NoError(t, err)
	require.Len(t, lots, 2)

	assert.False(t, lots[0].Reconstructed)
	assert.True(t, lots[0].RemainingAmount.Equal(dec("0.5")))
	// (300-100)*0.5
	assert.True(t, lots[0].UnrealizedGain.Equal(dec("100")), "got %s", lots[0].UnrealizedGain)
	assert.True(t, lots[1].RemainingAmount.Equal(dec("1")))
	// (300-200)*1
	assert.True(t, lots[1].UnrealizedGain.Equal(dec("100")))
}

func TestGetLotsWithoutPriceUsesZero(t *testing.T) {
	svc, _, _ := setupTestService(t)
	ctx := context.Background()
	userID := uuid.New()
	seedCash(t, svc, userID, "1000")

	_, err := svc.Buy(ctx, userID, "BTC", dec("1"), dec("100"))
	require.NoError(t, err)

	lots, err := svc.GetLots(ctx, userID, "BTC")
	require.NoError(t, err)
	require.Len(t, lots, 1)
	// No quote: unrealized gain computed against zero
	assert.True(t, lots[0].UnrealizedGain.Equal(dec("-100")))
}

func TestGetLotsReconstructsFromLedger(t *testing.T) {
	svc, prices, _ := setupTestService(t)
	ctx := context.Background()
	userID := uuid.New()

	accountID, _, err := svc.ensureProvisioned(ctx, userID)
	require.NoError(t, err)

	// Ledger history with no lot rows, as left behind by data predating lot
	// tracking: +2 @100, +1 @200, -1.5
	base := time.Now().Add(-time.Hour)
	for i, row := range []struct {
		amount string
		price  string
		typ    string
	}{
		{"2", "100", models.EntryTypeBuy},
		{"1", "200", models.EntryTypeBuy},
		{"-1.5", "250", models.EntryTypeSell},
	} {
		entry := &models.LedgerEntry{
			ID:        uuid.New(),
			AccountID: accountID,
			UserID:    userID,
			Asset:     "DOT",
			Amount:    dec(row.amount),
			Type:      row.typ,
			Status:    models.EntryStatusCompleted,
			PriceAt:   dec(row.price),
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}
		require.NoError(t, svc.db.Create(entry).Error)
	}

	prices.set("DOT", 300, 0)

	lots, err := svc.GetLots(ctx, userID, "DOT")
	require.NoError(t, err)
	require.Len(t, lots, 2)

	// FIFO replay: the -1.5 exhausts the first synthetic lot and takes no
	// more than the overflow from the second
	assert.True(t, lots[0].Reconstructed)
	assert.True(t, lots[0].RemainingAmount.Equal(dec("0.5")), "got %s", lots[0].RemainingAmount)
	assert.True(t, lots[0].AvgPrice.Equal(dec("100")))
	assert.True(t, lots[1].RemainingAmount.Equal(dec("1")))
	assert.Zero(t, lots[0].LotID)
}

func TestDisposalWithoutLotHistoryIsTolerated(t *testing.T) {
	svc, _, _ := setupTestService(t)
	ctx := context.Background()
	userID := uuid.New()
	seedCash(t, svc, userID, "100")

	_, walletID, err := svc.ensureProvisioned(ctx, userID)
	require.NoError(t, err)

	// Position row without lot rows: legacy data
	require.NoError(t, svc.db.Create(&models.Position{
		ID:        uuid.New(),
		WalletID:  walletID,
		Currency:  "LTC",
		Amount:    dec("2"),
		AvgPrice:  decimal.Zero,
		UpdatedAt: time.Now(),
	}).Error)

	result, err := svc.Sell(ctx, userID, "LTC", dec("1"), dec("80"))
	require.NoError(t, err)
	assert.True(t, result.RealizedGain.IsZero())
	assert.True(t, result.NewPosition.Equal(dec("1")))
	assert.True(t, cashBalance(t, svc, userID).Equal(dec("180")))
}

func TestDisposalExceedingLotRemaindersFailsWhole(t *testing.T) {
	svc, _, _ := setupTestService(t)
	ctx := context.Background()
	userID := uuid.New()
	seedCash(t, svc, userID, "1000")

	_, err := svc.Buy(ctx, userID, "BTC", dec("2"), dec("100"))
	require.NoError(t, err)

	account, err := svc.repo.GetAccountByUserID(ctx, userID)
	require.NoError(t, err)
	positions, err := svc.repo.GetPositionsByAccount(ctx, account.ID)
	require.NoError(t, err)
	require.Len(t, positions, 1)
	walletID := positions[0].WalletID

	// Tamper with the lot so the remainders no longer cover the position
	require.NoError(t, svc.db.Model(&models.PositionLot{}).
		Where("wallet_id = ? AND currency = ?", walletID, "BTC").
		Update("remaining_amount", dec("0.5")).Error)

	_, err = svc.Sell(ctx, userID, "BTC", dec("1"), dec("100"))
	require.ErrorIs(t, err, interfaces.ErrInconsistentLotState)

	// All-or-nothing: the rejected disposal consumed nothing
	remaining, err := svc.repo.SumLotRemaining(ctx, walletID, "BTC")
	require.NoError(t, err)
	assert.True(t, remaining.Equal(dec("0.5")))
	assert.True(t, cashBalance(t, svc, userID).Equal(dec("800")))

	pos, err := svc.repo.GetPositionInTx(ctx, svc.db, walletID, "BTC")
	require.NoError(t, err)
	assert.True(t, pos.Amount.Equal(dec("2")))
}
