package services

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coinpulse/walletcore/internal/wallet/interfaces"
	"github.com/coinpulse/walletcore/pkg/models"
)

func TestBuyAveragesPositionAcrossAcquisitions(t *testing.T) {
	svc, _, _ := setupTestService(t)
	ctx := context.Background()
	userID := uuid.New()
	seedCash(t, svc, userID, "1000")

	first, err := svc.Buy(ctx, userID, "BTC", dec("1"), dec("100"))
	require.NoError(t, err)
	assert.True(t, first.NewPosition.Equal(dec("1")))
	assert.True(t, first.NewAvgPrice.Equal(dec("100")))
	assert.True(t, first.CashDelta.Equal(dec("-100")))

	second, err := svc.Buy(ctx, userID, "BTC", dec("1"), dec("200"))
	require.NoError(t, err)
	assert.True(t, second.NewPosition.Equal(dec("2")))
	assert.True(t, second.NewAvgPrice.Equal(dec("150")), "got %s", second.NewAvgPrice)

	assert.True(t, cashBalance(t, svc, userID).Equal(dec("700")))

	entries, err := svc.GetTransactions(ctx, userID, "BTC", 10, 0)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, models.EntryTypeBuy, entries[0].Type)
	assert.True(t, entries[0].PriceAt.Equal(dec("200")))
}

func TestSellConsumesLotsOldestFirst(t *testing.T) {
	svc, _, _ := setupTestService(t)
	ctx := context.Background()
	userID := uuid.New()
	seedCash(t, svc, userID, "1000")

	_, err := svc.Buy(ctx, userID, "BTC", dec("1"), dec("100"))
	require.NoError(t, err)
	_, err = svc.Buy(ctx, userID, "BTC", dec("1"), dec("200"))
	require.NoError(t, err)

	// Disposal spans the whole first lot and half the second:
	// realized = (300-100)*1 + (300-200)*0.5 = 250
	result, err := svc.Sell(ctx, userID, "BTC", dec("1.5"), dec("300"))
	require.NoError(t, err)
	assert.True(t, result.RealizedGain.Equal(dec("250")), "got %s", result.RealizedGain)
	assert.True(t, result.CashDelta.Equal(dec("450")))
	assert.True(t, result.NewPosition.Equal(dec("0.5")))
	// Disposals leave the average price untouched
	assert.True(t, result.NewAvgPrice.Equal(dec("150")))

	account, err := svc.repo.GetAccountByUserID(ctx, userID)
	require.NoError(t, err)
	positions, err := svc.repo.GetPositionsByAccount(ctx, account.ID)
	require.NoError(t, err)
	require.Len(t, positions, 1)

	lots, err := svc.repo.GetLots(ctx, positions[0].WalletID, "BTC")
	require.NoError(t, err)
	require.Len(t, lots, 2)
	assert.True(t, lots[0].RemainingAmount.IsZero(), "first lot should be exhausted, got %s", lots[0].RemainingAmount)
	assert.True(t, lots[1].RemainingAmount.Equal(dec("0.5")), "got %s", lots[1].RemainingAmount)

	// Cash: 1000 - 100 - 200 + 450
	assert.True(t, cashBalance(t, svc, userID).Equal(dec("1150")))

	entries, err := svc.GetTransactions(ctx, userID, "BTC", 10, 0)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, models.EntryTypeSell, entries[0].Type)
	assert.True(t, entries[0].Amount.Equal(dec("-1.5")))
	assert.True(t, entries[0].RealizedGain.Equal(dec("250")))
}

func TestBuyInsufficientCashRollsBackEverything(t *testing.T) {
	svc, _, events := setupTestService(t)
	ctx := context.Background()
	userID := uuid.New()
	seedCash(t, svc, userID, "50")

	_, err := svc.Buy(ctx, userID, "BTC", dec("1"), dec("100"))
	require.ErrorIs(t, err, interfaces.ErrInsufficientFunds)

	assert.True(t, cashBalance(t, svc, userID).Equal(dec("50")))

	account, err := svc.repo.GetAccountByUserID(ctx, userID)
	require.NoError(t, err)
	positions, err := svc.repo.GetPositionsByAccount(ctx, account.ID)
	require.NoError(t, err)
	assert.Empty(t, positions)

	entries, err := svc.GetTransactions(ctx, userID, "", 10, 0)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
	assert.Equal(t, 1, events.count())
}

func TestSellMoreThanHeld(t *testing.T) {
	svc, _, _ := setupTestService(t)
	ctx := context.Background()
	userID := uuid.New()
	seedCash(t, svc, userID, "1000")

	_, err := svc.Buy(ctx, userID, "BTC", dec("1"), dec("100"))
	require.NoError(t, err)

	_, err = svc.Sell(ctx, userID, "BTC", dec("2"), dec("100"))
	require.ErrorIs(t, err, interfaces.ErrInsufficientFunds)

	// Holding and cash unchanged by the rejected disposal
	assert.True(t, cashBalance(t, svc, userID).Equal(dec("900")))
}

func TestSellWithoutAccount(t *testing.T) {
	svc, _, _ := setupTestService(t)

	_, err := svc.Sell(context.Background(), uuid.New(), "BTC", dec("1"), dec("100"))
	assert.ErrorIs(t, err, interfaces.ErrUnknownAccount)
}

func TestTradeValidation(t *testing.T) {
	svc, _, _ := setupTestService(t)
	ctx := context.Background()
	userID := uuid.New()

	_, err := svc.Buy(ctx, userID, "", dec("1"), dec("100"))
	assert.ErrorIs(t, err, interfaces.ErrInvalidAsset)

	// The cash currency cannot be traded against itself
	_, err = svc.Buy(ctx, userID, "USD", dec("1"), dec("1"))
	assert.ErrorIs(t, err, interfaces.ErrInvalidAsset)

	_, err = svc.Buy(ctx, userID, "BTC", dec("0"), dec("100"))
	assert.Error(t, err)

	_, err = svc.Sell(ctx, userID, "BTC", dec("1"), dec("-5"))
	assert.Error(t, err)
}

func TestLedgerFailureRollsBackTradeLegs(t *testing.T) {
	svc, _, _ := setupTestService(t)
	ctx := context.Background()
	userID := uuid.New()
	seedCash(t, svc, userID, "1000")

	// Force the ledger append to fail mid-transaction; both trade legs must
	// roll back with it
	require.NoError(t, svc.db.Migrator().DropTable(&models.LedgerEntry{}))

	_, err := svc.Buy(ctx, userID, "BTC", dec("1"), dec("100"))
	require.Error(t, err)

	require.NoError(t, svc.db.Migrator().CreateTable(&models.LedgerEntry{}))

	assert.True(t, cashBalance(t, svc, userID).Equal(dec("1000")), "cash leg leaked despite ledger failure")

	account, err := svc.repo.GetAccountByUserID(ctx, userID)
	require.NoError(t, err)
	positions, err := svc.repo.GetPositionsByAccount(ctx, account.ID)
	require.NoError(t, err)
	assert.Empty(t, positions, "position leg leaked despite ledger failure")
}

func TestRealizedGainMatchesProceedsMinusBasis(t *testing.T) {
	svc, _, _ := setupTestService(t)
	ctx := context.Background()
	userID := uuid.New()
	seedCash(t, svc, userID, "10000")

	_, err := svc.Buy(ctx, userID, "ETH", dec("3"), dec("1000"))
	require.NoError(t, err)
	_, err = svc.Buy(ctx, userID, "ETH", dec("2"), dec("1500"))
	require.NoError(t, err)

	result, err := svc.Sell(ctx, userID, "ETH", dec("4"), dec("1200"))
	require.NoError(t, err)

	// proceeds 4*1200 = 4800, basis 3*1000 + 1*1500 = 4500
	assert.True(t, result.RealizedGain.Equal(dec("300")), "got %s", result.RealizedGain)
	assert.True(t, result.RealizedGain.Equal(result.CashDelta.Sub(dec("4500"))))
}
